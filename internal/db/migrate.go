/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/capsuleworks/pilotwatch/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.User{},
		&models.APIKey{},

		&models.Pilot{},
		&models.Skill{},
		&models.PilotSkill{},

		&models.NotificationPreference{},
		&models.Notification{},

		&models.WebhookTarget{},
		&models.WebhookLog{},

		&models.AuditLog{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
