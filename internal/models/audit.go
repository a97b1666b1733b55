/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction enumerates recorded operations.
type AuditAction string

const (
	AuditActionAPIKeyCreate AuditAction = "apikey.create"
	AuditActionAPIKeyRevoke AuditAction = "apikey.revoke"
	AuditActionPilotCreate  AuditAction = "pilot.create"
	AuditActionPilotDelete  AuditAction = "pilot.delete"
	AuditActionPilotUpdate  AuditAction = "pilot.update"
)

// AuditLog records sensitive operations for later review.
type AuditLog struct {
	ID        string         `gorm:"type:uuid;primaryKey"`
	Timestamp time.Time      `gorm:"index:idx_audit_timestamp;not null"`
	UserID    *string        `gorm:"type:uuid;index:idx_audit_user"` // NULL for system actions
	Action    AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null"`
	PilotID   string         `gorm:"type:uuid"`
	Details   map[string]any `gorm:"type:jsonb;serializer:json"`
	CreatedAt time.Time
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}
