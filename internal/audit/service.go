/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/capsuleworks/pilotwatch/internal/events"
	"github.com/capsuleworks/pilotwatch/internal/models"
)

// Service handles audit logging by subscribing to events and storing audit entries.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Start subscribes to relevant events and logs them as audit entries.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("audit service starting")

	apiKeyCreate := s.bus.Subscribe(events.EventAuditAPIKeyCreate)
	apiKeyRevoke := s.bus.Subscribe(events.EventAuditAPIKeyRevoke)
	pilotCreate := s.bus.Subscribe(events.EventAuditPilotCreate)
	pilotDelete := s.bus.Subscribe(events.EventAuditPilotDelete)
	pilotUpdate := s.bus.Subscribe(events.EventPilotUpdated)

	defer func() {
		s.bus.Unsubscribe(events.EventAuditAPIKeyCreate, apiKeyCreate)
		s.bus.Unsubscribe(events.EventAuditAPIKeyRevoke, apiKeyRevoke)
		s.bus.Unsubscribe(events.EventAuditPilotCreate, pilotCreate)
		s.bus.Unsubscribe(events.EventAuditPilotDelete, pilotDelete)
		s.bus.Unsubscribe(events.EventPilotUpdated, pilotUpdate)
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			return
		case payload := <-apiKeyCreate:
			s.logEntry(ctx, models.AuditActionAPIKeyCreate, payload)
		case payload := <-apiKeyRevoke:
			s.logEntry(ctx, models.AuditActionAPIKeyRevoke, payload)
		case payload := <-pilotCreate:
			s.logEntry(ctx, models.AuditActionPilotCreate, payload)
		case payload := <-pilotDelete:
			s.logEntry(ctx, models.AuditActionPilotDelete, payload)
		case payload := <-pilotUpdate:
			s.logEntry(ctx, models.AuditActionPilotUpdate, payload)
		}
	}
}

func (s *Service) logEntry(ctx context.Context, action models.AuditAction, payload events.Payload) {
	entry := models.AuditLog{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Details:   map[string]any(payload),
	}
	if userID, ok := payload["user_id"].(string); ok && userID != "" {
		entry.UserID = &userID
	}
	if pilotID, ok := payload["pilot_id"].(string); ok {
		entry.PilotID = pilotID
	}

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logger.Error().Err(err).Str("action", string(action)).Msg("failed to store audit entry")
		return
	}
	s.logger.Debug().Str("action", string(action)).Msg("audit entry recorded")
}

// Recent returns the newest audit entries, most recent first.
func (s *Service) Recent(ctx context.Context, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []models.AuditLog
	err := s.db.WithContext(ctx).
		Order("timestamp DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
