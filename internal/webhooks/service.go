/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/capsuleworks/pilotwatch/internal/events"
	"github.com/capsuleworks/pilotwatch/internal/models"
	"github.com/capsuleworks/pilotwatch/internal/telemetry"
	"github.com/capsuleworks/pilotwatch/internal/training"
)

// Event names carried in webhook payloads.
const (
	EventSkillsCompleted = "skills_completed"
	EventQueueUpdated    = "queue_updated"
)

// SkillPayload is one completed queue entry in the webhook payload.
type SkillPayload struct {
	SkillTypeID int64     `json:"skill_type_id"`
	SkillName   string    `json:"skill_name,omitempty"`
	Level       int       `json:"level"`
	EndedAt     time.Time `json:"ended_at"`
}

// WebhookPayload is the payload sent to webhook endpoints.
type WebhookPayload struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	PilotID   string         `json:"pilot_id"`
	PilotName string         `json:"pilot_name,omitempty"`
	Completed []SkillPayload `json:"completed,omitempty"`
	Remaining int            `json:"remaining"`
}

// Service delivers signed webhook notifications for queue events.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
	client *http.Client
}

// NewService creates a new webhook service.
func NewService(database *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     database,
		bus:    bus,
		logger: logger.With().Str("component", "webhooks").Logger(),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Start begins listening for events to trigger webhooks.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("webhook service starting")

	completedSub := s.bus.Subscribe(events.EventSkillsCompleted)
	defer s.bus.Unsubscribe(events.EventSkillsCompleted, completedSub)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("webhook service stopping")
			return
		case payload := <-completedSub:
			s.handleSkillsCompleted(ctx, payload)
		}
	}
}

func (s *Service) handleSkillsCompleted(ctx context.Context, payload events.Payload) {
	pilotID, _ := payload["pilot_id"].(string)
	pilotName, _ := payload["pilot_name"].(string)
	completed, _ := payload["completed"].([]*training.QueuedSkill)
	remaining, _ := payload["remaining"].(int)
	if pilotID == "" || len(completed) == 0 {
		return
	}

	var pilot models.Pilot
	if err := s.db.WithContext(ctx).First(&pilot, "id = ?", pilotID).Error; err != nil {
		s.logger.Warn().Err(err).Str("pilot", pilotID).Msg("webhook event for unknown pilot")
		return
	}

	var targets []models.WebhookTarget
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND enabled = ?", pilot.UserID, true).
		Find(&targets).Error; err != nil {
		s.logger.Error().Err(err).Str("pilot", pilotID).Msg("failed to fetch webhook targets")
		return
	}
	if len(targets) == 0 {
		return
	}

	body := WebhookPayload{
		Event:     EventSkillsCompleted,
		Timestamp: time.Now().UTC(),
		PilotID:   pilot.ID,
		PilotName: pilotName,
		Remaining: remaining,
	}
	for _, entry := range completed {
		body.Completed = append(body.Completed, SkillPayload{
			SkillTypeID: entry.SkillTypeID,
			SkillName:   entry.SkillName,
			Level:       entry.Level,
			EndedAt:     entry.EndsAt,
		})
	}

	for _, target := range targets {
		go s.deliver(ctx, target, body)
	}
}

// deliver posts one signed payload and records the attempt.
func (s *Service) deliver(ctx context.Context, target models.WebhookTarget, payload WebhookPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal webhook payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(data))
	if err != nil {
		s.recordDelivery(target, payload.Event, 0, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pilotwatch-Event", payload.Event)
	if target.Secret != "" {
		req.Header.Set("X-Pilotwatch-Signature", Sign(target.Secret, data))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		telemetry.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
		s.recordDelivery(target, payload.Event, 0, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		telemetry.WebhookDeliveriesTotal.WithLabelValues("ok").Inc()
		s.recordDelivery(target, payload.Event, resp.StatusCode, nil)
		return
	}

	telemetry.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
	s.recordDelivery(target, payload.Event, resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode))
}

func (s *Service) recordDelivery(target models.WebhookTarget, event string, status int, err error) {
	entry := models.WebhookLog{
		ID:         uuid.NewString(),
		TargetID:   target.ID,
		Event:      event,
		StatusCode: status,
		CreatedAt:  time.Now(),
	}
	if err != nil {
		entry.Error = err.Error()
		s.logger.Warn().Err(err).Str("url", target.URL).Msg("webhook delivery failed")
	}
	if dbErr := s.db.Create(&entry).Error; dbErr != nil {
		s.logger.Error().Err(dbErr).Msg("failed to record webhook delivery")
	}
}

// Sign computes the hex HMAC-SHA256 signature receivers use to verify a
// payload.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
