/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package notifications

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/capsuleworks/pilotwatch/internal/events"
	"github.com/capsuleworks/pilotwatch/internal/models"
	"github.com/capsuleworks/pilotwatch/internal/training"
)

// Config holds notification service configuration.
type Config struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	// SMTPTimeout bounds the whole delivery (dial through QUIT). Alerts run
	// synchronously under the training monitor's tick, so a hung SMTP server
	// must never stall the monitor indefinitely.
	SMTPTimeout time.Duration
}

// ConfigFromEnv loads configuration from environment variables.
func ConfigFromEnv() Config {
	port, _ := strconv.Atoi(getEnv("PILOTWATCH_SMTP_PORT", "587"))
	timeout, _ := strconv.Atoi(getEnv("PILOTWATCH_SMTP_TIMEOUT_SECONDS", "15"))

	return Config{
		SMTPHost:     getEnv("PILOTWATCH_SMTP_HOST", ""),
		SMTPPort:     port,
		SMTPUsername: getEnv("PILOTWATCH_SMTP_USERNAME", ""),
		SMTPPassword: getEnv("PILOTWATCH_SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("PILOTWATCH_SMTP_FROM", "noreply@example.com"),
		SMTPFromName: getEnv("PILOTWATCH_SMTP_FROM_NAME", "Pilotwatch"),
		SMTPTimeout:  time.Duration(timeout) * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Service handles notification delivery. It doubles as the training queue's
// alerter: the monitor calls Alert synchronously for every retired entry.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	config Config
	logger zerolog.Logger
}

// NewService creates a new notification service.
func NewService(database *gorm.DB, bus *events.Bus, config Config, logger zerolog.Logger) *Service {
	return &Service{
		db:     database,
		bus:    bus,
		config: config,
		logger: logger.With().Str("component", "notifications").Logger(),
	}
}

// Alert sends the per-skill completion email for one retired queue entry.
// remaining is the queue content left after the retirement, used to tell the
// owner what trains next. Returns an error only when a delivery that should
// have happened failed; a missing or opted-out owner is not an error.
func (s *Service) Alert(ctx context.Context, pilot *models.Pilot, completed *training.QueuedSkill, remaining []*training.QueuedSkill) error {
	if pilot == nil || pilot.UserID == "" {
		return nil
	}

	var pref models.NotificationPreference
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND notification_type = ? AND channel = ? AND enabled = ?",
			pilot.UserID, models.NotificationTypeSkillCompleted, models.NotificationChannelEmail, true).
		First(&pref).Error
	if err != nil {
		// No enabled email preference: nothing to do.
		return nil
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", pilot.UserID).Error; err != nil {
		return fmt.Errorf("load pilot owner: %w", err)
	}

	subject := fmt.Sprintf("%s finished training %s", pilot.Name, describeEntry(completed))

	body := strings.Builder{}
	body.WriteString(fmt.Sprintf("%s has completed training %s.\r\n", pilot.Name, describeEntry(completed)))
	if len(remaining) > 0 {
		body.WriteString(fmt.Sprintf("\r\nNow training: %s, finishing %s.\r\n",
			describeEntry(remaining[0]), remaining[0].EndsAt.Format(time.RFC1123)))
		body.WriteString(fmt.Sprintf("%d more skill(s) queued.\r\n", len(remaining)-1))
	} else {
		body.WriteString("\r\nThe training queue is now empty.\r\n")
	}

	notification := &models.Notification{
		ID:               uuid.NewString(),
		UserID:           pilot.UserID,
		PilotID:          pilot.ID,
		NotificationType: models.NotificationTypeSkillCompleted,
		Channel:          models.NotificationChannelEmail,
		Subject:          subject,
		Body:             body.String(),
		Status:           models.NotificationStatusPending,
		Metadata: map[string]any{
			"skill_type_id": completed.SkillTypeID,
			"level":         completed.Level,
			"remaining":     len(remaining),
		},
		CreatedAt: time.Now(),
	}

	return s.Send(ctx, notification, &user)
}

// Start consumes batched queue events for in-app notifications until the
// context is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("notification service starting")

	completedSub := s.bus.Subscribe(events.EventSkillsCompleted)
	updatedSub := s.bus.Subscribe(events.EventQueueUpdated)

	defer func() {
		s.bus.Unsubscribe(events.EventSkillsCompleted, completedSub)
		s.bus.Unsubscribe(events.EventQueueUpdated, updatedSub)
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("notification service stopping")
			return

		case payload := <-completedSub:
			s.handleSkillsCompleted(ctx, payload)

		case payload := <-updatedSub:
			s.handleQueueUpdated(ctx, payload)
		}
	}
}

// handleSkillsCompleted stores one in-app notification per tick batch, no
// matter how many entries completed together.
func (s *Service) handleSkillsCompleted(ctx context.Context, payload events.Payload) {
	pilotID, _ := payload["pilot_id"].(string)
	pilotName, _ := payload["pilot_name"].(string)
	completed, _ := payload["completed"].([]*training.QueuedSkill)
	if pilotID == "" || len(completed) == 0 {
		return
	}

	var pilot models.Pilot
	if err := s.db.WithContext(ctx).First(&pilot, "id = ?", pilotID).Error; err != nil {
		s.logger.Warn().Err(err).Str("pilot", pilotID).Msg("completed batch for unknown pilot")
		return
	}

	var pref models.NotificationPreference
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND notification_type = ? AND channel = ? AND enabled = ?",
			pilot.UserID, models.NotificationTypeSkillCompleted, models.NotificationChannelInApp, true).
		First(&pref).Error
	if err != nil {
		return
	}

	names := make([]string, 0, len(completed))
	for _, entry := range completed {
		names = append(names, describeEntry(entry))
	}

	notification := &models.Notification{
		ID:               uuid.NewString(),
		UserID:           pilot.UserID,
		PilotID:          pilot.ID,
		NotificationType: models.NotificationTypeSkillCompleted,
		Channel:          models.NotificationChannelInApp,
		Subject:          fmt.Sprintf("%s completed %d skill(s)", pilotName, len(completed)),
		Body:             strings.Join(names, ", "),
		Status:           models.NotificationStatusPending,
		Metadata:         map[string]any{"count": len(completed)},
		CreatedAt:        time.Now(),
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", pilot.UserID).Error; err != nil {
		return
	}
	if err := s.Send(ctx, notification, &user); err != nil {
		s.logger.Warn().Err(err).Str("pilot", pilotID).Msg("in-app completion notification failed")
	}
}

// handleQueueUpdated notifies owners when an import left the queue paused.
func (s *Service) handleQueueUpdated(ctx context.Context, payload events.Payload) {
	paused, _ := payload["paused"].(bool)
	if !paused {
		return
	}
	pilotID, _ := payload["pilot_id"].(string)
	pilotName, _ := payload["pilot_name"].(string)
	if pilotID == "" {
		return
	}

	var pilot models.Pilot
	if err := s.db.WithContext(ctx).First(&pilot, "id = ?", pilotID).Error; err != nil {
		return
	}

	var pref models.NotificationPreference
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND notification_type = ? AND channel = ? AND enabled = ?",
			pilot.UserID, models.NotificationTypeQueuePaused, models.NotificationChannelInApp, true).
		First(&pref).Error
	if err != nil {
		return
	}

	// Only one pause notice per pause: skip if the latest stored pause
	// notification is unread.
	var existing int64
	s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("pilot_id = ? AND notification_type = ? AND read_at IS NULL",
			pilot.ID, models.NotificationTypeQueuePaused).
		Count(&existing)
	if existing > 0 {
		return
	}

	notification := &models.Notification{
		ID:               uuid.NewString(),
		UserID:           pilot.UserID,
		PilotID:          pilot.ID,
		NotificationType: models.NotificationTypeQueuePaused,
		Channel:          models.NotificationChannelInApp,
		Subject:          fmt.Sprintf("%s's training queue is paused", pilotName),
		Body:             "The upstream snapshot reported the training queue as paused. No skills are progressing.",
		Status:           models.NotificationStatusPending,
		CreatedAt:        time.Now(),
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", pilot.UserID).Error; err != nil {
		return
	}
	if err := s.Send(ctx, notification, &user); err != nil {
		s.logger.Warn().Err(err).Str("pilot", pilotID).Msg("pause notification failed")
	}
}

// Send delivers a notification via the configured channel.
func (s *Service) Send(ctx context.Context, notification *models.Notification, user *models.User) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}

	// Save notification first
	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		s.logger.Error().Err(err).Str("id", notification.ID).Msg("failed to save notification")
		return err
	}

	var err error
	switch notification.Channel {
	case models.NotificationChannelEmail:
		err = s.sendEmail(notification, user)
	case models.NotificationChannelInApp:
		// In-app notifications are already stored, mark as sent
		notification.Status = models.NotificationStatusSent
		now := time.Now()
		notification.SentAt = &now
	default:
		err = fmt.Errorf("unknown notification channel: %s", notification.Channel)
	}

	if err != nil {
		notification.Status = models.NotificationStatusFailed
		notification.Error = err.Error()
		s.logger.Error().Err(err).
			Str("id", notification.ID).
			Str("channel", string(notification.Channel)).
			Msg("failed to send notification")
	}

	s.db.WithContext(ctx).Model(notification).Updates(map[string]any{
		"status":  notification.Status,
		"sent_at": notification.SentAt,
		"error":   notification.Error,
	})

	return err
}

// sendEmail sends an email notification.
func (s *Service) sendEmail(notification *models.Notification, user *models.User) error {
	if s.config.SMTPHost == "" {
		return fmt.Errorf("SMTP not configured")
	}
	if user == nil || user.Email == "" {
		return fmt.Errorf("user has no email address")
	}

	from := s.config.SMTPFrom
	if s.config.SMTPFromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.SMTPFromName, s.config.SMTPFrom)
	}

	msg := strings.Builder{}
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", user.Email))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", notification.Subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(notification.Body)

	addr := fmt.Sprintf("%s:%d", s.config.SMTPHost, s.config.SMTPPort)
	var authn smtp.Auth
	if s.config.SMTPUsername != "" {
		authn = smtp.PlainAuth("", s.config.SMTPUsername, s.config.SMTPPassword, s.config.SMTPHost)
	}

	if err := s.deliver(addr, authn, user.Email, []byte(msg.String())); err != nil {
		return fmt.Errorf("SMTP send failed: %w", err)
	}

	notification.Status = models.NotificationStatusSent
	now := time.Now()
	notification.SentAt = &now

	s.logger.Info().
		Str("id", notification.ID).
		Str("to", user.Email).
		Str("subject", notification.Subject).
		Msg("email notification sent")

	return nil
}

// deliver speaks SMTP over a connection with a hard deadline covering the
// entire exchange. smtp.SendMail dials without a timeout; an unresponsive
// server would otherwise block the caller forever.
func (s *Service) deliver(addr string, authn smtp.Auth, to string, msg []byte) error {
	timeout := s.config.SMTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return fmt.Errorf("set deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.config.SMTPHost}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if authn != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(authn); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(s.config.SMTPFrom); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	return client.Quit()
}

func describeEntry(entry *training.QueuedSkill) string {
	name := entry.SkillName
	if name == "" {
		name = fmt.Sprintf("skill %d", entry.SkillTypeID)
	}
	return fmt.Sprintf("%s %s", name, levelNumeral(entry.Level))
}

func levelNumeral(level int) string {
	numerals := []string{"I", "II", "III", "IV", "V"}
	if level >= 1 && level <= len(numerals) {
		return numerals[level-1]
	}
	return strconv.Itoa(level)
}
