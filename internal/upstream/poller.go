/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package upstream

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/capsuleworks/pilotwatch/internal/events"
	"github.com/capsuleworks/pilotwatch/internal/models"
	"github.com/capsuleworks/pilotwatch/internal/telemetry"
	"github.com/capsuleworks/pilotwatch/internal/training"
)

// Poller periodically pulls queue snapshots for every monitored pilot and
// imports them into the training monitor. On startup it backfills all queues
// under the monitor's bulk-restore window so stale completions retire
// silently instead of firing an alert storm.
type Poller struct {
	db       *gorm.DB
	client   *Client
	monitor  *training.Monitor
	bus      *events.Bus
	alerter  training.Alerter
	logger   zerolog.Logger
	interval time.Duration

	// leaderCheck, when set, gates polling to the elected leader so only
	// one instance hits upstream in a clustered deployment.
	leaderCheck func() bool
}

// NewPoller creates a queue snapshot poller.
func NewPoller(database *gorm.DB, client *Client, monitor *training.Monitor, bus *events.Bus, alerter training.Alerter, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{
		db:       database,
		client:   client,
		monitor:  monitor,
		bus:      bus,
		alerter:  alerter,
		logger:   logger.With().Str("component", "poller").Logger(),
		interval: interval,
	}
}

// SetLeaderCheck restricts scheduled sweeps to the instance for which fn
// reports true. Manual per-pilot syncs are not gated.
func (p *Poller) SetLeaderCheck(fn func() bool) {
	p.leaderCheck = fn
}

// Run executes the poll loop until context cancellation.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().Dur("interval", p.interval).Msg("upstream poller started")

	p.monitor.SetBulkRestore(true)
	p.SyncAll(ctx)
	p.monitor.SetBulkRestore(false)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("upstream poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.SyncAll(ctx)
		}
	}
}

// SyncAll refreshes every monitored pilot's queue from upstream. A failure
// on one pilot does not stop the sweep.
func (p *Poller) SyncAll(ctx context.Context) {
	if p.leaderCheck != nil && !p.leaderCheck() {
		p.logger.Debug().Msg("not leader, skipping sweep")
		return
	}

	var pilots []models.Pilot
	if err := p.db.WithContext(ctx).Where("monitored = ?", true).Find(&pilots).Error; err != nil {
		p.logger.Error().Err(err).Msg("failed to list monitored pilots")
		return
	}

	for i := range pilots {
		if ctx.Err() != nil {
			return
		}
		if err := p.SyncPilot(ctx, &pilots[i]); err != nil {
			telemetry.QueueImportsTotal.WithLabelValues("error").Inc()
			p.logger.Warn().Err(err).Str("pilot", pilots[i].ID).Msg("queue sync failed")
			p.bus.Publish(events.EventUpstreamError, events.Payload{
				"pilot_id": pilots[i].ID,
				"error":    err.Error(),
			})
			continue
		}
		telemetry.QueueImportsTotal.WithLabelValues("ok").Inc()
	}
}

// SyncPilot fetches one pilot's snapshot and imports it, attaching a queue
// to the monitor if the pilot has none yet.
func (p *Poller) SyncPilot(ctx context.Context, pilot *models.Pilot) error {
	entries, err := p.client.FetchQueue(ctx, pilot.GameID)
	if err != nil {
		return err
	}

	rows, err := p.resolveRows(ctx, pilot, entries)
	if err != nil {
		return err
	}

	imported := p.monitor.WithQueue(pilot.ID, func(q *training.Queue) {
		q.Import(rows)
	})
	if !imported {
		q := training.NewQueue(pilot, p.bus, p.alerter, p.logger)
		q.Import(rows)
		p.monitor.Attach(pilot.ID, q)
	}

	now := time.Now().UTC()
	if err := p.db.WithContext(ctx).Model(pilot).Update("last_seen", now).Error; err != nil {
		p.logger.Warn().Err(err).Str("pilot", pilot.ID).Msg("failed to update last_seen")
	}
	return nil
}

// RecordCompletions persists trained-level changes whenever a tick retires
// queue entries. Runs until context cancellation; meant to be started
// alongside Run.
func (p *Poller) RecordCompletions(ctx context.Context) {
	sub := p.bus.Subscribe(events.EventSkillsCompleted)
	defer p.bus.Unsubscribe(events.EventSkillsCompleted, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-sub:
			completed, _ := payload["completed"].([]*training.QueuedSkill)
			for _, entry := range completed {
				skill, ok := entry.Skill().(*models.PilotSkill)
				if !ok || skill == nil {
					continue
				}
				if err := p.db.Save(skill).Error; err != nil {
					p.logger.Error().Err(err).
						Int64("skill_type_id", entry.SkillTypeID).
						Msg("failed to persist completion")
				}
			}
		}
	}
}

// resolveRows maps upstream entries onto snapshot rows, resolving each row's
// skill record so queue retirement can flip trained levels. Skill names come
// from the static catalogue; unknown types keep an empty name.
func (p *Poller) resolveRows(ctx context.Context, pilot *models.Pilot, entries []QueueEntry) ([]training.SnapshotRow, error) {
	rows := make([]training.SnapshotRow, 0, len(entries))
	for _, entry := range entries {
		skill, err := p.pilotSkill(ctx, pilot, entry)
		if err != nil {
			return nil, err
		}

		var name string
		var catalogue models.Skill
		if err := p.db.WithContext(ctx).First(&catalogue, "type_id = ?", entry.SkillTypeID).Error; err == nil {
			name = catalogue.Name
		}

		rows = append(rows, training.SnapshotRow{
			SkillTypeID: entry.SkillTypeID,
			SkillName:   name,
			Level:       entry.QueuedLevel,
			Duration:    entry.Duration(),
			StartsAt:    entry.StartsAt,
			EndsAt:      entry.EndsAt,
			Skill:       skill,
		})
	}
	return rows, nil
}

func (p *Poller) pilotSkill(ctx context.Context, pilot *models.Pilot, entry QueueEntry) (*models.PilotSkill, error) {
	var skill models.PilotSkill
	err := p.db.WithContext(ctx).
		Where("pilot_id = ? AND skill_type_id = ?", pilot.ID, entry.SkillTypeID).
		First(&skill).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		skill = models.PilotSkill{
			ID:          uuid.NewString(),
			PilotID:     pilot.ID,
			SkillTypeID: entry.SkillTypeID,
			QueuedLevel: entry.QueuedLevel,
		}
		if err := p.db.WithContext(ctx).Create(&skill).Error; err != nil {
			return nil, err
		}
		return &skill, nil
	}
	if err != nil {
		return nil, err
	}
	if entry.QueuedLevel > skill.QueuedLevel {
		skill.QueuedLevel = entry.QueuedLevel
		if err := p.db.WithContext(ctx).Model(&skill).Update("queued_level", skill.QueuedLevel).Error; err != nil {
			return nil, err
		}
	}
	return &skill, nil
}
