/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package training

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/capsuleworks/pilotwatch/internal/events"
	"github.com/capsuleworks/pilotwatch/internal/models"
	"github.com/capsuleworks/pilotwatch/internal/telemetry"
)

// Alerter performs the per-skill completion side effect (email dispatch).
// It receives the retired entry and the queue contents remaining after it.
// Failures are the alerter's problem: the queue logs and keeps retiring.
type Alerter interface {
	Alert(ctx context.Context, pilot *models.Pilot, completed *QueuedSkill, remaining []*QueuedSkill) error
}

// TickOptions is the configuration snapshot a tick runs under. Flags are
// passed explicitly so the retirement loop reads no ambient global state.
type TickOptions struct {
	// AlertsEnabled gates the per-skill alert side effect.
	AlertsEnabled bool
	// BulkRestore suppresses alerts while a backfill import storm is running.
	BulkRestore bool
}

// Queue is one pilot's ordered training queue. Entries are kept in schedule
// order (non-decreasing start/end). The queue is mutated only by OnTick and
// Import, which the owning Monitor serializes; there is no internal locking.
type Queue struct {
	pilot   *models.Pilot
	bus     *events.Bus
	alerter Alerter
	logger  zerolog.Logger

	items         []*QueuedSkill
	paused        bool
	lastCompleted *QueuedSkill

	// queueEpoch is the instant the queue was last known to start. Paused
	// snapshots carry no timestamps, so synthesized schedules are anchored
	// here rather than at the wall clock, keeping repeated imports of the
	// same paused snapshot byte-identical.
	queueEpoch time.Time
}

// NewQueue builds an empty queue for a pilot.
func NewQueue(pilot *models.Pilot, bus *events.Bus, alerter Alerter, logger zerolog.Logger) *Queue {
	return &Queue{
		pilot:      pilot,
		bus:        bus,
		alerter:    alerter,
		logger:     logger.With().Str("component", "training").Str("pilot", pilot.ID).Logger(),
		queueEpoch: time.Now().UTC(),
	}
}

// Pilot returns the owning pilot.
func (q *Queue) Pilot() *models.Pilot {
	return q.pilot
}

// OnTick retires every leading entry whose end time has passed. An entry
// ending exactly at now counts as completed. The queue is FIFO by schedule,
// so the loop stops at the first unexpired entry; work is O(completed), not
// O(queue length). No-op while paused or when the pilot is not monitored.
func (q *Queue) OnTick(ctx context.Context, now time.Time, opts TickOptions) {
	if q.paused || !q.pilot.IsMonitored() {
		return
	}

	var completed []*QueuedSkill
	for len(q.items) > 0 {
		head := q.items[0]
		if head.EndsAt.After(now) {
			break
		}

		head.markCompleted(now)
		completed = append(completed, head)
		q.lastCompleted = head
		q.items = q.items[1:]

		if opts.AlertsEnabled && !opts.BulkRestore && q.alerter != nil {
			if err := q.alerter.Alert(ctx, q.pilot, head, q.Items()); err != nil {
				telemetry.AlertFailuresTotal.Inc()
				q.logger.Warn().Err(err).
					Int64("skill_type_id", head.SkillTypeID).
					Int("level", head.Level).
					Msg("completion alert failed")
			} else {
				telemetry.AlertsSentTotal.Inc()
			}
		}
	}

	if len(completed) == 0 {
		return
	}

	telemetry.SkillsCompletedTotal.Add(float64(len(completed)))
	q.bus.Publish(events.EventSkillsCompleted, events.Payload{
		"pilot_id":   q.pilot.ID,
		"pilot_name": q.pilot.Name,
		"completed":  completed,
		"remaining":  len(q.items),
		"at":         now,
	})
}

// Import replaces the queue contents wholesale from a snapshot. Discarded
// entries are not retired: no completion bookkeeping, alerts, or completion
// events fire for them. The pause flag is re-derived from the snapshot: any
// row missing its end timestamp marks the whole queue paused.
//
// Rows with timestamps keep them. Rows without (the paused form) get a
// schedule synthesized by folding a cursor through the snapshot: the first
// starts at queueEpoch, each next at the previous end, durations preserved.
// lastCompleted is tick-driven state and survives imports untouched.
func (q *Queue) Import(rows []SnapshotRow) {
	q.paused = false
	for _, row := range rows {
		if row.EndsAt == nil {
			q.paused = true
			break
		}
	}

	items := make([]*QueuedSkill, 0, len(rows))
	cursor := q.queueEpoch
	for _, row := range rows {
		item := &QueuedSkill{
			SkillTypeID: row.SkillTypeID,
			SkillName:   row.SkillName,
			Level:       row.Level,
			Duration:    row.Duration,
			skill:       row.Skill,
		}
		if row.StartsAt != nil && row.EndsAt != nil {
			item.StartsAt = row.StartsAt.UTC()
			item.EndsAt = row.EndsAt.UTC()
		} else {
			item.StartsAt = cursor
			item.EndsAt = cursor.Add(row.Duration)
		}
		cursor = item.EndsAt
		items = append(items, item)
	}
	q.items = items

	if !q.paused && len(q.items) > 0 {
		q.queueEpoch = q.items[0].StartsAt
	}

	q.logger.Debug().
		Int("entries", len(q.items)).
		Bool("paused", q.paused).
		Msg("queue imported")

	q.bus.Publish(events.EventQueueUpdated, events.Payload{
		"pilot_id":   q.pilot.ID,
		"pilot_name": q.pilot.Name,
		"entries":    len(q.items),
		"paused":     q.paused,
	})
}

// Export projects the current queue back into snapshot rows, in order. Pure
// read: exporting a paused queue emits the sentinel (unset timestamps), so a
// round trip through Export/Import preserves pause state.
func (q *Queue) Export() []SnapshotRow {
	rows := make([]SnapshotRow, 0, len(q.items))
	for _, item := range q.items {
		row := SnapshotRow{
			SkillTypeID: item.SkillTypeID,
			SkillName:   item.SkillName,
			Level:       item.Level,
			Duration:    item.Duration,
			Skill:       item.skill,
		}
		if !q.paused {
			starts, ends := item.StartsAt, item.EndsAt
			row.StartsAt = &starts
			row.EndsAt = &ends
		}
		rows = append(rows, row)
	}
	return rows
}

// Items returns a copy of the current entries in schedule order.
func (q *Queue) Items() []*QueuedSkill {
	return append([]*QueuedSkill(nil), q.items...)
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	return len(q.items)
}

// IsPaused reports whether the last import carried the pause sentinel.
// Only Import changes this; ticks never do.
func (q *Queue) IsPaused() bool {
	return q.paused
}

// IsTraining reports whether the pilot is actively training: not paused and
// at least one entry queued.
func (q *Queue) IsTraining() bool {
	return !q.paused && len(q.items) > 0
}

// EndTime returns when the queue runs dry. An empty queue ends now, never in
// the past.
func (q *Queue) EndTime() time.Time {
	if len(q.items) == 0 {
		return time.Now().UTC()
	}
	return q.items[len(q.items)-1].EndsAt
}

// CurrentlyTraining returns the entry at the head of the queue, or nil.
func (q *Queue) CurrentlyTraining() *QueuedSkill {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// LastCompleted returns the most recently retired entry, or nil.
func (q *Queue) LastCompleted() *QueuedSkill {
	return q.lastCompleted
}
