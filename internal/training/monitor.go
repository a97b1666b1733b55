/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package training

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/capsuleworks/pilotwatch/internal/telemetry"
)

// Monitor owns every attached training queue and drives their ticks from a
// single loop. Queues themselves carry no locks; all queue access funnels
// through the monitor's mutex, which serializes ticks against imports and
// read views.
type Monitor struct {
	logger   zerolog.Logger
	interval time.Duration

	mu          sync.Mutex
	queues      map[string]*Queue
	alerts      bool
	bulkRestore bool
}

// NewMonitor creates a training monitor ticking at the given interval.
func NewMonitor(interval time.Duration, alertsEnabled bool, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		logger:   logger.With().Str("component", "monitor").Logger(),
		interval: interval,
		queues:   make(map[string]*Queue),
		alerts:   alertsEnabled,
	}
}

// Attach registers a pilot's queue. Attaching under an existing id replaces
// the previous queue.
func (m *Monitor) Attach(pilotID string, q *Queue) {
	m.mu.Lock()
	m.queues[pilotID] = q
	telemetry.MonitoredQueues.Set(float64(len(m.queues)))
	m.mu.Unlock()
	m.logger.Debug().Str("pilot", pilotID).Msg("queue attached")
}

// Detach unregisters a pilot's queue. Detached queues receive no further
// ticks; the queue's lifetime follows the pilot's.
func (m *Monitor) Detach(pilotID string) {
	m.mu.Lock()
	delete(m.queues, pilotID)
	telemetry.MonitoredQueues.Set(float64(len(m.queues)))
	m.mu.Unlock()
	m.logger.Debug().Str("pilot", pilotID).Msg("queue detached")
}

// WithQueue runs fn against a pilot's queue under the monitor lock, keeping
// imports and reads serialized with ticks. Returns false when the pilot has
// no attached queue.
func (m *Monitor) WithQueue(pilotID string, fn func(q *Queue)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[pilotID]
	if !ok {
		return false
	}
	fn(q)
	return true
}

// SetBulkRestore flips the restore window. While set, ticks still retire
// entries and fire batched events, but per-skill alerts stay silent.
func (m *Monitor) SetBulkRestore(on bool) {
	m.mu.Lock()
	m.bulkRestore = on
	m.mu.Unlock()
}

// Run executes the tick loop until context cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info().Dur("interval", m.interval).Msg("training monitor started")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("training monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.tick(ctx, time.Now().UTC())
		}
	}
}

func (m *Monitor) tick(ctx context.Context, now time.Time) {
	telemetry.MonitorTicksTotal.Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	opts := TickOptions{AlertsEnabled: m.alerts, BulkRestore: m.bulkRestore}
	for _, q := range m.queues {
		q.OnTick(ctx, now, opts)
	}
}
