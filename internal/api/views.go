/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"time"

	"github.com/capsuleworks/pilotwatch/internal/models"
	"github.com/capsuleworks/pilotwatch/internal/training"
)

type pilotView struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	GameID    int64      `json:"game_id"`
	Monitored bool       `json:"monitored"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

type queueEntryView struct {
	SkillTypeID     int64      `json:"skill_type_id"`
	SkillName       string     `json:"skill_name,omitempty"`
	Level           int        `json:"level"`
	DurationSeconds int64      `json:"duration_seconds"`
	StartsAt        *time.Time `json:"starts_at,omitempty"`
	EndsAt          *time.Time `json:"ends_at,omitempty"`
}

type queueView struct {
	PilotID       string           `json:"pilot_id"`
	PilotName     string           `json:"pilot_name"`
	Paused        bool             `json:"paused"`
	Training      bool             `json:"training"`
	EndsAt        time.Time        `json:"ends_at"`
	Entries       []queueEntryView `json:"entries"`
	LastCompleted *queueEntryView  `json:"last_completed,omitempty"`
}

func (a *API) pilotView(pilot *models.Pilot) pilotView {
	return pilotView{
		ID:        pilot.ID,
		Name:      pilot.Name,
		GameID:    pilot.GameID,
		Monitored: pilot.Monitored,
		LastSeen:  pilot.LastSeen,
	}
}

// buildQueueView projects a queue into its API shape. Must run under the
// monitor lock (inside WithQueue); paused queues omit entry timestamps the
// same way exports do.
func buildQueueView(pilot *models.Pilot, q *training.Queue) queueView {
	view := queueView{
		PilotID:   pilot.ID,
		PilotName: pilot.Name,
		Paused:    q.IsPaused(),
		Training:  q.IsTraining(),
		EndsAt:    q.EndTime(),
		Entries:   make([]queueEntryView, 0, q.Len()),
	}

	for _, row := range q.Export() {
		view.Entries = append(view.Entries, queueEntryView{
			SkillTypeID:     row.SkillTypeID,
			SkillName:       row.SkillName,
			Level:           row.Level,
			DurationSeconds: int64(row.Duration / time.Second),
			StartsAt:        row.StartsAt,
			EndsAt:          row.EndsAt,
		})
	}

	if last := q.LastCompleted(); last != nil {
		ends := last.EndsAt
		view.LastCompleted = &queueEntryView{
			SkillTypeID:     last.SkillTypeID,
			SkillName:       last.SkillName,
			Level:           last.Level,
			DurationSeconds: int64(last.Duration / time.Second),
			EndsAt:          &ends,
		}
	}
	return view
}
