/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/capsuleworks/pilotwatch/internal/events"
	"github.com/capsuleworks/pilotwatch/internal/models"
	"github.com/capsuleworks/pilotwatch/internal/training"
)

func TestFetchQueueParsesActiveSnapshot(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/pilots/42/trainingqueue" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"skill_id": 101, "finished_level": 3, "queue_position": 0,
			 "duration_seconds": 3600,
			 "start_date": "2026-08-25T10:00:00Z", "finish_date": "2026-08-25T11:00:00Z"},
			{"skill_id": 102, "finished_level": 4, "queue_position": 1,
			 "duration_seconds": 7200,
			 "start_date": "2026-08-25T11:00:00Z", "finish_date": "2026-08-25T13:00:00Z"}
		]`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "sekrit", time.Second, zerolog.Nop())
	entries, err := client.FetchQueue(context.Background(), 42)
	if err != nil {
		t.Fatalf("FetchQueue: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].SkillTypeID != 101 || entries[0].QueuedLevel != 3 {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[0].StartsAt == nil || entries[0].EndsAt == nil {
		t.Fatalf("active snapshot rows carry timestamps")
	}
	if entries[0].Duration() != time.Hour {
		t.Fatalf("expected 1h duration, got %s", entries[0].Duration())
	}
}

func TestFetchQueueParsesPausedSnapshot(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"skill_id": 101, "finished_level": 3, "queue_position": 0, "duration_seconds": 3600}
		]`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second, zerolog.Nop())
	entries, err := client.FetchQueue(context.Background(), 42)
	if err != nil {
		t.Fatalf("FetchQueue: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].StartsAt != nil || entries[0].EndsAt != nil {
		t.Fatalf("paused snapshot rows must not carry timestamps")
	}
	if entries[0].Duration() != time.Hour {
		t.Fatalf("duration survives the paused form, got %s", entries[0].Duration())
	}
}

func TestFetchQueueReportsUpstreamError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "character not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second, zerolog.Nop())
	if _, err := client.FetchQueue(context.Background(), 9999); err == nil {
		t.Fatalf("expected error for 404 response")
	}
}

func TestSyncPilotImportsSnapshotAndAttachesQueue(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"skill_id": 101, "finished_level": 3, "queue_position": 0,
			 "duration_seconds": 3600,
			 "start_date": "2026-08-25T10:00:00Z", "finish_date": "2026-08-25T11:00:00Z"}
		]`)
	}))
	defer server.Close()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&models.Pilot{}, &models.Skill{}, &models.PilotSkill{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	pilot := models.Pilot{ID: "pilot-1", Name: "Rig", GameID: 42, Monitored: true}
	if err := database.Create(&pilot).Error; err != nil {
		t.Fatalf("seed pilot: %v", err)
	}
	catalogue := models.Skill{TypeID: 101, Name: "Salvaging", GroupName: "Resource Processing", Rank: 3}
	if err := database.Create(&catalogue).Error; err != nil {
		t.Fatalf("seed skill: %v", err)
	}

	bus := events.NewBus()
	monitor := training.NewMonitor(time.Minute, false, zerolog.Nop())
	client := NewClient(server.URL, "", time.Second, zerolog.Nop())
	poller := NewPoller(database, client, monitor, bus, nil, time.Minute, zerolog.Nop())

	if err := poller.SyncPilot(context.Background(), &pilot); err != nil {
		t.Fatalf("SyncPilot: %v", err)
	}

	found := monitor.WithQueue(pilot.ID, func(q *training.Queue) {
		if q.Len() != 1 {
			t.Errorf("expected 1 queued entry, got %d", q.Len())
		}
		if q.IsPaused() {
			t.Errorf("active snapshot must not pause the queue")
		}
		head := q.CurrentlyTraining()
		if head == nil || head.SkillName != "Salvaging" {
			t.Errorf("catalogue name not resolved: %+v", head)
		}
	})
	if !found {
		t.Fatalf("sync should attach a queue for the pilot")
	}

	var skill models.PilotSkill
	if err := database.First(&skill, "pilot_id = ? AND skill_type_id = ?", pilot.ID, int64(101)).Error; err != nil {
		t.Fatalf("pilot skill row should be created: %v", err)
	}
	if skill.QueuedLevel != 3 {
		t.Fatalf("queued level should track the snapshot, got %d", skill.QueuedLevel)
	}

	var updated models.Pilot
	if err := database.First(&updated, "id = ?", pilot.ID).Error; err != nil {
		t.Fatalf("reload pilot: %v", err)
	}
	if updated.LastSeen == nil {
		t.Fatalf("last_seen should be stamped after a sync")
	}
}
