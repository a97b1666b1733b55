/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/capsuleworks/pilotwatch/internal/events"
	"github.com/capsuleworks/pilotwatch/internal/models"
	"github.com/capsuleworks/pilotwatch/internal/training"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.AutoMigrate(
		&models.User{}, &models.Pilot{},
		&models.WebhookTarget{}, &models.WebhookLog{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return database
}

func TestSign(t *testing.T) {
	t.Parallel()

	body := []byte(`{"event":"skills_completed"}`)
	got := Sign("topsecret", body)

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	if got != want {
		t.Fatalf("Sign() = %q, want %q", got, want)
	}
}

func TestHandleSkillsCompletedDeliversSignedPayload(t *testing.T) {
	t.Parallel()

	var delivered atomic.Int32
	var gotSignature atomic.Value
	var gotBody atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(body)
		gotBody.Store(body)
		gotSignature.Store(r.Header.Get("X-Pilotwatch-Signature"))
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	database := testDB(t)
	user := models.User{ID: "user-1", Email: "owner@example.com"}
	pilot := models.Pilot{ID: "pilot-1", Name: "Rig", UserID: user.ID, GameID: 7, Monitored: true}
	target := models.WebhookTarget{ID: "hook-1", UserID: user.ID, URL: server.URL, Secret: "topsecret", Enabled: true}
	for _, rec := range []any{&user, &pilot, &target} {
		if err := database.Create(rec).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	svc := NewService(database, events.NewBus(), zerolog.Nop())
	svc.handleSkillsCompleted(context.Background(), events.Payload{
		"pilot_id":   pilot.ID,
		"pilot_name": pilot.Name,
		"remaining":  1,
		"completed": []*training.QueuedSkill{
			{SkillTypeID: 101, SkillName: "Salvaging", Level: 3, EndsAt: time.Now().UTC()},
		},
	})

	deadline := time.Now().Add(2 * time.Second)
	for delivered.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if delivered.Load() != 1 {
		t.Fatalf("expected one delivery, got %d", delivered.Load())
	}

	body, _ := gotBody.Load().([]byte)
	sig, _ := gotSignature.Load().(string)
	if sig != Sign("topsecret", body) {
		t.Fatalf("signature does not verify against delivered body")
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Event != EventSkillsCompleted || len(payload.Completed) != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	// A delivery log row should appear once the goroutine finishes.
	deadline = time.Now().Add(2 * time.Second)
	var count int64
	for time.Now().Before(deadline) {
		database.Model(&models.WebhookLog{}).Count(&count)
		if count > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if count != 1 {
		t.Fatalf("expected one delivery log entry, got %d", count)
	}
}

func TestHandleSkillsCompletedSkipsDisabledTargets(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("disabled target must not be called")
	}))
	defer server.Close()

	database := testDB(t)
	user := models.User{ID: "user-1", Email: "owner@example.com"}
	pilot := models.Pilot{ID: "pilot-1", Name: "Rig", UserID: user.ID, GameID: 7}
	target := models.WebhookTarget{ID: "hook-1", UserID: user.ID, URL: server.URL, Enabled: false}
	for _, rec := range []any{&user, &pilot, &target} {
		if err := database.Create(rec).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	svc := NewService(database, events.NewBus(), zerolog.Nop())
	svc.handleSkillsCompleted(context.Background(), events.Payload{
		"pilot_id":   pilot.ID,
		"pilot_name": pilot.Name,
		"completed": []*training.QueuedSkill{
			{SkillTypeID: 101, Level: 3},
		},
	})

	time.Sleep(100 * time.Millisecond)
}
