/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/capsuleworks/pilotwatch/internal/auth"
	"github.com/capsuleworks/pilotwatch/internal/events"
	"github.com/capsuleworks/pilotwatch/internal/models"
	"github.com/capsuleworks/pilotwatch/internal/training"
)

var testSecret = []byte("test-secret")

type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) SyncPilot(ctx context.Context, pilot *models.Pilot) error {
	f.calls++
	return f.err
}

type testEnv struct {
	db        *gorm.DB
	monitor   *training.Monitor
	bus       *events.Bus
	refresher *fakeRefresher
	router    *chi.Mux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.AutoMigrate(
		&models.User{}, &models.APIKey{}, &models.Pilot{},
		&models.Skill{}, &models.PilotSkill{}, &models.Notification{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	bus := events.NewBus()
	monitor := training.NewMonitor(time.Minute, false, zerolog.Nop())
	refresher := &fakeRefresher{}
	a := New(database, testSecret, monitor, refresher, bus, nil, zerolog.Nop())

	router := chi.NewRouter()
	a.Routes(router)

	return &testEnv{db: database, monitor: monitor, bus: bus, refresher: refresher, router: router}
}

func (e *testEnv) seedUser(t *testing.T, role models.RoleName) (*models.User, string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	user := &models.User{
		ID:       "user-" + string(role),
		Email:    string(role) + "@example.com",
		Password: string(hash),
		Role:     role,
	}
	if err := e.db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	token, err := auth.Issue(testSecret, auth.Claims{
		UserID: user.ID,
		Roles:  []string{string(role)},
	}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return user, token
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func TestLogin(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedUser(t, models.RoleOperator)

	rr := env.request(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "operator@example.com",
		"password": "hunter22",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["token"] == "" {
		t.Fatalf("expected token in response")
	}

	rr = env.request(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "operator@example.com",
		"password": "wrong",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rr.Code)
	}
}

func TestPilotCreateRequiresOperator(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, viewerToken := env.seedUser(t, models.RoleViewer)
	_, operatorToken := env.seedUser(t, models.RoleOperator)

	body := map[string]any{"name": "Rig", "game_id": 42, "monitored": true}

	rr := env.request(t, http.MethodPost, "/api/v1/pilots/", viewerToken, body)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer create should be forbidden, got %d", rr.Code)
	}

	rr = env.request(t, http.MethodPost, "/api/v1/pilots/", operatorToken, body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("operator create should succeed, got %d body=%s", rr.Code, rr.Body.String())
	}

	var created pilotView
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !env.monitor.WithQueue(created.ID, func(q *training.Queue) {}) {
		t.Fatalf("monitored pilot should get an attached queue")
	}
}

func TestQueueGetReflectsImportedSnapshot(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	user, token := env.seedUser(t, models.RoleOperator)
	pilot := models.Pilot{ID: "pilot-1", Name: "Rig", UserID: user.ID, GameID: 42, Monitored: true}
	if err := env.db.Create(&pilot).Error; err != nil {
		t.Fatalf("seed pilot: %v", err)
	}

	starts := time.Now().UTC().Add(-time.Minute)
	ends := starts.Add(time.Hour)
	q := training.NewQueue(&pilot, env.bus, nil, zerolog.Nop())
	q.Import([]training.SnapshotRow{
		{SkillTypeID: 101, SkillName: "Salvaging", Level: 3, Duration: time.Hour, StartsAt: &starts, EndsAt: &ends},
	})
	env.monitor.Attach(pilot.ID, q)

	rr := env.request(t, http.MethodGet, "/api/v1/pilots/pilot-1/queue", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var view queueView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if view.Paused || !view.Training {
		t.Fatalf("queue should show as actively training: %+v", view)
	}
	if len(view.Entries) != 1 || view.Entries[0].SkillName != "Salvaging" {
		t.Fatalf("unexpected entries: %+v", view.Entries)
	}
	if view.Entries[0].StartsAt == nil || view.Entries[0].EndsAt == nil {
		t.Fatalf("active queue entries carry timestamps")
	}
}

func TestQueueGetOmitsTimestampsWhilePaused(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	user, token := env.seedUser(t, models.RoleOperator)
	pilot := models.Pilot{ID: "pilot-1", Name: "Rig", UserID: user.ID, GameID: 42, Monitored: true}
	if err := env.db.Create(&pilot).Error; err != nil {
		t.Fatalf("seed pilot: %v", err)
	}

	q := training.NewQueue(&pilot, env.bus, nil, zerolog.Nop())
	q.Import([]training.SnapshotRow{
		{SkillTypeID: 101, SkillName: "Salvaging", Level: 3, Duration: time.Hour},
	})
	env.monitor.Attach(pilot.ID, q)

	rr := env.request(t, http.MethodGet, "/api/v1/pilots/pilot-1/queue", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var view queueView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !view.Paused || view.Training {
		t.Fatalf("queue should show as paused: %+v", view)
	}
	if view.Entries[0].StartsAt != nil || view.Entries[0].EndsAt != nil {
		t.Fatalf("paused queue entries must omit timestamps: %+v", view.Entries[0])
	}
	if view.Entries[0].DurationSeconds != 3600 {
		t.Fatalf("duration survives the paused view, got %d", view.Entries[0].DurationSeconds)
	}
}

func TestMonitorToggleReachesAttachedQueue(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	user, token := env.seedUser(t, models.RoleOperator)
	pilot := models.Pilot{ID: "pilot-1", Name: "Rig", UserID: user.ID, GameID: 42, Monitored: true}
	if err := env.db.Create(&pilot).Error; err != nil {
		t.Fatalf("seed pilot: %v", err)
	}

	// Attach a queue whose only entry is already past its end time.
	starts := time.Now().UTC().Add(-2 * time.Hour)
	ends := starts.Add(time.Hour)
	q := training.NewQueue(&pilot, env.bus, nil, zerolog.Nop())
	q.Import([]training.SnapshotRow{
		{SkillTypeID: 101, SkillName: "Salvaging", Level: 3, Duration: time.Hour, StartsAt: &starts, EndsAt: &ends},
	})
	env.monitor.Attach(pilot.ID, q)

	rr := env.request(t, http.MethodPost, "/api/v1/pilots/pilot-1/monitor", token, map[string]bool{"monitored": false})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	// The live queue's own pilot copy must see the toggle, not just the DB
	// row: ticks gate on it.
	env.monitor.WithQueue(pilot.ID, func(q *training.Queue) {
		if q.Pilot().IsMonitored() {
			t.Fatalf("queue's pilot still reports monitored after toggle off")
		}
		q.OnTick(context.Background(), time.Now().UTC(), training.TickOptions{AlertsEnabled: true})
		if q.Len() != 1 {
			t.Fatalf("unmonitored queue must not retire entries, %d left", q.Len())
		}
	})

	// Toggling back on resumes retirement on the next tick.
	rr = env.request(t, http.MethodPost, "/api/v1/pilots/pilot-1/monitor", token, map[string]bool{"monitored": true})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	env.monitor.WithQueue(pilot.ID, func(q *training.Queue) {
		q.OnTick(context.Background(), time.Now().UTC(), training.TickOptions{AlertsEnabled: true})
		if q.Len() != 0 {
			t.Fatalf("re-monitored queue should retire the expired entry, %d left", q.Len())
		}
	})
}

func TestQueueRefreshCallsUpstream(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	user, token := env.seedUser(t, models.RoleOperator)
	pilot := models.Pilot{ID: "pilot-1", Name: "Rig", UserID: user.ID, GameID: 42, Monitored: true}
	if err := env.db.Create(&pilot).Error; err != nil {
		t.Fatalf("seed pilot: %v", err)
	}

	rr := env.request(t, http.MethodPost, "/api/v1/pilots/pilot-1/refresh", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if env.refresher.calls != 1 {
		t.Fatalf("expected one upstream sync, got %d", env.refresher.calls)
	}

	env.refresher.err = errors.New("upstream down")
	rr = env.request(t, http.MethodPost, "/api/v1/pilots/pilot-1/refresh", token, nil)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 when upstream fails, got %d", rr.Code)
	}
}

func TestPilotOwnershipEnforced(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	owner, _ := env.seedUser(t, models.RoleOperator)
	_, otherToken := env.seedUser(t, models.RoleViewer)
	pilot := models.Pilot{ID: "pilot-1", Name: "Rig", UserID: owner.ID, GameID: 42}
	if err := env.db.Create(&pilot).Error; err != nil {
		t.Fatalf("seed pilot: %v", err)
	}

	rr := env.request(t, http.MethodGet, "/api/v1/pilots/pilot-1/queue", otherToken, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign pilot, got %d", rr.Code)
	}

	rr = env.request(t, http.MethodGet, "/api/v1/pilots/pilot-1/queue", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rr.Code)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, token := env.seedUser(t, models.RoleOperator)

	rr := env.request(t, http.MethodPost, "/api/v1/keys/", token, map[string]string{"name": "ci"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var created map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	plaintext, _ := created["key"].(string)
	if plaintext == "" {
		t.Fatalf("plaintext key should be returned on creation")
	}

	// The freshly minted key authenticates requests.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/pilots/", nil)
	req.Header.Set("X-API-Key", plaintext)
	keyRR := httptest.NewRecorder()
	env.router.ServeHTTP(keyRR, req)
	if keyRR.Code != http.StatusOK {
		t.Fatalf("api key auth failed: %d", keyRR.Code)
	}

	keyID, _ := created["id"].(string)
	rr = env.request(t, http.MethodDelete, "/api/v1/keys/"+keyID, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 revoking key, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/pilots/", nil)
	req.Header.Set("X-API-Key", plaintext)
	keyRR = httptest.NewRecorder()
	env.router.ServeHTTP(keyRR, req)
	if keyRR.Code != http.StatusUnauthorized {
		t.Fatalf("revoked key must not authenticate, got %d", keyRR.Code)
	}
}

func TestNotificationMarkRead(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	user, token := env.seedUser(t, models.RoleOperator)
	notification := models.Notification{
		ID:               "note-1",
		UserID:           user.ID,
		NotificationType: models.NotificationTypeSkillCompleted,
		Channel:          models.NotificationChannelInApp,
		Subject:          "done",
		Status:           models.NotificationStatusSent,
	}
	if err := env.db.Create(&notification).Error; err != nil {
		t.Fatalf("seed notification: %v", err)
	}

	rr := env.request(t, http.MethodPost, "/api/v1/notifications/note-1/read", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var stored models.Notification
	if err := env.db.First(&stored, "id = ?", "note-1").Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != models.NotificationStatusRead {
		t.Fatalf("expected read status, got %q", stored.Status)
	}
}
