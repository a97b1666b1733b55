/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/capsuleworks/pilotwatch/internal/auth"
	"github.com/capsuleworks/pilotwatch/internal/events"
	"github.com/capsuleworks/pilotwatch/internal/models"
	"github.com/capsuleworks/pilotwatch/internal/training"
)

// Refresher triggers an on-demand queue sync for one pilot.
type Refresher interface {
	SyncPilot(ctx context.Context, pilot *models.Pilot) error
}

// API exposes HTTP handlers.
type API struct {
	db        *gorm.DB
	jwtSecret []byte
	monitor   *training.Monitor
	refresher Refresher
	bus       *events.Bus
	alerter   training.Alerter
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, jwtSecret []byte, monitor *training.Monitor, refresher Refresher, bus *events.Bus, alerter training.Alerter, logger zerolog.Logger) *API {
	return &API{
		db:        db,
		jwtSecret: jwtSecret,
		monitor:   monitor,
		refresher: refresher,
		bus:       bus,
		alerter:   alerter,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts all API routes.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Route("/pilots", func(r chi.Router) {
				r.Get("/", a.handlePilotsList)
				r.Post("/", a.handlePilotCreate)
				r.Route("/{pilotID}", func(r chi.Router) {
					r.Get("/", a.handlePilotGet)
					r.Delete("/", a.handlePilotDelete)
					r.Post("/monitor", a.handlePilotMonitor)
					r.Get("/queue", a.handleQueueGet)
					r.Post("/refresh", a.handleQueueRefresh)
				})
			})

			pr.Route("/skills", func(r chi.Router) {
				r.Get("/", a.handleSkillsList)
			})

			pr.Route("/notifications", func(r chi.Router) {
				r.Get("/", a.handleNotificationsList)
				r.Post("/{notificationID}/read", a.handleNotificationMarkRead)
			})

			pr.Route("/keys", func(r chi.Router) {
				r.Get("/", a.handleAPIKeysList)
				r.Post("/", a.handleAPIKeyCreate)
				r.Delete("/{keyID}", a.handleAPIKeyRevoke)
			})

			pr.Get("/audit", a.handleAuditList)
		})
	})
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.MiddlewareWithJWT(a.db, a.jwtSecret)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	var user models.User
	if err := a.db.First(&user, "email = ?", req.Email).Error; err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	token, err := auth.Issue(a.jwtSecret, auth.Claims{
		UserID: user.ID,
		Roles:  []string{string(user.Role)},
	}, 24*time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"token": token,
		"role":  string(user.Role),
	})
}

func (a *API) handlePilotsList(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var pilots []models.Pilot
	query := a.db.Order("name")
	if !hasRole(claims, models.RoleAdmin) {
		query = query.Where("user_id = ?", claims.UserID)
	}
	if err := query.Find(&pilots).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	out := make([]pilotView, 0, len(pilots))
	for i := range pilots {
		out = append(out, a.pilotView(&pilots[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handlePilotCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || !hasRole(claims, models.RoleAdmin, models.RoleOperator) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req struct {
		Name      string `json:"name"`
		GameID    int64  `json:"game_id"`
		Monitored bool   `json:"monitored"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" || req.GameID == 0 {
		writeError(w, http.StatusBadRequest, "name_and_game_id_required")
		return
	}

	pilot := models.Pilot{
		ID:        uuid.NewString(),
		Name:      req.Name,
		UserID:    claims.UserID,
		GameID:    req.GameID,
		Monitored: req.Monitored,
	}
	if err := a.db.Create(&pilot).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if pilot.Monitored {
		q := training.NewQueue(&pilot, a.bus, a.alerter, a.logger)
		a.monitor.Attach(pilot.ID, q)
	}

	a.bus.Publish(events.EventAuditPilotCreate, events.Payload{
		"pilot_id": pilot.ID,
		"user_id":  claims.UserID,
	})
	writeJSON(w, http.StatusCreated, a.pilotView(&pilot))
}

func (a *API) handlePilotGet(w http.ResponseWriter, r *http.Request) {
	pilot, ok := a.loadPilot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.pilotView(pilot))
}

func (a *API) handlePilotDelete(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	if !hasRole(claims, models.RoleAdmin, models.RoleOperator) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	pilot, ok := a.loadPilot(w, r)
	if !ok {
		return
	}

	if err := a.db.Delete(&models.Pilot{}, "id = ?", pilot.ID).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	a.monitor.Detach(pilot.ID)

	a.bus.Publish(events.EventAuditPilotDelete, events.Payload{
		"pilot_id": pilot.ID,
		"user_id":  claims.UserID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handlePilotMonitor flips monitoring on or off. Turning monitoring off
// leaves the queue attached but silent; ticks skip unmonitored pilots.
func (a *API) handlePilotMonitor(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	if !hasRole(claims, models.RoleAdmin, models.RoleOperator) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	pilot, ok := a.loadPilot(w, r)
	if !ok {
		return
	}

	var req struct {
		Monitored bool `json:"monitored"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if err := a.db.Model(pilot).Update("monitored", req.Monitored).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	pilot.Monitored = req.Monitored

	// The attached queue carries its own pilot record from attach time, and
	// ticks gate on that copy. Flip it under the monitor lock so the toggle
	// takes effect on the very next tick, in both directions.
	attached := a.monitor.WithQueue(pilot.ID, func(q *training.Queue) {
		q.Pilot().Monitored = req.Monitored
	})
	if req.Monitored && !attached {
		q := training.NewQueue(pilot, a.bus, a.alerter, a.logger)
		a.monitor.Attach(pilot.ID, q)
	}

	a.bus.Publish(events.EventPilotUpdated, events.Payload{
		"pilot_id":  pilot.ID,
		"monitored": req.Monitored,
	})
	writeJSON(w, http.StatusOK, a.pilotView(pilot))
}

func (a *API) handleQueueGet(w http.ResponseWriter, r *http.Request) {
	pilot, ok := a.loadPilot(w, r)
	if !ok {
		return
	}

	var view queueView
	found := a.monitor.WithQueue(pilot.ID, func(q *training.Queue) {
		view = buildQueueView(pilot, q)
	})
	if !found {
		writeJSON(w, http.StatusOK, queueView{
			PilotID:   pilot.ID,
			PilotName: pilot.Name,
			Entries:   []queueEntryView{},
		})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleQueueRefresh(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	if !hasRole(claims, models.RoleAdmin, models.RoleOperator) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	pilot, ok := a.loadPilot(w, r)
	if !ok {
		return
	}
	if a.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh_unavailable")
		return
	}

	if err := a.refresher.SyncPilot(r.Context(), pilot); err != nil {
		a.logger.Warn().Err(err).Str("pilot", pilot.ID).Msg("manual refresh failed")
		writeError(w, http.StatusBadGateway, "upstream_error")
		return
	}

	var view queueView
	a.monitor.WithQueue(pilot.ID, func(q *training.Queue) {
		view = buildQueueView(pilot, q)
	})
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleSkillsList(w http.ResponseWriter, r *http.Request) {
	var skills []models.Skill
	if err := a.db.Order("group_name, name").Find(&skills).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, skills)
}

func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	if !hasRole(claims, models.RoleAdmin) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var entries []models.AuditLog
	if err := a.db.Order("timestamp DESC").Limit(100).Find(&entries).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// loadPilot fetches the pilot from the URL and enforces ownership. Admins
// see every pilot; everyone else only their own.
func (a *API) loadPilot(w http.ResponseWriter, r *http.Request) (*models.Pilot, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	pilotID := chi.URLParam(r, "pilotID")
	if pilotID == "" {
		writeError(w, http.StatusBadRequest, "pilot_id_required")
		return nil, false
	}

	var pilot models.Pilot
	err := a.db.First(&pilot, "id = ?", pilotID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return nil, false
	}
	if !hasRole(claims, models.RoleAdmin) && pilot.UserID != claims.UserID {
		writeError(w, http.StatusForbidden, "forbidden")
		return nil, false
	}
	return &pilot, true
}

func hasRole(claims *auth.Claims, roles ...models.RoleName) bool {
	if claims == nil {
		return false
	}
	for _, have := range claims.Roles {
		for _, want := range roles {
			if have == string(want) {
				return true
			}
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
