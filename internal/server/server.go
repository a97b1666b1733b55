/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/capsuleworks/pilotwatch/internal/api"
	"github.com/capsuleworks/pilotwatch/internal/audit"
	"github.com/capsuleworks/pilotwatch/internal/config"
	"github.com/capsuleworks/pilotwatch/internal/db"
	"github.com/capsuleworks/pilotwatch/internal/eventbus"
	"github.com/capsuleworks/pilotwatch/internal/events"
	"github.com/capsuleworks/pilotwatch/internal/leadership"
	"github.com/capsuleworks/pilotwatch/internal/models"
	"github.com/capsuleworks/pilotwatch/internal/notifications"
	"github.com/capsuleworks/pilotwatch/internal/telemetry"
	"github.com/capsuleworks/pilotwatch/internal/training"
	"github.com/capsuleworks/pilotwatch/internal/upstream"
	"github.com/capsuleworks/pilotwatch/internal/webhooks"
)

// Server bundles the HTTP API and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db              *gorm.DB
	bus             *events.Bus
	monitor         *training.Monitor
	poller          *upstream.Poller
	api             *api.API
	notificationSvc *notifications.Service
	webhookSvc      *webhooks.Service
	auditSvc        *audit.Service
	election        *leadership.Election
	redisBridge     *eventbus.RedisBridge
	natsBridge      *eventbus.NATSBridge

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("pilotwatch-api"))
	router.Use(telemetry.MetricsMiddleware)

	s := &Server{
		cfg:    cfg,
		logger: logger.With().Str("component", "server").Logger(),
		router: router,
	}

	if err := s.initDependencies(); err != nil {
		s.Close()
		return nil, err
	}
	s.configureRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	s.bus = events.NewBus()

	nodeID := s.cfg.InstanceID
	if nodeID == "" {
		if hostname, err := os.Hostname(); err == nil {
			nodeID = hostname
		} else {
			nodeID = "pilotwatch"
		}
	}

	switch s.cfg.BusBackend {
	case config.EventBusRedis:
		bridge, err := eventbus.NewRedisBridge(eventbus.RedisConfig{
			Addr:         s.cfg.RedisAddr,
			Password:     s.cfg.RedisPassword,
			DB:           s.cfg.RedisDB,
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		}, s.bus, nodeID, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("redis unavailable, events stay node-local")
		} else {
			s.redisBridge = bridge
			s.DeferClose(bridge.Close)
		}
	case config.EventBusNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		bridge, err := eventbus.NewNATSBridge(natsCfg, s.bus, nodeID, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("nats unavailable, events stay node-local")
		} else {
			s.natsBridge = bridge
			s.DeferClose(bridge.Close)
		}
	}

	s.notificationSvc = notifications.NewService(database, s.bus, notifications.ConfigFromEnv(), s.logger)
	s.webhookSvc = webhooks.NewService(database, s.bus, s.logger)
	s.auditSvc = audit.NewService(database, s.bus, s.logger)

	s.monitor = training.NewMonitor(s.cfg.TickInterval, s.cfg.AlertsEnabled, s.logger)
	if err := s.attachMonitoredPilots(); err != nil {
		return fmt.Errorf("attach pilots: %w", err)
	}

	if s.cfg.UpstreamBaseURL != "" {
		client := upstream.NewClient(s.cfg.UpstreamBaseURL, s.cfg.UpstreamToken, s.cfg.UpstreamTimeout, s.logger)
		s.poller = upstream.NewPoller(database, client, s.monitor, s.bus, s.notificationSvc, s.cfg.PollInterval, s.logger)

		// With a shared Redis bus, several instances may run; only the
		// elected leader sweeps upstream.
		if s.cfg.BusBackend == config.EventBusRedis {
			electionCfg := leadership.DefaultConfig()
			electionCfg.RedisAddr = s.cfg.RedisAddr
			electionCfg.RedisPassword = s.cfg.RedisPassword
			electionCfg.RedisDB = s.cfg.RedisDB
			electionCfg.InstanceID = nodeID
			election, err := leadership.NewElection(electionCfg, s.logger)
			if err != nil {
				s.logger.Warn().Err(err).Msg("leader election unavailable, polling unconditionally")
			} else {
				s.election = election
				s.poller.SetLeaderCheck(election.IsLeader)
				s.DeferClose(election.Close)
			}
		}
	} else {
		s.logger.Warn().Msg("no upstream base URL configured, queues refresh only via the API")
	}

	var refresher api.Refresher
	if s.poller != nil {
		refresher = s.poller
	}
	s.api = api.New(database, []byte(s.cfg.JWTSigningKey), s.monitor, refresher, s.bus, s.notificationSvc, s.logger)
	return nil
}

// attachMonitoredPilots registers an empty queue for every monitored pilot so
// ticks begin immediately; the first poll fills them in.
func (s *Server) attachMonitoredPilots() error {
	var pilots []models.Pilot
	if err := s.db.Where("monitored = ?", true).Find(&pilots).Error; err != nil {
		return err
	}
	for i := range pilots {
		pilot := pilots[i]
		q := training.NewQueue(&pilot, s.bus, s.notificationSvc, s.logger)
		s.monitor.Attach(pilot.ID, q)
	}
	s.logger.Info().Int("pilots", len(pilots)).Msg("monitored pilots attached")
	return nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.api.Routes(s.router)
}

// Start runs background workers and serves HTTP until the context ends.
func (s *Server) Start(ctx context.Context) error {
	s.startBackgroundWorkers()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	metricsServer := &http.Server{
		Addr:              s.cfg.MetricsBind,
		Handler:           telemetry.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.logger.Info().Str("addr", metricsServer.Addr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.stopBackgroundWorkers()
	return nil
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		_ = s.monitor.Run(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.notificationSvc.Start(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.webhookSvc.Start(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.auditSvc.Start(ctx)
	}()

	if s.election != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			_ = s.election.Run(ctx)
		}()
	}

	if s.poller != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			_ = s.poller.Run(ctx)
		}()

		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.poller.RecordCompletions(ctx)
		}()
	}

	if s.redisBridge != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			_ = s.redisBridge.Run(ctx)
		}()
	}
	if s.natsBridge != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			_ = s.natsBridge.Run(ctx)
		}()
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel != nil {
		s.bgCancel()
	}
	s.bgWG.Wait()
}

// HTTPServer exposes the underlying HTTP server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// DeferClose registers a cleanup function run on Close, last-in first-out.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close releases all resources.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
