/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Event bus backend selection.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string

	DBBackend DatabaseBackend
	DBDSN     string

	// Training monitor
	TickInterval  time.Duration // how often queues are swept for completions
	AlertsEnabled bool          // global gate on per-skill completion alerts

	// Upstream game API
	UpstreamBaseURL string
	UpstreamToken   string
	UpstreamTimeout time.Duration
	PollInterval    time.Duration // how often pilot snapshots are refreshed

	JWTSigningKey string

	// Event bus
	BusBackend    EventBusBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	InstanceID    string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("PILOTWATCH_ENV", "development"),
		HTTPBind:    getEnv("PILOTWATCH_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("PILOTWATCH_HTTP_PORT", 8080),
		MetricsBind: getEnv("PILOTWATCH_METRICS_BIND", "127.0.0.1:9000"),

		DBBackend: DatabaseBackend(getEnv("PILOTWATCH_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:     getEnv("PILOTWATCH_DB_DSN", "pilotwatch.db"),

		TickInterval:  time.Duration(getEnvInt("PILOTWATCH_TICK_INTERVAL_SECONDS", 30)) * time.Second,
		AlertsEnabled: getEnvBool("PILOTWATCH_ALERTS_ENABLED", true),

		UpstreamBaseURL: getEnv("PILOTWATCH_UPSTREAM_BASE_URL", ""),
		UpstreamToken:   getEnv("PILOTWATCH_UPSTREAM_TOKEN", ""),
		UpstreamTimeout: time.Duration(getEnvInt("PILOTWATCH_UPSTREAM_TIMEOUT_SECONDS", 15)) * time.Second,
		PollInterval:    time.Duration(getEnvInt("PILOTWATCH_POLL_INTERVAL_MINUTES", 10)) * time.Minute,

		JWTSigningKey: getEnv("PILOTWATCH_JWT_SIGNING_KEY", ""),

		BusBackend:    EventBusBackend(getEnv("PILOTWATCH_BUS_BACKEND", string(EventBusMemory))),
		RedisAddr:     getEnv("PILOTWATCH_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("PILOTWATCH_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("PILOTWATCH_REDIS_DB", 0),
		NATSURL:       getEnv("PILOTWATCH_NATS_URL", "nats://localhost:4222"),
		InstanceID:    getEnv("PILOTWATCH_INSTANCE_ID", ""),

		TracingEnabled:    getEnvBool("PILOTWATCH_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("PILOTWATCH_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("PILOTWATCH_TRACING_SAMPLE_RATE", 1.0),
	}

	switch cfg.DBBackend {
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
	default:
		return nil, fmt.Errorf("unknown database backend: %s", cfg.DBBackend)
	}

	switch cfg.BusBackend {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return nil, fmt.Errorf("unknown event bus backend: %s", cfg.BusBackend)
	}

	if cfg.Environment == "production" && cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("PILOTWATCH_JWT_SIGNING_KEY is required in production")
	}

	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		if val == "false" || val == "0" || val == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}
