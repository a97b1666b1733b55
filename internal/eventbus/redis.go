/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/capsuleworks/pilotwatch/internal/events"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisBridge mirrors the local event bus over Redis pub/sub.
type RedisBridge struct {
	client *redis.Client
	bus    *events.Bus
	nodeID string
	logger zerolog.Logger
}

// NewRedisBridge connects to Redis and returns a bridge for the local bus.
func NewRedisBridge(cfg RedisConfig, bus *events.Bus, nodeID string, logger zerolog.Logger) (*RedisBridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBridge{
		client: client,
		bus:    bus,
		nodeID: nodeID,
		logger: logger.With().Str("component", "eventbus").Str("backend", "redis").Logger(),
	}, nil
}

// Run mirrors events until context cancellation. Outbound: local bus events
// publish to per-type Redis channels. Inbound: remote envelopes re-enter the
// local bus stamped with their origin node.
func (rb *RedisBridge) Run(ctx context.Context) error {
	channels := make([]string, 0, len(MirroredEvents))
	for _, eventType := range MirroredEvents {
		channels = append(channels, subject(eventType))
		go rb.forward(ctx, eventType)
	}

	pubsub := rb.client.Subscribe(ctx, channels...)
	defer pubsub.Close()

	rb.logger.Info().Str("node", rb.nodeID).Msg("redis event bridge started")

	for {
		select {
		case <-ctx.Done():
			rb.logger.Info().Msg("redis event bridge stopped")
			return ctx.Err()
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return nil
			}
			env, err := unmarshalEnvelope([]byte(msg.Payload))
			if err != nil {
				rb.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("bad envelope")
				continue
			}
			if env.NodeID == rb.nodeID {
				continue
			}
			rb.bus.Publish(env.EventType, stampOrigin(env.Payload, env.NodeID))
		}
	}
}

// forward pushes one event type from the local bus out to Redis.
func (rb *RedisBridge) forward(ctx context.Context, eventType events.EventType) {
	sub := rb.bus.Subscribe(eventType)
	defer rb.bus.Unsubscribe(eventType, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-sub:
			if isRemote(payload) {
				continue
			}
			data, err := marshalEnvelope(eventType, payload, rb.nodeID)
			if err != nil {
				rb.logger.Warn().Err(err).Str("event", string(eventType)).Msg("marshal envelope")
				continue
			}
			if err := rb.client.Publish(ctx, subject(eventType), data).Err(); err != nil {
				rb.logger.Warn().Err(err).Str("event", string(eventType)).Msg("redis publish failed")
			}
		}
	}
}

// Close releases the Redis connection.
func (rb *RedisBridge) Close() error {
	return rb.client.Close()
}
