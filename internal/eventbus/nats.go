/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/capsuleworks/pilotwatch/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBridge mirrors the local event bus over NATS subjects.
type NATSBridge struct {
	conn   *nats.Conn
	bus    *events.Bus
	nodeID string
	logger zerolog.Logger
}

// NewNATSBridge connects to NATS and returns a bridge for the local bus.
func NewNATSBridge(cfg NATSConfig, bus *events.Bus, nodeID string, logger zerolog.Logger) (*NATSBridge, error) {
	opts := []nats.Option{
		nats.Name("pilotwatch-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NATSBridge{
		conn:   conn,
		bus:    bus,
		nodeID: nodeID,
		logger: logger.With().Str("component", "eventbus").Str("backend", "nats").Logger(),
	}, nil
}

// Run mirrors events until context cancellation.
func (nb *NATSBridge) Run(ctx context.Context) error {
	subs := make([]*nats.Subscription, 0, len(MirroredEvents))
	for _, eventType := range MirroredEvents {
		eventType := eventType
		sub, err := nb.conn.Subscribe(subject(eventType), func(msg *nats.Msg) {
			env, err := unmarshalEnvelope(msg.Data)
			if err != nil {
				nb.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("bad envelope")
				return
			}
			if env.NodeID == nb.nodeID {
				return
			}
			nb.bus.Publish(env.EventType, stampOrigin(env.Payload, env.NodeID))
		})
		if err != nil {
			return fmt.Errorf("nats subscribe %s: %w", subject(eventType), err)
		}
		subs = append(subs, sub)

		go nb.forward(ctx, eventType)
	}

	nb.logger.Info().Str("node", nb.nodeID).Msg("nats event bridge started")

	<-ctx.Done()
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	nb.logger.Info().Msg("nats event bridge stopped")
	return ctx.Err()
}

// forward pushes one event type from the local bus out to NATS.
func (nb *NATSBridge) forward(ctx context.Context, eventType events.EventType) {
	sub := nb.bus.Subscribe(eventType)
	defer nb.bus.Unsubscribe(eventType, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-sub:
			if isRemote(payload) {
				continue
			}
			data, err := marshalEnvelope(eventType, payload, nb.nodeID)
			if err != nil {
				nb.logger.Warn().Err(err).Str("event", string(eventType)).Msg("marshal envelope")
				continue
			}
			if err := nb.conn.Publish(subject(eventType), data); err != nil {
				nb.logger.Warn().Err(err).Str("event", string(eventType)).Msg("nats publish failed")
			}
		}
	}
}

// Close drains and closes the NATS connection.
func (nb *NATSBridge) Close() error {
	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return err
	}
	return nil
}
