/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges the in-process event bus onto an external broker
// so multiple instances observe each other's queue events. Services keep
// publishing to and subscribing from the local bus; a bridge mirrors the
// configured event types both ways.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/capsuleworks/pilotwatch/internal/events"
)

// originKey marks payloads injected from a remote node so the local bridge
// does not forward them back out and loop the event.
const originKey = "_origin_node"

// MirroredEvents are the event types bridges fan out across instances.
// Audit events stay node-local.
var MirroredEvents = []events.EventType{
	events.EventSkillsCompleted,
	events.EventQueueUpdated,
	events.EventPilotUpdated,
	events.EventPilotRemoved,
	events.EventUpstreamError,
}

// envelope is the wire form of one mirrored event.
type envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
	Timestamp time.Time        `json:"timestamp"`
}

func marshalEnvelope(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(envelope{
		EventType: eventType,
		Payload:   payload,
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
		Timestamp: time.Now().UTC(),
	})
}

func unmarshalEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	return &env, nil
}

// isRemote reports whether the payload was injected by a bridge.
func isRemote(payload events.Payload) bool {
	_, ok := payload[originKey]
	return ok
}

// stampOrigin copies the payload with the remote node marker set.
func stampOrigin(payload events.Payload, nodeID string) events.Payload {
	stamped := make(events.Payload, len(payload)+1)
	for k, v := range payload {
		stamped[k] = v
	}
	stamped[originKey] = nodeID
	return stamped
}

// subject returns the broker channel name for an event type.
func subject(eventType events.EventType) string {
	return "pilotwatch.events." + string(eventType)
}
