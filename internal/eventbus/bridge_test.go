/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"testing"

	"github.com/capsuleworks/pilotwatch/internal/events"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	payload := events.Payload{"pilot_id": "pilot-1", "entries": float64(3)}
	data, err := marshalEnvelope(events.EventQueueUpdated, payload, "node-a")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	env, err := unmarshalEnvelope(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.EventType != events.EventQueueUpdated {
		t.Fatalf("event type = %q", env.EventType)
	}
	if env.NodeID != "node-a" || env.MessageID == "" {
		t.Fatalf("envelope metadata missing: %+v", env)
	}
	if env.Payload["pilot_id"] != "pilot-1" {
		t.Fatalf("payload lost in transit: %+v", env.Payload)
	}
}

func TestUnmarshalEnvelopeRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := unmarshalEnvelope([]byte("not json")); err == nil {
		t.Fatalf("expected error for malformed envelope")
	}
}

func TestOriginStampPreventsEcho(t *testing.T) {
	t.Parallel()

	local := events.Payload{"pilot_id": "pilot-1"}
	if isRemote(local) {
		t.Fatalf("fresh payload must not look remote")
	}

	stamped := stampOrigin(local, "node-b")
	if !isRemote(stamped) {
		t.Fatalf("stamped payload must look remote")
	}
	if isRemote(local) {
		t.Fatalf("stamping must not mutate the original payload")
	}
	if stamped["pilot_id"] != "pilot-1" {
		t.Fatalf("stamping must preserve payload fields")
	}
}
