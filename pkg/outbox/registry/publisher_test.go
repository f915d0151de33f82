package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/angelmondragon/packfinderz-serials/pkg/config"
	"github.com/angelmondragon/packfinderz-serials/pkg/db/models"
	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox/payloads"
	"github.com/google/uuid"
)

func TestEventRegistryResolveCompletion(t *testing.T) {
	reg := newTestEventRegistry(t)

	orderItemID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.OrderItemCompletedEvent{
		OrderItemID:    orderItemID,
		AllocatedCount: 3,
		Quantity:       3,
		Status:         enums.OrderItemStatusCompleted,
	})

	event := models.OutboxEvent{
		EventType:     enums.EventOrderItemCompleted,
		AggregateType: enums.AggregateOrderItem,
		AggregateID:   orderItemID,
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Sink != SinkOrderService {
		t.Fatalf("unexpected sink %q", resolved.Descriptor.Sink)
	}
	payload, ok := resolved.Payload.(*payloads.OrderItemCompletedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.OrderItemID != orderItemID || payload.Quantity != 3 {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" || resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope missing metadata")
	}
}

func TestEventRegistryLifecycleUsesTopic(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventSerialUnitSold,
		AggregateType: enums.AggregateSerialUnit,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, mustMarshal(t, payloads.SerialUnitSoldEvent{Serial: "S1"})),
	}
	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Sink != SinkPubSub || resolved.Descriptor.Topic != "lifecycle-topic" {
		t.Fatalf("unexpected descriptor %+v", resolved.Descriptor)
	}
	if topics := reg.Topics(); len(topics) != 1 || topics[0] != "lifecycle-topic" {
		t.Fatalf("unexpected topics %v", topics)
	}
}

func TestEventRegistryWithoutTopicSkipsLifecycle(t *testing.T) {
	reg, err := NewEventRegistry(config.PubSubConfig{})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	event := models.OutboxEvent{
		EventType:     enums.EventSerialUnitsAssigned,
		AggregateType: enums.AggregateOrderItem,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte(`{"unit_ids":[]}`)),
	}
	_, err = reg.Resolve(event)
	if !IsNonRetryable(err) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
	if len(reg.Topics()) != 0 {
		t.Fatalf("expected no topics")
	}
}

func TestEventRegistryResolveRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)

	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType:     enums.OutboxEventType("order_created"),
			AggregateType: enums.AggregateOrderItem,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"aggregate mismatch": {
			EventType:     enums.EventOrderItemCompleted,
			AggregateType: enums.AggregateSerialUnit,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"missing aggregate id": {
			EventType:     enums.EventOrderItemCompleted,
			AggregateType: enums.AggregateOrderItem,
			AggregateID:   uuid.Nil,
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"null payload": {
			EventType:     enums.EventOrderItemCompleted,
			AggregateType: enums.AggregateOrderItem,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte("null")),
		},
		"broken envelope": {
			EventType:     enums.EventOrderItemCompleted,
			AggregateType: enums.AggregateOrderItem,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{"data":`),
		},
	}

	for name, event := range cases {
		_, err := reg.Resolve(event)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !IsNonRetryable(err) {
			t.Fatalf("%s: expected non-retryable error, got %T", name, err)
		}
	}
}

func TestIsNonRetryableSeesThroughWrapping(t *testing.T) {
	base := NewNonRetryableError(errors.New("refused"))
	if !IsNonRetryable(fmt.Errorf("deliver: %w", base)) {
		t.Fatalf("expected wrapped error to be non-retryable")
	}
	if IsNonRetryable(errors.New("timeout")) {
		t.Fatalf("plain error must stay retryable")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{LifecycleTopic: "lifecycle-topic"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
