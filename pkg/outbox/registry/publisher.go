// Package registry decides how each outbox event type is decoded and where
// the publisher delivers it.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-serials/pkg/config"
	"github.com/angelmondragon/packfinderz-serials/pkg/db/models"
	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox/payloads"
)

type Sink string

const (
	// SinkOrderService calls the order subsystem over HTTP.
	SinkOrderService Sink = "order_service"
	SinkPubSub       Sink = "pubsub"
)

// EventDescriptor binds an event type to its aggregate, sink and payload type.
// Topic is only set for SinkPubSub.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Sink           Sink
	Topic          string
	PayloadFactory func() any
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// lifecycleEvents are fanned out on the lifecycle topic for downstream readers.
var lifecycleEvents = []EventDescriptor{
	{
		EventType:      enums.EventSerialUnitsAssigned,
		AggregateType:  enums.AggregateOrderItem,
		PayloadFactory: func() any { return &payloads.SerialUnitsAssignedEvent{} },
	},
	{
		EventType:      enums.EventSerialUnitsAllocated,
		AggregateType:  enums.AggregateOrderItem,
		PayloadFactory: func() any { return &payloads.SerialUnitsAllocatedEvent{} },
	},
	{
		EventType:      enums.EventSerialUnitSold,
		AggregateType:  enums.AggregateSerialUnit,
		PayloadFactory: func() any { return &payloads.SerialUnitSoldEvent{} },
	},
	{
		EventType:      enums.EventSerialUnitOverridden,
		AggregateType:  enums.AggregateSerialUnit,
		PayloadFactory: func() any { return &payloads.SerialUnitOverriddenEvent{} },
	},
}

// NewEventRegistry always routes order item completions to the order
// service. Lifecycle events are registered only when cfg names a lifecycle
// topic; without one their rows resolve as unsupported and dead-letter.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	if err := reg.add(EventDescriptor{
		EventType:      enums.EventOrderItemCompleted,
		AggregateType:  enums.AggregateOrderItem,
		Sink:           SinkOrderService,
		PayloadFactory: func() any { return &payloads.OrderItemCompletedEvent{} },
	}); err != nil {
		return nil, err
	}

	if cfg.LifecycleTopic == "" {
		return reg, nil
	}
	for _, desc := range lifecycleEvents {
		desc.Sink, desc.Topic = SinkPubSub, cfg.LifecycleTopic
		if err := reg.add(desc); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (r *EventRegistry) add(desc EventDescriptor) error {
	if desc.PayloadFactory == nil {
		return fmt.Errorf("event %s has no payload factory", desc.EventType)
	}
	if _, dup := r.entries[desc.EventType]; dup {
		return fmt.Errorf("event %s registered twice", desc.EventType)
	}
	r.entries[desc.EventType] = desc
	return nil
}

// Topics returns the sorted, distinct Pub/Sub topics in use.
func (r *EventRegistry) Topics() []string {
	set := map[string]bool{}
	for _, desc := range r.entries {
		if desc.Sink == SinkPubSub && desc.Topic != "" {
			set[desc.Topic] = true
		}
	}
	topics := make([]string, 0, len(set))
	for topic := range set {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Resolve checks the row against its descriptor and decodes the envelope data
// into the descriptor's payload type. Every failure is non-retryable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	resolved, err := r.resolve(event)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	return resolved, nil
}

func (r *EventRegistry) resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, fmt.Errorf("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, errors.New("missing aggregate_id")
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", event.EventType, err)
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
