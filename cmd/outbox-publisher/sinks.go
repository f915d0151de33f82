package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-serials/internal/orderclient"
	"github.com/angelmondragon/packfinderz-serials/pkg/db/models"
	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	"github.com/angelmondragon/packfinderz-serials/pkg/logger"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox/idempotency"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox/payloads"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox/registry"
)

const defaultDeliverTimeout = 15 * time.Second

type orderStatusUpdater interface {
	UpdateOrderItemStatus(ctx context.Context, id uuid.UUID, status enums.OrderItemStatus) error
}

type deliveryGuard interface {
	Begin(ctx context.Context, sink string, eventID uuid.UUID) (idempotency.Claim, error)
	Confirm(ctx context.Context, sink string, eventID uuid.UUID) error
	Release(ctx context.Context, sink string, eventID uuid.UUID) error
}

var errDeliveryInFlight = errors.New("delivery claimed by another attempt")

// orderServiceSink tells the order subsystem that an order item is complete.
type orderServiceSink struct {
	orders orderStatusUpdater
	guard  deliveryGuard
	logg   *logger.Logger
}

func newOrderServiceSink(orders orderStatusUpdater, guard deliveryGuard, logg *logger.Logger) (*orderServiceSink, error) {
	if orders == nil {
		return nil, errors.New("order service client is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &orderServiceSink{orders: orders, guard: guard, logg: logg}, nil
}

func (s *orderServiceSink) Deliver(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	completion, ok := resolved.Payload.(*payloads.OrderItemCompletedEvent)
	if !ok {
		return registry.NewNonRetryableError(fmt.Errorf("unexpected payload %T for %s", resolved.Payload, event.EventType))
	}
	if completion.OrderItemID == uuid.Nil {
		return registry.NewNonRetryableError(errors.New("completion payload missing order_item_id"))
	}
	status := completion.Status
	if status == "" {
		status = enums.OrderItemStatusCompleted
	}

	sinkName := string(registry.SinkOrderService)
	if s.guard != nil {
		claim, err := s.guard.Begin(ctx, sinkName, event.ID)
		if err != nil {
			return fmt.Errorf("claim delivery: %w", err)
		}
		switch claim {
		case idempotency.Delivered:
			return errDuplicate
		case idempotency.InFlight:
			// Retried after the claim expires.
			return errDeliveryInFlight
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, defaultDeliverTimeout)
	defer cancel()
	err := s.orders.UpdateOrderItemStatus(callCtx, completion.OrderItemID, status)
	if err == nil {
		if s.guard != nil {
			if confirmErr := s.guard.Confirm(ctx, sinkName, event.ID); confirmErr != nil {
				s.logg.Error(s.logg.WithField(ctx, "outbox_id", event.ID.String()), "confirm delivery failed", confirmErr)
			}
		}
		return nil
	}

	if s.guard != nil {
		if releaseErr := s.guard.Release(ctx, sinkName, event.ID); releaseErr != nil {
			s.logg.Error(s.logg.WithField(ctx, "outbox_id", event.ID.String()), "release delivery claim failed", releaseErr)
		}
	}
	var statusErr *orderclient.StatusError
	if errors.As(err, &statusErr) && statusErr.Rejected() {
		return registry.NewNonRetryableError(err)
	}
	return err
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// pubSubSink publishes lifecycle events on their registry topic.
type pubSubSink struct {
	publisherFactory publisherFactory
}

type topicPublisher interface {
	Publisher(name string) *gcppubsub.Publisher
}

func newPubSubSink(client topicPublisher) *pubSubSink {
	return &pubSubSink{publisherFactory: func(topic string) publisher {
		return newGCPPublisher(client.Publisher(topic))
	}}
}

func (s *pubSubSink) Deliver(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFactory(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	msg := &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultDeliverTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	if _, err := result.Get(publishCtx); err != nil {
		return err
	}
	return nil
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
