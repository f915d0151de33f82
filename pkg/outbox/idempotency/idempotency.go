// Package idempotency keeps the outbox publisher from delivering the same
// row to a sink twice when a delivery succeeded but the row was not marked
// published, e.g. after a crash.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-serials/pkg/redis"
)

// ClaimTTL bounds how long an unconfirmed claim blocks other attempts.
const ClaimTTL = 2 * time.Minute

const (
	markerInFlight  = "in_flight"
	markerDelivered = "delivered"
)

// Claim is the outcome of Begin.
type Claim int

const (
	// Claimed means the caller owns the delivery and must Confirm or Release.
	Claimed Claim = iota
	// InFlight means another attempt holds an unconfirmed claim.
	InFlight
	// Delivered means the sink already received the event.
	Delivered
)

// Guard tracks deliveries under serials:idempotency:delivered:<sink>:<id>.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewGuard remembers confirmed deliveries for ttl; zero keeps them forever.
func NewGuard(store redis.IdempotencyStore, ttl time.Duration) (*Guard, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, ttl: ttl}, nil
}

// Begin tries to claim the delivery of eventID to sink.
func (g *Guard) Begin(ctx context.Context, sink string, eventID uuid.UUID) (Claim, error) {
	key, err := g.key(sink, eventID)
	if err != nil {
		return 0, err
	}
	won, err := g.store.SetNX(ctx, key, markerInFlight, ClaimTTL)
	if err != nil {
		return 0, err
	}
	if won {
		return Claimed, nil
	}
	marker, err := g.store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls; let the retry claim it.
		return InFlight, nil
	}
	if err != nil {
		return 0, err
	}
	if marker == markerDelivered {
		return Delivered, nil
	}
	return InFlight, nil
}

// Confirm records a successful delivery for the guard's ttl.
func (g *Guard) Confirm(ctx context.Context, sink string, eventID uuid.UUID) error {
	key, err := g.key(sink, eventID)
	if err != nil {
		return err
	}
	return g.store.Set(ctx, key, markerDelivered, g.ttl)
}

// Release drops a claim after a failed delivery so the next attempt can run.
func (g *Guard) Release(ctx context.Context, sink string, eventID uuid.UUID) error {
	key, err := g.key(sink, eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) key(sink string, eventID uuid.UUID) (string, error) {
	switch {
	case sink == "":
		return "", errors.New("sink name is required")
	case eventID == uuid.Nil:
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey("delivered:"+sink, eventID.String()), nil
}
