package serials

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-serials/internal/locks"
	"github.com/angelmondragon/packfinderz-serials/internal/orderclient"
	product "github.com/angelmondragon/packfinderz-serials/internal/products"
	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
	"github.com/angelmondragon/packfinderz-serials/pkg/logger"
	"github.com/angelmondragon/packfinderz-serials/pkg/metrics"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// OrderItems is the order subsystem lookup used to validate quantities.
type OrderItems interface {
	GetOrderItem(ctx context.Context, id uuid.UUID) (*orderclient.OrderItem, error)
}

type stockAggregator interface {
	Recompute(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (int64, error)
	RecomputeProducts(ctx context.Context, tx *gorm.DB, productIDs []uuid.UUID) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

type ServiceParams struct {
	DB         txRunner
	Repository *Repository
	Products   *product.Repository
	Stock      stockAggregator
	Orders     OrderItems
	Locker     locks.Locker
	Outbox     outboxEmitter
	Logger     *logger.Logger
	Metrics    *metrics.SerialMetrics
	// LifecycleEvents queues assigned/allocated/sold/overridden events for fan-out.
	LifecycleEvents bool
}

// Service owns every mutation of serial units: registry writes, state
// transitions, quantity validation and completion detection.
type Service struct {
	db        txRunner
	repo      *Repository
	products  *product.Repository
	stock     stockAggregator
	validator *AllocationValidator
	notifier  *CompletionNotifier
	outbox    outboxEmitter
	logg      *logger.Logger
	metrics   *metrics.SerialMetrics
	lifecycle bool
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("serial repository required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("stock aggregator required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order item lookup required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}

	return &Service{
		db:        params.DB,
		repo:      params.Repository,
		products:  params.Products,
		stock:     params.Stock,
		validator: NewAllocationValidator(params.Orders, params.Locker, params.Metrics),
		notifier:  NewCompletionNotifier(params.Outbox, logg),
		outbox:    params.Outbox,
		logg:      logg,
		metrics:   params.Metrics,
		lifecycle: params.LifecycleEvents,
	}, nil
}

func (s *Service) emitLifecycle(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if !s.lifecycle {
		return nil
	}
	return s.outbox.Emit(ctx, tx, event)
}

func (s *Service) observe(trigger Trigger, err error, n int) {
	outcome := metrics.OutcomeApplied
	switch {
	case err == nil:
	case pkgerrors.CodeOf(err) == pkgerrors.CodeInternal, pkgerrors.CodeOf(err) == pkgerrors.CodeDependency:
		outcome = metrics.OutcomeFailed
		n = 1
	default:
		outcome = metrics.OutcomeRejected
		n = 1
	}
	s.metrics.ObserveTransition(string(trigger), outcome, n)
}
