package serials

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-serials/internal/locks"
	"github.com/angelmondragon/packfinderz-serials/internal/orderclient"
	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
	"github.com/angelmondragon/packfinderz-serials/pkg/metrics"
)

// Commitment selects which linked units count against an order item's quantity.
type Commitment string

const (
	// CommitmentLinked counts units linked in any status (assign).
	CommitmentLinked Commitment = "assign"
	// CommitmentAllocated counts units already allocated to a dealer (allocate).
	CommitmentAllocated Commitment = "allocate"
)

// AllocationValidator guards order item quantities. Guard serializes callers
// per order item so the committed count read by Check cannot go stale before
// the batch commits.
type AllocationValidator struct {
	orders  OrderItems
	locker  locks.Locker
	metrics *metrics.SerialMetrics
}

func NewAllocationValidator(orders OrderItems, locker locks.Locker, m *metrics.SerialMetrics) *AllocationValidator {
	return &AllocationValidator{orders: orders, locker: locker, metrics: m}
}

// Guard locks the order item, resolves it from the order subsystem and runs fn.
// Lookup failures abort before fn runs.
func (v *AllocationValidator) Guard(ctx context.Context, orderItemID uuid.UUID, fn func(item *orderclient.OrderItem) error) error {
	if orderItemID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order_item_id is required")
	}
	unlock, err := v.locker.Lock(ctx, orderItemID.String())
	if err != nil {
		return err
	}
	defer func() { _ = unlock(context.WithoutCancel(ctx)) }()

	item, err := v.orders.GetOrderItem(ctx, orderItemID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "order item not found")
		}
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve order item")
	}
	if item.Quantity < 0 {
		return pkgerrors.New(pkgerrors.CodeDependency, "order item has a negative quantity")
	}
	return fn(item)
}

// Check rejects the batch when committed + proposed exceeds the order item quantity.
func (v *AllocationValidator) Check(ctx context.Context, tx *gorm.DB, repo *Repository, kind Commitment, item *orderclient.OrderItem, proposed int) (int64, error) {
	var statuses []enums.SerialStatus
	if kind == CommitmentAllocated {
		statuses = []enums.SerialStatus{enums.SerialStatusAllocatedToDealer}
	}
	committed, err := repo.WithTx(tx).CountByOrderItem(ctx, item.ID, statuses...)
	if err != nil {
		return 0, err
	}
	if committed+int64(proposed) > item.Quantity {
		v.metrics.IncAllocationRejected(string(kind))
		return committed, pkgerrors.InvalidAssignment(committed, int64(proposed), item.Quantity)
	}
	return committed, nil
}
