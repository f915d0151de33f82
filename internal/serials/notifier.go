package serials

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-serials/internal/orderclient"
	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	"github.com/angelmondragon/packfinderz-serials/pkg/logger"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox/payloads"
)

// CompletionNotifier queues an order_item_completed event once an order item
// has exactly its quantity allocated. The event rides the allocation's
// transaction and is delivered later by the outbox publisher.
type CompletionNotifier struct {
	outbox outboxEmitter
	logg   *logger.Logger
}

func NewCompletionNotifier(emitter outboxEmitter, logg *logger.Logger) *CompletionNotifier {
	return &CompletionNotifier{outbox: emitter, logg: logg}
}

// Evaluate reports whether the order item is complete and, if so, whether this
// call queued the notification (false when one is already recorded).
func (n *CompletionNotifier) Evaluate(ctx context.Context, tx *gorm.DB, repo *Repository, item *orderclient.OrderItem) (completed bool, queued bool, err error) {
	allocated, err := repo.WithTx(tx).CountByOrderItem(ctx, item.ID, enums.SerialStatusAllocatedToDealer)
	if err != nil {
		return false, false, err
	}
	if allocated != item.Quantity {
		return false, false, nil
	}

	queued, err = n.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderItemCompleted,
		AggregateType: enums.AggregateOrderItem,
		AggregateID:   item.ID,
		Data: payloads.OrderItemCompletedEvent{
			OrderItemID:    item.ID,
			ProductID:      item.ProductID,
			AllocatedCount: allocated,
			Quantity:       item.Quantity,
			Status:         enums.OrderItemStatusCompleted,
		},
	})
	if err != nil {
		return true, false, err
	}

	logCtx := n.logg.WithFields(ctx, map[string]any{
		"order_item_id": item.ID.String(),
		"allocated":     allocated,
		"quantity":      item.Quantity,
		"queued":        queued,
	})
	n.logg.Info(logCtx, "order item allocation complete")
	return true, queued, nil
}
