package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
)

// OrderItemCompletedEvent asks the order subsystem to mark an order item completed
// once every ordered unit has been allocated to a dealer.
type OrderItemCompletedEvent struct {
	OrderItemID    uuid.UUID             `json:"order_item_id"`
	ProductID      uuid.UUID             `json:"product_id"`
	AllocatedCount int64                 `json:"allocated_count"`
	Quantity       int64                 `json:"quantity"`
	Status         enums.OrderItemStatus `json:"status"`
}

// SerialUnitsAssignedEvent is published after units are reserved for an order item.
type SerialUnitsAssignedEvent struct {
	OrderItemID uuid.UUID   `json:"order_item_id"`
	ProductID   uuid.UUID   `json:"product_id"`
	UnitIDs     []uuid.UUID `json:"unit_ids"`
	Serials     []string    `json:"serials"`
}

// SerialUnitsAllocatedEvent is published after reserved units are handed to a dealer.
type SerialUnitsAllocatedEvent struct {
	OrderItemID uuid.UUID   `json:"order_item_id"`
	DealerID    uuid.UUID   `json:"dealer_id"`
	UnitIDs     []uuid.UUID `json:"unit_ids"`
	Serials     []string    `json:"serials"`
}

// SerialUnitSoldEvent is published when an allocated unit is sold to a customer.
type SerialUnitSoldEvent struct {
	UnitID      uuid.UUID `json:"unit_id"`
	Serial      string    `json:"serial"`
	ProductID   uuid.UUID `json:"product_id"`
	OrderItemID uuid.UUID `json:"order_item_id"`
	DealerID    uuid.UUID `json:"dealer_id"`
	SoldAt      time.Time `json:"sold_at"`
}

// SerialUnitOverriddenEvent records an administrative state correction.
type SerialUnitOverriddenEvent struct {
	UnitID     uuid.UUID          `json:"unit_id"`
	Serial     string             `json:"serial"`
	ProductID  uuid.UUID          `json:"product_id"`
	FromStatus enums.SerialStatus `json:"from_status"`
	ToStatus   enums.SerialStatus `json:"to_status"`
	Reason     string             `json:"reason"`
}
