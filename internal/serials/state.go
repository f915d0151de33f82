package serials

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-serials/pkg/db/models"
	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
)

// State is the lifecycle position of a unit. Each variant carries exactly the
// references valid for its status, so writing a unit from a State keeps the
// order item and dealer columns consistent with the status column.
type State interface {
	Status() enums.SerialStatus
	OrderItem() *uuid.UUID
	Dealer() *uuid.UUID
	sealed()
}

type Available struct{}

type Reserved struct {
	OrderItemID uuid.UUID
}

type Allocated struct {
	OrderItemID uuid.UUID
	DealerID    uuid.UUID
}

type Sold struct{}

func (Available) Status() enums.SerialStatus { return enums.SerialStatusAvailable }
func (Available) OrderItem() *uuid.UUID      { return nil }
func (Available) Dealer() *uuid.UUID         { return nil }
func (Available) sealed()                    {}

func (r Reserved) Status() enums.SerialStatus { return enums.SerialStatusReservedForOrder }
func (r Reserved) OrderItem() *uuid.UUID      { return ref(r.OrderItemID) }
func (Reserved) Dealer() *uuid.UUID           { return nil }
func (Reserved) sealed()                      {}

func (a Allocated) Status() enums.SerialStatus { return enums.SerialStatusAllocatedToDealer }
func (a Allocated) OrderItem() *uuid.UUID      { return ref(a.OrderItemID) }
func (a Allocated) Dealer() *uuid.UUID         { return ref(a.DealerID) }
func (Allocated) sealed()                      {}

func (Sold) Status() enums.SerialStatus { return enums.SerialStatusSold }
func (Sold) OrderItem() *uuid.UUID      { return nil }
func (Sold) Dealer() *uuid.UUID         { return nil }
func (Sold) sealed()                    {}

// NewState builds a well-formed variant from raw fields. References that the
// status does not allow, or missing required ones, are rejected.
func NewState(status enums.SerialStatus, orderItemID, dealerID *uuid.UUID) (State, error) {
	hasOrderItem := orderItemID != nil && *orderItemID != uuid.Nil
	hasDealer := dealerID != nil && *dealerID != uuid.Nil

	switch status {
	case enums.SerialStatusAvailable, enums.SerialStatusSold:
		if hasOrderItem || hasDealer {
			return nil, invalidState(status, "must not reference an order item or dealer")
		}
		if status == enums.SerialStatusSold {
			return Sold{}, nil
		}
		return Available{}, nil
	case enums.SerialStatusReservedForOrder:
		if !hasOrderItem {
			return nil, invalidState(status, "requires an order item")
		}
		if hasDealer {
			return nil, invalidState(status, "must not reference a dealer")
		}
		return Reserved{OrderItemID: *orderItemID}, nil
	case enums.SerialStatusAllocatedToDealer:
		if !hasOrderItem || !hasDealer {
			return nil, invalidState(status, "requires an order item and a dealer")
		}
		return Allocated{OrderItemID: *orderItemID, DealerID: *dealerID}, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown status %q", status))
	}
}

// StateOf reads the variant stored on a unit row.
func StateOf(unit *models.SerialUnit) (State, error) {
	if unit == nil {
		return nil, fmt.Errorf("unit required")
	}
	state, err := NewState(unit.Status, unit.OrderItemID, unit.DealerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("unit %s holds an inconsistent state", unit.ID))
	}
	return state, nil
}

// applyState copies the variant onto the unit's columns.
func applyState(unit *models.SerialUnit, state State) {
	unit.Status = state.Status()
	unit.OrderItemID = state.OrderItem()
	unit.DealerID = state.Dealer()
}

func sameState(a, b State) bool {
	return a.Status() == b.Status() &&
		equalRef(a.OrderItem(), b.OrderItem()) &&
		equalRef(a.Dealer(), b.Dealer())
}

func ref(id uuid.UUID) *uuid.UUID {
	return &id
}

func equalRef(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func invalidState(status enums.SerialStatus, reason string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s %s", status, reason))
}
