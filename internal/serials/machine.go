package serials

import (
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
)

// Trigger names the operation that moves a unit between states.
type Trigger string

const (
	TriggerCreate   Trigger = "create"
	TriggerAssign   Trigger = "assign"
	TriggerUnassign Trigger = "unassign"
	TriggerAllocate Trigger = "allocate"
	TriggerSell     Trigger = "sell"
	TriggerOverride Trigger = "override"
)

// Event is a requested transition plus the references it carries.
type Event struct {
	Trigger     Trigger
	OrderItemID uuid.UUID
	DealerID    uuid.UUID
}

// IllegalTransition describes a rejected transition.
type IllegalTransition struct {
	UnitID  uuid.UUID `json:"unit_id"`
	Serial  string    `json:"serial,omitempty"`
	From    string    `json:"from"`
	Trigger Trigger   `json:"trigger"`
	Reason  string    `json:"reason"`
}

// Next returns the state reached from `from` by ev. Only the four lifecycle
// edges are legal:
//
//	available          -assign->   reserved_for_order
//	reserved_for_order -unassign-> available            (same order item)
//	reserved_for_order -allocate-> allocated_to_dealer  (same order item)
//	allocated_to_dealer -sell->    sold
func Next(from State, ev Event) (State, error) {
	switch ev.Trigger {
	case TriggerAssign:
		if ev.OrderItemID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "order item id is required")
		}
		if _, ok := from.(Available); !ok {
			return nil, illegal(from, ev, "only available units can be assigned")
		}
		return Reserved{OrderItemID: ev.OrderItemID}, nil

	case TriggerUnassign:
		reserved, ok := from.(Reserved)
		if !ok {
			return nil, illegal(from, ev, "only reserved units can be unassigned")
		}
		if reserved.OrderItemID != ev.OrderItemID {
			return nil, illegal(from, ev, "unit is not linked to this order item")
		}
		return Available{}, nil

	case TriggerAllocate:
		if ev.DealerID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "dealer id is required")
		}
		reserved, ok := from.(Reserved)
		if !ok {
			return nil, illegal(from, ev, "only reserved units can be allocated")
		}
		if reserved.OrderItemID != ev.OrderItemID {
			return nil, illegal(from, ev, "unit is reserved for a different order item")
		}
		return Allocated{OrderItemID: reserved.OrderItemID, DealerID: ev.DealerID}, nil

	case TriggerSell:
		if _, ok := from.(Allocated); !ok {
			return nil, illegal(from, ev, "only allocated units can be sold")
		}
		return Sold{}, nil

	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported trigger %q", ev.Trigger))
	}
}

// checkOverride constrains an administrative correction: the target must be a
// different, well-formed state. Quantity limits are enforced by the caller.
func checkOverride(from, to State) error {
	if to == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "target state is required")
	}
	if sameState(from, to) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "unit already holds the target state").
			WithDetails(IllegalTransition{From: string(from.Status()), Trigger: TriggerOverride, Reason: "no-op override"})
	}
	return nil
}

func illegal(from State, ev Event, reason string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot %s unit in status %s: %s", ev.Trigger, from.Status(), reason)).
		WithDetails(IllegalTransition{From: string(from.Status()), Trigger: ev.Trigger, Reason: reason})
}

// withUnit stamps the unit identity onto an IllegalTransition error.
func withUnit(err error, unitID uuid.UUID, serial string) error {
	typed := pkgerrors.As(err)
	if typed == nil {
		return err
	}
	if detail, ok := typed.Details().(IllegalTransition); ok {
		detail.UnitID = unitID
		detail.Serial = serial
		return pkgerrors.New(typed.Code(), fmt.Sprintf("unit %s: %s", serial, typed.Message())).WithDetails(detail)
	}
	return err
}
