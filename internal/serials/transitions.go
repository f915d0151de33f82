package serials

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-serials/internal/orderclient"
	"github.com/angelmondragon/packfinderz-serials/pkg/db/models"
	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox/payloads"
)

// plannedMove is one validated unit transition waiting to be written.
type plannedMove struct {
	unit models.SerialUnit
	from State
	to   State
}

// Assign reserves a batch of AVAILABLE units for an order item. The batch is
// all-or-nothing: it is validated against the order item quantity and every
// unit's state before any row changes, and written in one transaction.
func (s *Service) Assign(ctx context.Context, input AssignInput) (*BatchResult, error) {
	if err := validateUnitBatch(input.UnitIDs); err != nil {
		return nil, err
	}
	ev := Event{Trigger: TriggerAssign, OrderItemID: input.OrderItemID}

	var result *BatchResult
	err := s.validator.Guard(ctx, input.OrderItemID, func(item *orderclient.OrderItem) error {
		return s.db.WithTx(ctx, func(tx *gorm.DB) error {
			committed, err := s.validator.Check(ctx, tx, s.repo, CommitmentLinked, item, len(input.UnitIDs))
			if err != nil {
				return err
			}
			moves, err := s.plan(ctx, tx, input.UnitIDs, ev)
			if err != nil {
				return err
			}
			for _, move := range moves {
				if move.unit.ProductID != item.ProductID {
					return pkgerrors.New(pkgerrors.CodeValidation, "unit product does not match the order item product").
						WithDetails(map[string]any{"unit_id": move.unit.ID, "product_id": move.unit.ProductID, "order_item_product_id": item.ProductID})
				}
			}
			units, err := s.applyMoves(ctx, tx, moves)
			if err != nil {
				return err
			}
			if err := s.emitLifecycle(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventSerialUnitsAssigned,
				AggregateType: enums.AggregateOrderItem,
				AggregateID:   item.ID,
				Data: payloads.SerialUnitsAssignedEvent{
					OrderItemID: item.ID,
					ProductID:   item.ProductID,
					UnitIDs:     unitIDs(units),
					Serials:     unitSerials(units),
				},
			}); err != nil {
				return err
			}
			result = &BatchResult{
				OrderItemID: item.ID,
				Units:       units,
				Committed:   committed + int64(len(units)),
				Quantity:    item.Quantity,
			}
			return nil
		})
	})
	s.observe(TriggerAssign, err, len(input.UnitIDs))
	if err != nil {
		s.logRejected(ctx, TriggerAssign, input.OrderItemID, err)
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_item_id": input.OrderItemID.String(),
		"units":         len(result.Units),
		"committed":     result.Committed,
		"quantity":      result.Quantity,
	})
	s.logg.Info(logCtx, "serial units assigned")
	return result, nil
}

// Unassign returns a reserved unit to stock. The caller's order item must be
// the one the unit is reserved for.
func (s *Service) Unassign(ctx context.Context, input UnassignInput) (*models.SerialUnit, error) {
	if input.OrderItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order_item_id is required")
	}
	ev := Event{Trigger: TriggerUnassign, OrderItemID: input.OrderItemID}

	unlock, err := s.validator.locker.Lock(ctx, input.OrderItemID.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = unlock(context.WithoutCancel(ctx)) }()

	var unit models.SerialUnit
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		moves, err := s.plan(ctx, tx, []uuid.UUID{input.UnitID}, ev)
		if err != nil {
			return err
		}
		units, err := s.applyMoves(ctx, tx, moves)
		if err != nil {
			return err
		}
		unit = units[0]
		return nil
	})
	s.observe(TriggerUnassign, err, 1)
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"unit_id":       unit.ID.String(),
		"order_item_id": input.OrderItemID.String(),
	})
	s.logg.Info(logCtx, "serial unit unassigned")
	return &unit, nil
}

// Allocate hands reserved units to a dealer. Like Assign it is validated as a
// whole batch; once the order item reaches its quantity a completion event is
// queued in the same transaction.
func (s *Service) Allocate(ctx context.Context, input AllocateInput) (*BatchResult, error) {
	if err := validateUnitBatch(input.UnitIDs); err != nil {
		return nil, err
	}
	if input.DealerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dealer_id is required")
	}
	ev := Event{Trigger: TriggerAllocate, OrderItemID: input.OrderItemID, DealerID: input.DealerID}

	var result *BatchResult
	err := s.validator.Guard(ctx, input.OrderItemID, func(item *orderclient.OrderItem) error {
		return s.db.WithTx(ctx, func(tx *gorm.DB) error {
			committed, err := s.validator.Check(ctx, tx, s.repo, CommitmentAllocated, item, len(input.UnitIDs))
			if err != nil {
				return err
			}
			moves, err := s.plan(ctx, tx, input.UnitIDs, ev)
			if err != nil {
				return err
			}
			units, err := s.applyMoves(ctx, tx, moves)
			if err != nil {
				return err
			}
			if err := s.emitLifecycle(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventSerialUnitsAllocated,
				AggregateType: enums.AggregateOrderItem,
				AggregateID:   item.ID,
				Data: payloads.SerialUnitsAllocatedEvent{
					OrderItemID: item.ID,
					DealerID:    input.DealerID,
					UnitIDs:     unitIDs(units),
					Serials:     unitSerials(units),
				},
			}); err != nil {
				return err
			}
			completed, _, err := s.notifier.Evaluate(ctx, tx, s.repo, item)
			if err != nil {
				return err
			}
			result = &BatchResult{
				OrderItemID: item.ID,
				Units:       units,
				Committed:   committed + int64(len(units)),
				Quantity:    item.Quantity,
				Completed:   completed,
			}
			return nil
		})
	})
	s.observe(TriggerAllocate, err, len(input.UnitIDs))
	if err != nil {
		s.logRejected(ctx, TriggerAllocate, input.OrderItemID, err)
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_item_id": input.OrderItemID.String(),
		"dealer_id":     input.DealerID.String(),
		"units":         len(result.Units),
		"committed":     result.Committed,
		"quantity":      result.Quantity,
		"completed":     result.Completed,
	})
	s.logg.Info(logCtx, "serial units allocated")
	return result, nil
}

// Sell finalizes the sale of an allocated unit looked up by its serial string.
func (s *Service) Sell(ctx context.Context, serial string) (*models.SerialUnit, error) {
	normalized, err := NormalizeSerial(serial)
	if err != nil {
		return nil, err
	}

	var unit models.SerialUnit
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.repo.WithTx(tx).FindBySerial(ctx, normalized)
		if err != nil {
			return err
		}
		from, err := StateOf(current)
		if err != nil {
			return err
		}
		to, err := Next(from, Event{Trigger: TriggerSell})
		if err != nil {
			return withUnit(err, current.ID, current.Serial)
		}
		units, err := s.applyMoves(ctx, tx, []plannedMove{{unit: *current, from: from, to: to}})
		if err != nil {
			return err
		}
		unit = units[0]

		allocated := from.(Allocated)
		return s.emitLifecycle(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSerialUnitSold,
			AggregateType: enums.AggregateSerialUnit,
			AggregateID:   unit.ID,
			Data: payloads.SerialUnitSoldEvent{
				UnitID:      unit.ID,
				Serial:      unit.Serial,
				ProductID:   unit.ProductID,
				OrderItemID: allocated.OrderItemID,
				DealerID:    allocated.DealerID,
				SoldAt:      unit.UpdatedAt,
			},
		})
	})
	s.observe(TriggerSell, err, 1)
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"unit_id": unit.ID.String(),
		"serial":  unit.Serial,
	})
	s.logg.Info(logCtx, "serial unit sold")
	return &unit, nil
}

// Override is the administrative correction path. It may jump between any two
// states but only to a well-formed target, and targets that link an order
// item are held to the same quantity limits as assign and allocate.
func (s *Service) Override(ctx context.Context, input OverrideInput) (*models.SerialUnit, error) {
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}
	if input.Target == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "target state is required")
	}

	var (
		unit models.SerialUnit
		from State
	)
	run := func(item *orderclient.OrderItem) error {
		return s.db.WithTx(ctx, func(tx *gorm.DB) error {
			current, err := s.repo.WithTx(tx).FindByID(ctx, input.UnitID)
			if err != nil {
				return err
			}
			from, err = StateOf(current)
			if err != nil {
				return err
			}
			if err := checkOverride(from, input.Target); err != nil {
				return withUnit(err, current.ID, current.Serial)
			}
			if item != nil {
				if err := s.checkOverrideQuantity(ctx, tx, current, from, input.Target, item); err != nil {
					return err
				}
			}
			units, err := s.applyMoves(ctx, tx, []plannedMove{{unit: *current, from: from, to: input.Target}})
			if err != nil {
				return err
			}
			unit = units[0]

			if err := s.emitLifecycle(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventSerialUnitOverridden,
				AggregateType: enums.AggregateSerialUnit,
				AggregateID:   unit.ID,
				Data: payloads.SerialUnitOverriddenEvent{
					UnitID:     unit.ID,
					Serial:     unit.Serial,
					ProductID:  unit.ProductID,
					FromStatus: from.Status(),
					ToStatus:   unit.Status,
					Reason:     input.Reason,
				},
			}); err != nil {
				return err
			}
			if item != nil && unit.Status == enums.SerialStatusAllocatedToDealer {
				if _, _, err := s.notifier.Evaluate(ctx, tx, s.repo, item); err != nil {
					return err
				}
			}
			return nil
		})
	}

	var err error
	if oi := input.Target.OrderItem(); oi != nil {
		err = s.validator.Guard(ctx, *oi, run)
	} else {
		err = run(nil)
	}
	s.observe(TriggerOverride, err, 1)
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"unit_id":     unit.ID.String(),
		"from_status": from.Status(),
		"to_status":   unit.Status,
		"reason":      input.Reason,
	})
	s.logg.Warn(logCtx, "serial unit state overridden")
	return &unit, nil
}

func (s *Service) checkOverrideQuantity(ctx context.Context, tx *gorm.DB, unit *models.SerialUnit, from, to State, item *orderclient.OrderItem) error {
	if unit.ProductID != item.ProductID {
		return pkgerrors.New(pkgerrors.CodeValidation, "unit product does not match the order item product")
	}
	// units already counted against this order item are not proposed again
	alreadyLinked := equalRef(from.OrderItem(), to.OrderItem())
	if !alreadyLinked {
		if _, err := s.validator.Check(ctx, tx, s.repo, CommitmentLinked, item, 1); err != nil {
			return err
		}
	}
	alreadyAllocated := alreadyLinked && from.Status() == enums.SerialStatusAllocatedToDealer
	if to.Status() == enums.SerialStatusAllocatedToDealer && !alreadyAllocated {
		if _, err := s.validator.Check(ctx, tx, s.repo, CommitmentAllocated, item, 1); err != nil {
			return err
		}
	}
	return nil
}

// plan loads the units and computes every transition without writing. Missing
// units fail with NOT_FOUND and illegal transitions with STATE_CONFLICT.
func (s *Service) plan(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, ev Event) ([]plannedMove, error) {
	found, err := s.repo.WithTx(tx).FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	var missing []uuid.UUID
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "serial unit not found").
			WithDetails(map[string]any{"missing": missing})
	}

	moves := make([]plannedMove, 0, len(ids))
	for _, id := range ids {
		unit := found[id]
		from, err := StateOf(&unit)
		if err != nil {
			return nil, err
		}
		to, err := Next(from, ev)
		if err != nil {
			return nil, withUnit(err, unit.ID, unit.Serial)
		}
		moves = append(moves, plannedMove{unit: unit, from: from, to: to})
	}
	return moves, nil
}

// applyMoves writes planned transitions and recomputes stock for every product
// touched, all inside tx.
func (s *Service) applyMoves(ctx context.Context, tx *gorm.DB, moves []plannedMove) ([]models.SerialUnit, error) {
	repo := s.repo.WithTx(tx)
	now := time.Now().UTC()
	units := make([]models.SerialUnit, 0, len(moves))
	products := make([]uuid.UUID, 0, 1)
	for _, move := range moves {
		if err := repo.UpdateState(ctx, move.unit.ID, move.from, move.to); err != nil {
			return nil, err
		}
		unit := move.unit
		applyState(&unit, move.to)
		unit.UpdatedAt = now
		units = append(units, unit)
		products = append(products, unit.ProductID)
	}
	if err := s.stock.RecomputeProducts(ctx, tx, products); err != nil {
		return nil, err
	}
	return units, nil
}

func (s *Service) logRejected(ctx context.Context, trigger Trigger, orderItemID uuid.UUID, err error) {
	fields := map[string]any{
		"trigger":       trigger,
		"order_item_id": orderItemID.String(),
		"error_code":    pkgerrors.CodeOf(err),
	}
	if overflow, ok := pkgerrors.OverflowOf(err); ok {
		fields["committed"] = overflow.Committed
		fields["proposed"] = overflow.Proposed
		fields["max"] = overflow.Max
	}
	s.logg.Warn(s.logg.WithFields(ctx, fields), "serial batch rejected")
}

func unitIDs(units []models.SerialUnit) []uuid.UUID {
	ids := make([]uuid.UUID, len(units))
	for i, unit := range units {
		ids[i] = unit.ID
	}
	return ids
}

func unitSerials(units []models.SerialUnit) []string {
	serials := make([]string, len(units))
	for i, unit := range units {
		serials[i] = unit.Serial
	}
	sort.Strings(serials)
	return serials
}
