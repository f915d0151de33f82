package serials

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-serials/internal/orderclient"
	dbpkg "github.com/angelmondragon/packfinderz-serials/pkg/db"
	"github.com/angelmondragon/packfinderz-serials/pkg/db/models"
	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
	"github.com/angelmondragon/packfinderz-serials/pkg/pagination"
)

const serialUniqueIndex = "ux_serial_units_serial"

// Create registers a single unit. Linked initial states go through the
// allocation guard exactly like assign/allocate would.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.SerialUnit, error) {
	serial, err := NormalizeSerial(input.Serial)
	if err != nil {
		return nil, err
	}
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product_id is required")
	}
	state := input.State
	if state == nil {
		state = Available{}
	}

	unit := &models.SerialUnit{Serial: serial, ProductID: input.ProductID}
	applyState(unit, state)

	create := func(item *orderclient.OrderItem) error {
		return s.db.WithTx(ctx, func(tx *gorm.DB) error {
			return s.createTx(ctx, tx, unit, item)
		})
	}

	if oi := state.OrderItem(); oi != nil {
		err = s.validator.Guard(ctx, *oi, create)
	} else {
		err = create(nil)
	}
	s.observe(TriggerCreate, err, 1)
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"unit_id":    unit.ID.String(),
		"product_id": unit.ProductID.String(),
		"status":     unit.Status,
	})
	s.logg.Info(logCtx, "serial unit created")
	return unit, nil
}

func (s *Service) createTx(ctx context.Context, tx *gorm.DB, unit *models.SerialUnit, item *orderclient.OrderItem) error {
	if err := s.requireProduct(ctx, tx, unit.ProductID); err != nil {
		return err
	}
	repo := s.repo.WithTx(tx)
	if _, err := repo.FindBySerial(ctx, unit.Serial); err == nil {
		return duplicateSerial(unit.Serial)
	} else if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return err
	}

	if item != nil {
		if item.ProductID != unit.ProductID {
			return pkgerrors.New(pkgerrors.CodeValidation, "unit product does not match the order item product")
		}
		if _, err := s.validator.Check(ctx, tx, s.repo, CommitmentLinked, item, 1); err != nil {
			return err
		}
		if unit.Status == enums.SerialStatusAllocatedToDealer {
			if _, err := s.validator.Check(ctx, tx, s.repo, CommitmentAllocated, item, 1); err != nil {
				return err
			}
		}
	}

	if err := repo.Create(ctx, unit); err != nil {
		if dbpkg.IsUniqueViolation(err, serialUniqueIndex) {
			return duplicateSerial(unit.Serial)
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create serial unit")
	}
	if _, err := s.stock.Recompute(ctx, tx, unit.ProductID); err != nil {
		return err
	}
	if item != nil && unit.Status == enums.SerialStatusAllocatedToDealer {
		if _, _, err := s.notifier.Evaluate(ctx, tx, s.repo, item); err != nil {
			return err
		}
	}
	return nil
}

// BulkCreate registers every serial that is not already known as AVAILABLE.
// Duplicates, against the store or within the request, are skipped.
func (s *Service) BulkCreate(ctx context.Context, input BulkCreateInput) (*BulkCreateResult, error) {
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product_id is required")
	}
	if len(input.Serials) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "serials must not be empty")
	}
	normalized := make([]string, len(input.Serials))
	for i, raw := range input.Serials {
		serial, err := NormalizeSerial(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "serials contains an invalid entry").
				WithDetails(map[string]any{"index": i})
		}
		normalized[i] = serial
	}

	result := &BulkCreateResult{Requested: len(normalized), SkippedSerials: []string{}}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.requireProduct(ctx, tx, input.ProductID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		existing, err := repo.ExistingSerials(ctx, normalized)
		if err != nil {
			return err
		}

		units := make([]models.SerialUnit, 0, len(normalized))
		seen := make(map[string]struct{}, len(normalized))
		for _, serial := range normalized {
			_, known := existing[serial]
			_, repeated := seen[serial]
			if known || repeated {
				result.SkippedSerials = append(result.SkippedSerials, serial)
				continue
			}
			seen[serial] = struct{}{}
			unit := models.SerialUnit{Serial: serial, ProductID: input.ProductID}
			applyState(&unit, Available{})
			units = append(units, unit)
		}

		if err := repo.CreateBatch(ctx, units); err != nil {
			if dbpkg.IsUniqueViolation(err, serialUniqueIndex) {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "serials registered concurrently; retry the request")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create serial units")
		}
		if _, err := s.stock.Recompute(ctx, tx, input.ProductID); err != nil {
			return err
		}
		result.Units = units
		return nil
	})
	if err != nil {
		s.observe(TriggerCreate, err, 1)
		return nil, err
	}

	result.Created = len(result.Units)
	result.Skipped = len(result.SkippedSerials)
	s.observe(TriggerCreate, nil, result.Created)

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"product_id": input.ProductID.String(),
		"requested":  result.Requested,
		"created":    result.Created,
		"skipped":    result.Skipped,
	})
	s.logg.Info(logCtx, "serial units bulk created")
	return result, nil
}

// Delete removes an AVAILABLE unit.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		unit, err := repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if unit.Status != enums.SerialStatusAvailable {
			return notDeletable(unit)
		}
		deleted, err := repo.DeleteIfAvailable(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return notDeletable(unit)
		}
		_, err = s.stock.Recompute(ctx, tx, unit.ProductID)
		return err
	})
	if err != nil {
		return err
	}
	s.logg.Info(s.logg.WithField(ctx, "unit_id", id.String()), "serial unit deleted")
	return nil
}

// BulkDelete deletes each AVAILABLE unit and records a skip reason for the rest.
// Stock is recomputed once per affected product.
func (s *Service) BulkDelete(ctx context.Context, ids []uuid.UUID) (*BulkDeleteResult, error) {
	if len(ids) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ids must not be empty")
	}

	result := &BulkDeleteResult{Requested: len(ids), Outcomes: make([]DeleteOutcome, 0, len(ids))}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var affected []uuid.UUID
		for _, id := range ids {
			outcome := DeleteOutcome{ID: id}
			unit, err := repo.FindByID(ctx, id)
			switch {
			case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
				outcome.Reason = SkipReasonNotFound
			case err != nil:
				return err
			case unit.Status != enums.SerialStatusAvailable:
				outcome.Reason = SkipReasonNotAvailable
			default:
				deleted, err := repo.DeleteIfAvailable(ctx, id)
				if err != nil {
					return err
				}
				if deleted {
					outcome.Deleted = true
					affected = append(affected, unit.ProductID)
				} else {
					outcome.Reason = SkipReasonNotAvailable
				}
			}
			result.Outcomes = append(result.Outcomes, outcome)
		}
		return s.stock.RecomputeProducts(ctx, tx, affected)
	})
	if err != nil {
		return nil, err
	}

	for _, outcome := range result.Outcomes {
		if outcome.Deleted {
			result.Deleted++
		} else {
			result.Skipped++
		}
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"requested": result.Requested,
		"deleted":   result.Deleted,
		"skipped":   result.Skipped,
	})
	s.logg.Info(logCtx, "serial units bulk deleted")
	return result, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.SerialUnit, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) GetBySerial(ctx context.Context, serial string) (*models.SerialUnit, error) {
	normalized, err := NormalizeSerial(serial)
	if err != nil {
		return nil, err
	}
	return s.repo.FindBySerial(ctx, normalized)
}

// List pages through units matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter, params pagination.Params) (*ListResult, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, filter, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, err
	}
	page, next := pagination.Trim(rows, params.Limit, func(u models.SerialUnit) pagination.Cursor {
		return pagination.Cursor{Key: u.Serial, ID: u.ID}
	})
	return &ListResult{Items: page, NextCursor: next}, nil
}

func (s *Service) requireProduct(ctx context.Context, tx *gorm.DB, productID uuid.UUID) error {
	ok, err := s.products.WithTx(tx).ProductExists(ctx, productID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check product")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return nil
}

func duplicateSerial(serial string) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "serial already registered").
		WithDetails(map[string]any{"serial": serial})
}

func notDeletable(unit *models.SerialUnit) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "only available units can be deleted").
		WithDetails(IllegalTransition{UnitID: unit.ID, Serial: unit.Serial, From: string(unit.Status), Reason: "not available"})
}
