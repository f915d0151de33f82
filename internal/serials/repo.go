package serials

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-serials/pkg/db/models"
	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
	"github.com/angelmondragon/packfinderz-serials/pkg/pagination"
)

const (
	createBatchSize = 200
	lookupChunkSize = 500
)

// Repository persists serial units.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a serial unit repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, unit *models.SerialUnit) error {
	return r.db.WithContext(ctx).Create(unit).Error
}

func (r *Repository) CreateBatch(ctx context.Context, units []models.SerialUnit) error {
	if len(units) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&units, createBatchSize).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SerialUnit, error) {
	var unit models.SerialUnit
	if err := r.db.WithContext(ctx).First(&unit, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "serial unit not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load serial unit")
	}
	return &unit, nil
}

func (r *Repository) FindBySerial(ctx context.Context, serial string) (*models.SerialUnit, error) {
	var unit models.SerialUnit
	if err := r.db.WithContext(ctx).First(&unit, "serial = ?", serial).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "serial unit not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load serial unit")
	}
	return &unit, nil
}

// FindByIDs loads the units keyed by id; ids without a row are absent from the map.
func (r *Repository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.SerialUnit, error) {
	out := make(map[uuid.UUID]models.SerialUnit, len(ids))
	for start := 0; start < len(ids); start += lookupChunkSize {
		end := min(start+lookupChunkSize, len(ids))
		var rows []models.SerialUnit
		if err := r.db.WithContext(ctx).Where("id IN ?", ids[start:end]).Find(&rows).Error; err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load serial units")
		}
		for _, row := range rows {
			out[row.ID] = row
		}
	}
	return out, nil
}

// ExistingSerials returns which of the given serials are already registered.
// Serials are globally unique, so the lookup is not scoped to a product.
func (r *Repository) ExistingSerials(ctx context.Context, serials []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for start := 0; start < len(serials); start += lookupChunkSize {
		end := min(start+lookupChunkSize, len(serials))
		var found []string
		if err := r.db.WithContext(ctx).
			Model(&models.SerialUnit{}).
			Where("serial IN ?", serials[start:end]).
			Pluck("serial", &found).Error; err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load existing serials")
		}
		for _, s := range found {
			out[s] = struct{}{}
		}
	}
	return out, nil
}

// DeleteIfAvailable removes the unit only while it is AVAILABLE.
func (r *Repository) DeleteIfAvailable(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, enums.SerialStatusAvailable).
		Delete(&models.SerialUnit{})
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "delete serial unit")
	}
	return res.RowsAffected == 1, nil
}

// UpdateState moves a unit from one state to another. The write is conditional
// on the row still holding `from`; a concurrent change makes it fail with
// STATE_CONFLICT instead of overwriting.
func (r *Repository) UpdateState(ctx context.Context, id uuid.UUID, from, to State) error {
	query := r.db.WithContext(ctx).
		Model(&models.SerialUnit{}).
		Where("id = ? AND status = ?", id, from.Status())
	if oi := from.OrderItem(); oi != nil {
		query = query.Where("order_item_id = ?", *oi)
	} else {
		query = query.Where("order_item_id IS NULL")
	}

	res := query.Updates(map[string]any{
		"status":        to.Status(),
		"order_item_id": nullableUUID(to.OrderItem()),
		"dealer_id":     nullableUUID(to.Dealer()),
		"updated_at":    time.Now().UTC(),
	})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "update serial unit state")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "serial unit changed concurrently").
			WithDetails(IllegalTransition{UnitID: id, From: string(from.Status()), Reason: "stale state"})
	}
	return nil
}

// CountByOrderItem counts units linked to the order item, optionally limited to statuses.
func (r *Repository) CountByOrderItem(ctx context.Context, orderItemID uuid.UUID, statuses ...enums.SerialStatus) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.SerialUnit{}).
		Where("order_item_id = ?", orderItemID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count order item units")
	}
	return count, nil
}

// ListFilter narrows a unit listing; nil fields are ignored.
type ListFilter struct {
	ProductID   *uuid.UUID
	Status      *enums.SerialStatus
	OrderItemID *uuid.UUID
	DealerID    *uuid.UUID
}

// List pages through units ordered by serial then id.
func (r *Repository) List(ctx context.Context, filter ListFilter, limit int, cursor *pagination.Cursor) ([]models.SerialUnit, error) {
	query := r.db.WithContext(ctx).Model(&models.SerialUnit{})
	if filter.ProductID != nil {
		query = query.Where("product_id = ?", *filter.ProductID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.OrderItemID != nil {
		query = query.Where("order_item_id = ?", *filter.OrderItemID)
	}
	if filter.DealerID != nil {
		query = query.Where("dealer_id = ?", *filter.DealerID)
	}
	if cursor != nil {
		query = query.Where("(serial > ?) OR (serial = ? AND id > ?)", cursor.Key, cursor.Key, cursor.ID)
	}

	var rows []models.SerialUnit
	if err := query.Order("serial ASC").Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list serial units")
	}
	return rows, nil
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}
