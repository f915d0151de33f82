package stock

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	product "github.com/angelmondragon/packfinderz-serials/internal/products"
	"github.com/angelmondragon/packfinderz-serials/pkg/db/models"
	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
	"github.com/angelmondragon/packfinderz-serials/pkg/logger"
	"github.com/angelmondragon/packfinderz-serials/pkg/metrics"
)

const driftSourceSweep = "sweep"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Drift is a product whose cached available count disagreed with its units.
type Drift struct {
	ProductID uuid.UUID `json:"product_id"`
	Previous  int64     `json:"previous"`
	Actual    int64     `json:"actual"`
}

// Summary is the per-status breakdown of a product's units.
type Summary struct {
	ProductID      uuid.UUID                    `json:"product_id"`
	AvailableCount int64                        `json:"available_count"`
	Counts         map[enums.SerialStatus]int64 `json:"counts"`
	Total          int64                        `json:"total"`
}

type AggregatorParams struct {
	DB       txRunner
	Products *product.Repository
	Logger   *logger.Logger
	Metrics  *metrics.SerialMetrics
}

// Aggregator keeps products.available_count equal to the number of AVAILABLE units.
type Aggregator struct {
	db       txRunner
	products *product.Repository
	logg     *logger.Logger
	metrics  *metrics.SerialMetrics
}

func NewAggregator(params AggregatorParams) (*Aggregator, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("product repository required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Aggregator{
		db:       params.DB,
		products: params.Products,
		logg:     logg,
		metrics:  params.Metrics,
	}, nil
}

// Recompute counts the product's AVAILABLE units and writes the result inside tx,
// so the cached value commits or rolls back with the triggering mutation.
func (a *Aggregator) Recompute(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (int64, error) {
	if tx == nil {
		return 0, fmt.Errorf("transaction required")
	}
	count, err := countAvailable(ctx, tx, productID)
	if err != nil {
		return 0, err
	}
	if err := a.products.WithTx(tx).SaveProductStock(ctx, productID, count); err != nil {
		return 0, err
	}
	return count, nil
}

// RecomputeProducts recomputes each distinct product once.
func (a *Aggregator) RecomputeProducts(ctx context.Context, tx *gorm.DB, productIDs []uuid.UUID) error {
	seen := make(map[uuid.UUID]struct{}, len(productIDs))
	for _, id := range productIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, err := a.Recompute(ctx, tx, id); err != nil {
			return fmt.Errorf("recompute stock for %s: %w", id, err)
		}
	}
	return nil
}

// RecomputeAll sweeps every product and corrects drifted counts. Each product is
// fixed in its own transaction; failures are collected and the sweep continues.
func (a *Aggregator) RecomputeAll(ctx context.Context) ([]Drift, error) {
	ids, err := a.products.ListProductIDs(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list products")
	}

	drifts := make([]Drift, 0)
	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		drift, err := a.reconcile(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("product %s: %w", id, err))
			continue
		}
		if drift != nil {
			drifts = append(drifts, *drift)
		}
	}

	a.metrics.AddStockDrift(driftSourceSweep, len(drifts))
	logCtx := a.logg.WithFields(ctx, map[string]any{
		"products_scanned": len(ids),
		"drifts_corrected": len(drifts),
		"failures":         len(errs),
	})
	a.logg.Info(logCtx, "stock sweep complete")
	return drifts, multierr.Combine(errs...)
}

func (a *Aggregator) reconcile(ctx context.Context, productID uuid.UUID) (*Drift, error) {
	var drift *Drift
	err := a.db.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := a.products.WithTx(tx).GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		actual, err := a.Recompute(ctx, tx, productID)
		if err != nil {
			return err
		}
		if actual != current.AvailableCount {
			drift = &Drift{ProductID: productID, Previous: current.AvailableCount, Actual: actual}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if drift != nil {
		logCtx := a.logg.WithFields(ctx, map[string]any{
			"product_id": productID.String(),
			"previous":   drift.Previous,
			"actual":     drift.Actual,
		})
		a.logg.Warn(logCtx, "stock drift corrected")
	}
	return drift, nil
}

// Summary returns the cached count alongside live per-status counts.
func (a *Aggregator) Summary(ctx context.Context, productID uuid.UUID) (*Summary, error) {
	current, err := a.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	type statusCount struct {
		Status enums.SerialStatus
		Count  int64
	}
	var rows []statusCount
	if err := a.products.DB().WithContext(ctx).
		Model(&models.SerialUnit{}).
		Select("status, COUNT(*) AS count").
		Where("product_id = ?", productID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count units by status")
	}

	summary := &Summary{
		ProductID:      productID,
		AvailableCount: current.AvailableCount,
		Counts:         make(map[enums.SerialStatus]int64, 4),
	}
	for _, status := range enums.SerialStatuses() {
		summary.Counts[status] = 0
	}
	for _, row := range rows {
		summary.Counts[row.Status] = row.Count
		summary.Total += row.Count
	}
	return summary, nil
}

func countAvailable(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (int64, error) {
	var count int64
	if err := tx.WithContext(ctx).
		Model(&models.SerialUnit{}).
		Where("product_id = ? AND status = ?", productID, enums.SerialStatusAvailable).
		Count(&count).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count available units")
	}
	return count, nil
}
