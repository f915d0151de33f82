package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/packfinderz-serials/internal/stock"
	"github.com/angelmondragon/packfinderz-serials/pkg/logger"
)

// maxLoggedDrifts caps how many corrected products are listed per run.
const maxLoggedDrifts = 20

type stockRecomputer interface {
	RecomputeAll(ctx context.Context) ([]stock.Drift, error)
}

type StockReconcileJobParams struct {
	Logger     *logger.Logger
	Aggregator stockRecomputer
}

func NewStockReconcileJob(params StockReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Aggregator == nil {
		return nil, fmt.Errorf("stock aggregator required")
	}
	return &stockReconcileJob{logg: params.Logger, aggregator: params.Aggregator}, nil
}

type stockReconcileJob struct {
	logg       *logger.Logger
	aggregator stockRecomputer
}

func (j *stockReconcileJob) Name() string { return "stock-reconcile" }

// Run recomputes every product's available count from its serial units.
// Products that fail are reported in the error while the rest are still corrected.
func (j *stockReconcileJob) Run(ctx context.Context) error {
	drifts, err := j.aggregator.RecomputeAll(ctx)
	for i, drift := range drifts {
		if i == maxLoggedDrifts {
			break
		}
		j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
			"product_id": drift.ProductID.String(),
			"previous":   drift.Previous,
			"actual":     drift.Actual,
		}), "available count drift corrected")
	}
	j.logg.Info(j.logg.WithField(ctx, "drifted_products", len(drifts)), "stock reconcile complete")
	if err != nil {
		return fmt.Errorf("stock reconcile: %w", err)
	}
	return nil
}
