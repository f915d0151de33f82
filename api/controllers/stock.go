package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-serials/api/responses"
	"github.com/angelmondragon/packfinderz-serials/api/validators"
	"github.com/angelmondragon/packfinderz-serials/internal/stock"
	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
	"github.com/angelmondragon/packfinderz-serials/pkg/logger"
)

type stockSummarizer interface {
	Summary(ctx context.Context, productID uuid.UUID) (*stock.Summary, error)
}

type stockRecomputer interface {
	RecomputeAll(ctx context.Context) ([]stock.Drift, error)
}

// ProductStock returns the cached available count next to live per-status counts.
func ProductStock(svc stockSummarizer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}
		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := svc.Summary(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// AdminStockRecompute runs the drift sweep on demand.
func AdminStockRecompute(svc stockRecomputer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}
		drifts, err := svc.RecomputeAll(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stock recompute incomplete"))
			return
		}
		if drifts == nil {
			drifts = []stock.Drift{}
		}
		responses.WriteSuccess(w, map[string]any{"corrected": len(drifts), "drifts": drifts})
	}
}
