package controllers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-serials/api/responses"
	"github.com/angelmondragon/packfinderz-serials/api/validators"
	"github.com/angelmondragon/packfinderz-serials/internal/serials"
	"github.com/angelmondragon/packfinderz-serials/pkg/db/models"
	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
	"github.com/angelmondragon/packfinderz-serials/pkg/logger"
	"github.com/angelmondragon/packfinderz-serials/pkg/pagination"
)

// SerialService is the serial inventory surface the HTTP layer drives.
type SerialService interface {
	Create(ctx context.Context, input serials.CreateInput) (*models.SerialUnit, error)
	BulkCreate(ctx context.Context, input serials.BulkCreateInput) (*serials.BulkCreateResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.SerialUnit, error)
	GetBySerial(ctx context.Context, serial string) (*models.SerialUnit, error)
	List(ctx context.Context, filter serials.ListFilter, params pagination.Params) (*serials.ListResult, error)
	Delete(ctx context.Context, id uuid.UUID) error
	BulkDelete(ctx context.Context, ids []uuid.UUID) (*serials.BulkDeleteResult, error)
	Assign(ctx context.Context, input serials.AssignInput) (*serials.BatchResult, error)
	Unassign(ctx context.Context, input serials.UnassignInput) (*models.SerialUnit, error)
	Allocate(ctx context.Context, input serials.AllocateInput) (*serials.BatchResult, error)
	Sell(ctx context.Context, serial string) (*models.SerialUnit, error)
	Override(ctx context.Context, input serials.OverrideInput) (*models.SerialUnit, error)
}

func serviceUnavailable(svc SerialService, w http.ResponseWriter, r *http.Request, logg *logger.Logger) bool {
	if svc != nil {
		return false
	}
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "serial service unavailable"))
	return true
}

// SerialCreate registers one unit.
func SerialCreate(svc SerialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if serviceUnavailable(svc, w, r, logg) {
			return
		}
		var payload createSerialRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		unit, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toSerialUnitResponse(*unit))
	}
}

// SerialBulkCreate registers many serials for one product, skipping duplicates.
func SerialBulkCreate(svc SerialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if serviceUnavailable(svc, w, r, logg) {
			return
		}
		var payload bulkCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		productID, err := uuid.Parse(payload.ProductID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product_id"))
			return
		}
		res, err := svc.BulkCreate(r.Context(), serials.BulkCreateInput{ProductID: productID, Serials: payload.Serials})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, bulkCreateResponse{
			BulkCreateResult: res,
			Units:            toSerialUnitResponses(res.Units),
		})
	}
}

func SerialGet(svc SerialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if serviceUnavailable(svc, w, r, logg) {
			return
		}
		unitID, err := validators.ParseUUIDParam(r, "unitId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		unit, err := svc.Get(r.Context(), unitID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toSerialUnitResponse(*unit))
	}
}

func SerialGetBySerial(svc SerialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if serviceUnavailable(svc, w, r, logg) {
			return
		}
		unit, err := svc.GetBySerial(r.Context(), serialParam(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toSerialUnitResponse(*unit))
	}
}

// SerialList pages units ordered by serial. Filters: product_id, status,
// order_item_id, dealer_id.
func SerialList(svc SerialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if serviceUnavailable(svc, w, r, logg) {
			return
		}
		filter, err := parseListFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.List(r.Context(), filter, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, listResponse{Items: toSerialUnitResponses(res.Items), NextCursor: res.NextCursor})
	}
}

// serialParam returns the decoded {serial} route segment.
func serialParam(r *http.Request) string {
	raw := chi.URLParam(r, "serial")
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func parseListFilter(r *http.Request) (serials.ListFilter, error) {
	var filter serials.ListFilter
	var err error
	if filter.ProductID, err = validators.ParseQueryUUID(r, "product_id"); err != nil {
		return filter, err
	}
	if filter.OrderItemID, err = validators.ParseQueryUUID(r, "order_item_id"); err != nil {
		return filter, err
	}
	if filter.DealerID, err = validators.ParseQueryUUID(r, "dealer_id"); err != nil {
		return filter, err
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParseSerialStatus(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		filter.Status = &status
	}
	return filter, nil
}

// SerialDelete removes an AVAILABLE unit.
func SerialDelete(svc SerialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if serviceUnavailable(svc, w, r, logg) {
			return
		}
		unitID, err := validators.ParseUUIDParam(r, "unitId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), unitID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"id": unitID, "deleted": true})
	}
}

func SerialBulkDelete(svc SerialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if serviceUnavailable(svc, w, r, logg) {
			return
		}
		var payload unitIDsRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ids, err := parseUUIDs(payload.UnitIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.BulkDelete(r.Context(), ids)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}

// SerialAssign reserves a batch of AVAILABLE units for an order item.
func SerialAssign(svc SerialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if serviceUnavailable(svc, w, r, logg) {
			return
		}
		var payload assignRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderItemID, err := uuid.Parse(payload.OrderItemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order_item_id"))
			return
		}
		ids, err := parseUUIDs(payload.UnitIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.Assign(r.Context(), serials.AssignInput{OrderItemID: orderItemID, UnitIDs: ids})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toBatchResponse(res))
	}
}

func SerialUnassign(svc SerialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if serviceUnavailable(svc, w, r, logg) {
			return
		}
		unitID, err := validators.ParseUUIDParam(r, "unitId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload unassignRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderItemID, err := uuid.Parse(payload.OrderItemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order_item_id"))
			return
		}
		unit, err := svc.Unassign(r.Context(), serials.UnassignInput{UnitID: unitID, OrderItemID: orderItemID})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toSerialUnitResponse(*unit))
	}
}

// SerialAllocate hands reserved units to a dealer and reports completion.
func SerialAllocate(svc SerialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if serviceUnavailable(svc, w, r, logg) {
			return
		}
		var payload allocateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderItemID, err := uuid.Parse(payload.OrderItemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order_item_id"))
			return
		}
		dealerID, err := uuid.Parse(payload.DealerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid dealer_id"))
			return
		}
		ids, err := parseUUIDs(payload.UnitIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.Allocate(r.Context(), serials.AllocateInput{OrderItemID: orderItemID, DealerID: dealerID, UnitIDs: ids})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toBatchResponse(res))
	}
}

func SerialSell(svc SerialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if serviceUnavailable(svc, w, r, logg) {
			return
		}
		unit, err := svc.Sell(r.Context(), serialParam(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toSerialUnitResponse(*unit))
	}
}

// AdminSerialOverride forces a unit into any well-formed state.
func AdminSerialOverride(svc SerialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if serviceUnavailable(svc, w, r, logg) {
			return
		}
		unitID, err := validators.ParseUUIDParam(r, "unitId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload overrideRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := payload.toState()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		unit, err := svc.Override(r.Context(), serials.OverrideInput{UnitID: unitID, Target: target, Reason: payload.Reason})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toSerialUnitResponse(*unit))
	}
}
