package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-serials/internal/serials"
	"github.com/angelmondragon/packfinderz-serials/pkg/db/models"
	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
)

type serialUnitResponse struct {
	ID          uuid.UUID          `json:"id"`
	Serial      string             `json:"serial"`
	ProductID   uuid.UUID          `json:"product_id"`
	Status      enums.SerialStatus `json:"status"`
	OrderItemID *uuid.UUID         `json:"order_item_id"`
	DealerID    *uuid.UUID         `json:"dealer_id"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func toSerialUnitResponse(unit models.SerialUnit) serialUnitResponse {
	return serialUnitResponse{
		ID:          unit.ID,
		Serial:      unit.Serial,
		ProductID:   unit.ProductID,
		Status:      unit.Status,
		OrderItemID: unit.OrderItemID,
		DealerID:    unit.DealerID,
		CreatedAt:   unit.CreatedAt,
		UpdatedAt:   unit.UpdatedAt,
	}
}

func toSerialUnitResponses(units []models.SerialUnit) []serialUnitResponse {
	out := make([]serialUnitResponse, 0, len(units))
	for _, unit := range units {
		out = append(out, toSerialUnitResponse(unit))
	}
	return out
}

type batchResponse struct {
	OrderItemID uuid.UUID            `json:"order_item_id"`
	Units       []serialUnitResponse `json:"units"`
	Committed   int64                `json:"committed"`
	Quantity    int64                `json:"quantity"`
	Completed   bool                 `json:"completed"`
}

func toBatchResponse(res *serials.BatchResult) batchResponse {
	return batchResponse{
		OrderItemID: res.OrderItemID,
		Units:       toSerialUnitResponses(res.Units),
		Committed:   res.Committed,
		Quantity:    res.Quantity,
		Completed:   res.Completed,
	}
}

type listResponse struct {
	Items      []serialUnitResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type bulkCreateResponse struct {
	*serials.BulkCreateResult
	Units []serialUnitResponse `json:"units"`
}

// stateRequest describes a target state; references must match the status.
type stateRequest struct {
	Status      string  `json:"status" validate:"required,serial_status"`
	OrderItemID *string `json:"order_item_id,omitempty" validate:"omitempty,uuid"`
	DealerID    *string `json:"dealer_id,omitempty" validate:"omitempty,uuid"`
}

func (s stateRequest) toState() (serials.State, error) {
	status, err := enums.ParseSerialStatus(s.Status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status")
	}
	orderItemID, err := optionalUUID(s.OrderItemID, "order_item_id")
	if err != nil {
		return nil, err
	}
	dealerID, err := optionalUUID(s.DealerID, "dealer_id")
	if err != nil {
		return nil, err
	}
	return serials.NewState(status, orderItemID, dealerID)
}

type createSerialRequest struct {
	Serial      string  `json:"serial" validate:"required,max=128,serial"`
	ProductID   string  `json:"product_id" validate:"required,uuid"`
	Status      string  `json:"status,omitempty" validate:"omitempty,serial_status"`
	OrderItemID *string `json:"order_item_id,omitempty" validate:"omitempty,uuid"`
	DealerID    *string `json:"dealer_id,omitempty" validate:"omitempty,uuid"`
}

func (r createSerialRequest) toInput() (serials.CreateInput, error) {
	productID, err := uuid.Parse(r.ProductID)
	if err != nil {
		return serials.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product_id")
	}
	input := serials.CreateInput{Serial: r.Serial, ProductID: productID}
	if r.Status == "" {
		if r.OrderItemID != nil || r.DealerID != nil {
			return serials.CreateInput{}, pkgerrors.New(pkgerrors.CodeValidation, "status is required when references are provided")
		}
		return input, nil
	}
	state, err := stateRequest{Status: r.Status, OrderItemID: r.OrderItemID, DealerID: r.DealerID}.toState()
	if err != nil {
		return serials.CreateInput{}, err
	}
	input.State = state
	return input, nil
}

type bulkCreateRequest struct {
	ProductID string   `json:"product_id" validate:"required,uuid"`
	Serials   []string `json:"serials" validate:"required,min=1,max=1000,dive,max=128"`
}

type unitIDsRequest struct {
	UnitIDs []string `json:"unit_ids" validate:"required,min=1,max=1000,dive,uuid"`
}

type assignRequest struct {
	OrderItemID string   `json:"order_item_id" validate:"required,uuid"`
	UnitIDs     []string `json:"unit_ids" validate:"required,min=1,max=1000,dive,uuid"`
}

type unassignRequest struct {
	OrderItemID string `json:"order_item_id" validate:"required,uuid"`
}

type allocateRequest struct {
	OrderItemID string   `json:"order_item_id" validate:"required,uuid"`
	DealerID    string   `json:"dealer_id" validate:"required,uuid"`
	UnitIDs     []string `json:"unit_ids" validate:"required,min=1,max=1000,dive,uuid"`
}

type overrideRequest struct {
	stateRequest
	Reason string `json:"reason" validate:"required,max=512"`
}

func optionalUUID(raw *string, field string) (*uuid.UUID, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+field)
	}
	return &id, nil
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, value := range raw {
		id, err := uuid.Parse(value)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid unit id").WithDetails(map[string]any{"value": value})
		}
		ids = append(ids, id)
	}
	return ids, nil
}
