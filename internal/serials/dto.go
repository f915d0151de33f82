package serials

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-serials/pkg/db/models"
	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
)

const maxSerialLength = 128

// CreateInput registers one unit. A nil State creates the unit as Available.
type CreateInput struct {
	Serial    string
	ProductID uuid.UUID
	State     State
}

type BulkCreateInput struct {
	ProductID uuid.UUID
	Serials   []string
}

// BulkCreateResult tallies a bulk create; Created + Skipped == Requested.
type BulkCreateResult struct {
	Requested      int                 `json:"requested"`
	Created        int                 `json:"created"`
	Skipped        int                 `json:"skipped"`
	SkippedSerials []string            `json:"skipped_serials"`
	Units          []models.SerialUnit `json:"-"`
}

// Reasons recorded for bulk delete skips.
const (
	SkipReasonNotFound     = "not_found"
	SkipReasonNotAvailable = "not_available"
)

type DeleteOutcome struct {
	ID      uuid.UUID `json:"id"`
	Deleted bool      `json:"deleted"`
	Reason  string    `json:"reason,omitempty"`
}

type BulkDeleteResult struct {
	Requested int             `json:"requested"`
	Deleted   int             `json:"deleted"`
	Skipped   int             `json:"skipped"`
	Outcomes  []DeleteOutcome `json:"outcomes"`
}

type AssignInput struct {
	OrderItemID uuid.UUID
	UnitIDs     []uuid.UUID
}

type UnassignInput struct {
	UnitID      uuid.UUID
	OrderItemID uuid.UUID
}

type AllocateInput struct {
	OrderItemID uuid.UUID
	DealerID    uuid.UUID
	UnitIDs     []uuid.UUID
}

// BatchResult reports an accepted assign or allocate batch.
type BatchResult struct {
	OrderItemID uuid.UUID           `json:"order_item_id"`
	Units       []models.SerialUnit `json:"units"`
	Committed   int64               `json:"committed"`
	Quantity    int64               `json:"quantity"`
	Completed   bool                `json:"completed"`
}

type OverrideInput struct {
	UnitID uuid.UUID
	Target State
	Reason string
}

type ListResult struct {
	Items      []models.SerialUnit `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

// NormalizeSerial trims the serial and enforces presence and length.
func NormalizeSerial(raw string) (string, error) {
	serial := strings.TrimSpace(raw)
	if serial == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "serial is required")
	}
	if len(serial) > maxSerialLength {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("serial exceeds %d characters", maxSerialLength))
	}
	return serial, nil
}

// validateUnitBatch rejects empty batches, nil ids and repeated ids.
func validateUnitBatch(ids []uuid.UUID) error {
	if len(ids) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "unit_ids must not be empty")
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	var duplicates []uuid.UUID
	for _, id := range ids {
		if id == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "unit_ids must not contain empty ids")
		}
		if _, ok := seen[id]; ok {
			duplicates = append(duplicates, id)
			continue
		}
		seen[id] = struct{}{}
	}
	if len(duplicates) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "unit_ids must be unique").
			WithDetails(map[string]any{"duplicates": duplicates})
	}
	return nil
}
