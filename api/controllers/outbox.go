package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-serials/api/responses"
	"github.com/angelmondragon/packfinderz-serials/api/validators"
	"github.com/angelmondragon/packfinderz-serials/pkg/db/models"
	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
	"github.com/angelmondragon/packfinderz-serials/pkg/logger"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox"
)

type dlqLister interface {
	List(ctx context.Context, filter outbox.DLQFilter, limit int) ([]models.OutboxDLQ, error)
}

type pendingCounter interface {
	CountPending(maxAttempts int) (int64, error)
}

type dlqEntryResponse struct {
	ID           uuid.UUID                  `json:"id"`
	EventID      uuid.UUID                  `json:"event_id"`
	EventType    enums.OutboxEventType      `json:"event_type"`
	AggregateID  uuid.UUID                  `json:"aggregate_id"`
	Payload      json.RawMessage            `json:"payload"`
	ErrorReason  enums.OutboxDLQErrorReason `json:"error_reason"`
	ErrorMessage *string                    `json:"error_message,omitempty"`
	AttemptCount int                        `json:"attempt_count"`
	FailedAt     time.Time                  `json:"failed_at"`
}

// AdminOutboxDLQ lists dead-lettered deliveries, newest first.
func AdminOutboxDLQ(repo dlqLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dlq repository unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter, err := parseDLQFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := repo.List(r.Context(), filter, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dlq"))
			return
		}
		out := make([]dlqEntryResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, dlqEntryResponse{
				ID:           row.ID,
				EventID:      row.EventID,
				EventType:    row.EventType,
				AggregateID:  row.AggregateID,
				Payload:      row.Payload,
				ErrorReason:  row.ErrorReason,
				ErrorMessage: row.ErrorMessage,
				AttemptCount: row.AttemptCount,
				FailedAt:     row.FailedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

func parseDLQFilter(r *http.Request) (outbox.DLQFilter, error) {
	var filter outbox.DLQFilter
	if raw := strings.TrimSpace(r.URL.Query().Get("event_type")); raw != "" {
		eventType, err := enums.ParseOutboxEventType(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event_type")
		}
		filter.EventType = eventType
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("reason")); raw != "" {
		reason := enums.OutboxDLQErrorReason(raw)
		if !reason.IsValid() {
			return filter, pkgerrors.New(pkgerrors.CodeValidation, "invalid reason").WithDetails(map[string]any{"reason": raw})
		}
		filter.Reason = reason
	}
	aggregateID, err := validators.ParseQueryUUID(r, "aggregate_id")
	if err != nil {
		return filter, err
	}
	filter.AggregateID = aggregateID
	return filter, nil
}

// AdminOutboxPending reports how many events still await delivery.
func AdminOutboxPending(repo pendingCounter, maxAttempts int, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "outbox repository unavailable"))
			return
		}
		pending, err := repo.CountPending(maxAttempts)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count pending outbox events"))
			return
		}
		responses.WriteSuccess(w, map[string]int64{"pending": pending})
	}
}
