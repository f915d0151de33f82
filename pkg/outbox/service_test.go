package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-serials/pkg/db/models"
	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	"github.com/angelmondragon/packfinderz-serials/pkg/logger"
	"github.com/angelmondragon/packfinderz-serials/pkg/migrate"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:outbox_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migrate.AutoMigrate(conn))
	return conn
}

func completionEvent(orderItemID uuid.UUID) DomainEvent {
	return DomainEvent{
		EventType:     enums.EventOrderItemCompleted,
		AggregateType: enums.AggregateOrderItem,
		AggregateID:   orderItemID,
		Data:          map[string]any{"order_item_id": orderItemID},
	}
}

func TestEmitWritesEnvelope(t *testing.T) {
	conn := newTestDB(t)
	logg := logger.Nop()
	svc := NewService(NewRepository(conn), logg)
	orderItemID := uuid.New()
	ctx := logg.WithRequestID(context.Background(), "req-42")

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, completionEvent(orderItemID))
	}))

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, orderItemID, rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	assert.False(t, envelope.OccurredAt.IsZero())
	assert.Equal(t, "req-42", envelope.RequestID)
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	assert.Error(t, svc.Emit(context.Background(), nil, completionEvent(uuid.New())))
	_, err := svc.EmitIfNotExists(context.Background(), nil, completionEvent(uuid.New()))
	assert.Error(t, err)
}

func TestEmitRejectsIncompleteEvents(t *testing.T) {
	conn := newTestDB(t)
	svc := NewService(NewRepository(conn), nil)

	bad := []DomainEvent{
		{EventType: "order_created", AggregateType: enums.AggregateOrderItem, AggregateID: uuid.New()},
		{EventType: enums.EventSerialUnitSold, AggregateType: "dealer", AggregateID: uuid.New()},
		{EventType: enums.EventSerialUnitSold, AggregateType: enums.AggregateSerialUnit},
	}
	for _, event := range bad {
		err := conn.Transaction(func(tx *gorm.DB) error { return svc.Emit(context.Background(), tx, event) })
		assert.Error(t, err, "%+v", event)
	}
	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitIfNotExistsDeduplicates(t *testing.T) {
	conn := newTestDB(t)
	svc := NewService(NewRepository(conn), logger.Nop())
	orderItemID := uuid.New()

	for i, want := range []bool{true, false} {
		var written bool
		require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
			var err error
			written, err = svc.EmitIfNotExists(context.Background(), tx, completionEvent(orderItemID))
			return err
		}))
		assert.Equal(t, want, written, "attempt %d", i)
	}

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestEmitRolledBackWithTransaction(t *testing.T) {
	conn := newTestDB(t)
	svc := NewService(NewRepository(conn), logger.Nop())

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, completionEvent(uuid.New())); err != nil {
			return err
		}
		return errors.New("allocation failed")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	svc := NewService(repo, logger.Nop())

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		for i := 0; i < 3; i++ {
			if err := svc.Emit(context.Background(), tx, completionEvent(uuid.New())); err != nil {
				return err
			}
		}
		return nil
	}))

	var fetched []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		fetched, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, fetched, 3)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkPublishedTx(tx, fetched[0].ID); err != nil {
			return err
		}
		if err := repo.MarkFailedTx(tx, fetched[1].ID, errors.New("timeout")); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, fetched[2].ID, errors.New("rejected"), 3)
	}))

	pending, err := repo.CountPending(3)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	var failed models.OutboxEvent
	require.NoError(t, conn.First(&failed, "id = ?", fetched[1].ID).Error)
	assert.Equal(t, 1, failed.AttemptCount)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "timeout", *failed.LastError)
}

func TestDeletePublishedBeforeKeepsPendingRows(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	svc := NewService(repo, logger.Nop())

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		for i := 0; i < 3; i++ {
			if err := svc.Emit(context.Background(), tx, completionEvent(uuid.New())); err != nil {
				return err
			}
		}
		return nil
	}))
	var rows []models.OutboxEvent
	require.NoError(t, conn.Order("created_at ASC").Find(&rows).Error)
	require.Len(t, rows, 3)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkPublishedTx(tx, rows[0].ID); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, rows[1].ID, errors.New("rejected"), 3)
	}))

	var deleted int64
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		deleted, err = repo.DeletePublishedBefore(context.Background(), tx, time.Now().UTC().Add(time.Hour), 3, 0)
		return err
	}))
	assert.EqualValues(t, 2, deleted)

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, rows[2].ID, remaining[0].ID)
}

func TestDeletePublishedBeforeHonoursLimit(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	svc := NewService(repo, logger.Nop())

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		for i := 0; i < 3; i++ {
			if err := svc.Emit(context.Background(), tx, completionEvent(uuid.New())); err != nil {
				return err
			}
		}
		return nil
	}))
	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			if err := repo.MarkPublishedTx(tx, row.ID); err != nil {
				return err
			}
		}
		return nil
	}))

	cutoff := time.Now().UTC().Add(time.Hour)
	first, err := repo.DeletePublishedBefore(context.Background(), conn, cutoff, 0, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, first)
	second, err := repo.DeletePublishedBefore(context.Background(), conn, cutoff, 0, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, second)
}

func TestDLQRepositoryInsertAndList(t *testing.T) {
	conn := newTestDB(t)
	dlq := NewDLQRepository(conn)
	eventID := uuid.New()
	long := strings.Repeat("x", maxDLQErrorLen+10)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return dlq.InsertTx(tx, models.OutboxDLQ{
			EventID:       eventID,
			EventType:     enums.EventOrderItemCompleted,
			AggregateType: enums.AggregateOrderItem,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
			ErrorMessage:  &long,
		})
	}))

	found, err := dlq.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Len(t, *found.ErrorMessage, maxDLQErrorLen)

	missing, err := dlq.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	rows, err := dlq.List(context.Background(), DLQFilter{EventType: enums.EventOrderItemCompleted}, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	rows, err = dlq.List(context.Background(), DLQFilter{EventType: enums.EventSerialUnitSold}, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
	rows, err = dlq.List(context.Background(), DLQFilter{Reason: enums.OutboxDLQReasonRejected}, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestClipKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "ab", clip("ab", 4))
	assert.Equal(t, "a", clip("aé", 2))
	assert.Equal(t, "aé", clip("aéz", 3))
}
