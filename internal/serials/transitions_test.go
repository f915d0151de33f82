package serials

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox/payloads"
)

func TestAssignRejectsOverflowWithoutMutation(t *testing.T) {
	f := newFixture(t)
	productID := f.newProduct(t)
	ids := f.seed(t, productID, "SN-1", "SN-2", "SN-3", "SN-4")
	orderItem := f.orders.add(productID, 3)

	_, err := f.svc.Assign(context.Background(), AssignInput{OrderItemID: orderItem, UnitIDs: ids[:2]})
	require.NoError(t, err)

	_, err = f.svc.Assign(context.Background(), AssignInput{OrderItemID: orderItem, UnitIDs: ids[2:]})
	overflow, ok := pkgerrors.OverflowOf(err)
	require.True(t, ok, "expected invalid assignment, got %v", err)
	assert.Equal(t, pkgerrors.AssignmentOverflow{Committed: 2, Proposed: 2, Max: 3}, overflow)

	for _, id := range ids[2:] {
		assert.Equal(t, enums.SerialStatusAvailable, f.unit(t, id).Status)
	}
	assert.Equal(t, int64(2), f.availableCount(t, productID))
	f.assertLinkage(t)
}

func TestAssignIsAllOrNothingOnIllegalUnit(t *testing.T) {
	f := newFixture(t)
	productID := f.newProduct(t)
	ids := f.seed(t, productID, "SN-1", "SN-2", "SN-3")
	first := f.orders.add(productID, 5)
	second := f.orders.add(productID, 5)

	_, err := f.svc.Assign(context.Background(), AssignInput{OrderItemID: first, UnitIDs: ids[2:]})
	require.NoError(t, err)

	_, err = f.svc.Assign(context.Background(), AssignInput{OrderItemID: second, UnitIDs: ids})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	detail, ok := pkgerrors.As(err).Details().(IllegalTransition)
	require.True(t, ok)
	assert.Equal(t, ids[2], detail.UnitID)
	assert.Equal(t, "SN-3", detail.Serial)

	assert.Equal(t, enums.SerialStatusAvailable, f.unit(t, ids[0]).Status)
	assert.Equal(t, enums.SerialStatusAvailable, f.unit(t, ids[1]).Status)
	assert.Equal(t, int64(2), f.availableCount(t, productID))
}

func TestAssignValidatesBatch(t *testing.T) {
	f := newFixture(t)
	productID := f.newProduct(t)
	ids := f.seed(t, productID, "SN-1")
	orderItem := f.orders.add(productID, 5)

	_, err := f.svc.Assign(context.Background(), AssignInput{OrderItemID: orderItem, UnitIDs: []uuid.UUID{ids[0], ids[0]}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Assign(context.Background(), AssignInput{OrderItemID: orderItem})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Assign(context.Background(), AssignInput{OrderItemID: orderItem, UnitIDs: []uuid.UUID{uuid.New()}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestAssignRejectsOtherProduct(t *testing.T) {
	f := newFixture(t)
	productID := f.newProduct(t)
	ids := f.seed(t, f.newProduct(t), "SN-1")
	orderItem := f.orders.add(productID, 5)

	_, err := f.svc.Assign(context.Background(), AssignInput{OrderItemID: orderItem, UnitIDs: ids})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, enums.SerialStatusAvailable, f.unit(t, ids[0]).Status)
}

func TestAssignFailsClosedWhenOrdersUnavailable(t *testing.T) {
	f := newFixture(t)
	productID := f.newProduct(t)
	ids := f.seed(t, productID, "SN-1")
	orderItem := f.orders.add(productID, 5)
	f.orders.err = pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("connection refused"), "order service unreachable")

	_, err := f.svc.Assign(context.Background(), AssignInput{OrderItemID: orderItem, UnitIDs: ids})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, enums.SerialStatusAvailable, f.unit(t, ids[0]).Status)
}

func TestAssignUnknownOrderItem(t *testing.T) {
	f := newFixture(t)
	productID := f.newProduct(t)
	ids := f.seed(t, productID, "SN-1")

	_, err := f.svc.Assign(context.Background(), AssignInput{OrderItemID: uuid.New(), UnitIDs: ids})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestUnassignRequiresMatchingOrderItem(t *testing.T) {
	f := newFixture(t)
	productID := f.newProduct(t)
	ids := f.seed(t, productID, "SN-1")
	orderItem := f.orders.add(productID, 1)
	_, err := f.svc.Assign(context.Background(), AssignInput{OrderItemID: orderItem, UnitIDs: ids})
	require.NoError(t, err)

	_, err = f.svc.Unassign(context.Background(), UnassignInput{UnitID: ids[0], OrderItemID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, enums.SerialStatusReservedForOrder, f.unit(t, ids[0]).Status)

	unit, err := f.svc.Unassign(context.Background(), UnassignInput{UnitID: ids[0], OrderItemID: orderItem})
	require.NoError(t, err)
	assert.Equal(t, enums.SerialStatusAvailable, unit.Status)
	assert.Nil(t, unit.OrderItemID)
	assert.Equal(t, int64(1), f.availableCount(t, productID))
	f.assertLinkage(t)
}

func TestAllocateCountsOnlyAllocatedUnits(t *testing.T) {
	f := newFixture(t)
	productID := f.newProduct(t)
	ids := f.seed(t, productID, "SN-1", "SN-2")
	orderItem := f.orders.add(productID, 2)
	dealer := uuid.New()

	_, err := f.svc.Assign(context.Background(), AssignInput{OrderItemID: orderItem, UnitIDs: ids})
	require.NoError(t, err)

	res, err := f.svc.Allocate(context.Background(), AllocateInput{OrderItemID: orderItem, DealerID: dealer, UnitIDs: ids[:1]})
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, int64(1), res.Committed)
	assert.Empty(t, f.outboxEvents(t, enums.EventOrderItemCompleted))

	res, err = f.svc.Allocate(context.Background(), AllocateInput{OrderItemID: orderItem, DealerID: dealer, UnitIDs: ids[1:]})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	require.Len(t, f.outboxEvents(t, enums.EventOrderItemCompleted), 1)
	f.assertLinkage(t)
}

func TestAllocateRejectsUnitReservedElsewhere(t *testing.T) {
	f := newFixture(t)
	productID := f.newProduct(t)
	ids := f.seed(t, productID, "SN-1")
	first := f.orders.add(productID, 1)
	second := f.orders.add(productID, 1)
	_, err := f.svc.Assign(context.Background(), AssignInput{OrderItemID: first, UnitIDs: ids})
	require.NoError(t, err)

	_, err = f.svc.Allocate(context.Background(), AllocateInput{OrderItemID: second, DealerID: uuid.New(), UnitIDs: ids})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Empty(t, f.outboxEvents(t, enums.EventOrderItemCompleted))
}

func TestSellRequiresAllocation(t *testing.T) {
	f := newFixture(t)
	productID := f.newProduct(t)
	f.seed(t, productID, "SN-1")

	_, err := f.svc.Sell(context.Background(), "SN-1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = f.svc.Sell(context.Background(), "SN-404")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestOverrideRoutesThroughValidation(t *testing.T) {
	f := newFixture(t)
	productID := f.newProduct(t)
	ids := f.seed(t, productID, "SN-1", "SN-2")
	orderItem := f.orders.add(productID, 1)
	dealer := uuid.New()

	unit, err := f.svc.Override(context.Background(), OverrideInput{
		UnitID: ids[0],
		Target: Allocated{OrderItemID: orderItem, DealerID: dealer},
		Reason: "recovered from paper log",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.SerialStatusAllocatedToDealer, unit.Status)
	assert.Equal(t, int64(1), f.availableCount(t, productID))
	require.Len(t, f.outboxEvents(t, enums.EventOrderItemCompleted), 1)
	require.Len(t, f.outboxEvents(t, enums.EventSerialUnitOverridden), 1)

	_, err = f.svc.Override(context.Background(), OverrideInput{
		UnitID: ids[1],
		Target: Reserved{OrderItemID: orderItem},
		Reason: "second unit",
	})
	overflow, ok := pkgerrors.OverflowOf(err)
	require.True(t, ok, "expected invalid assignment, got %v", err)
	assert.Equal(t, int64(1), overflow.Committed)

	_, err = f.svc.Override(context.Background(), OverrideInput{UnitID: ids[1], Target: Available{}, Reason: "noop"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = f.svc.Override(context.Background(), OverrideInput{UnitID: ids[1], Target: Sold{}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	unit, err = f.svc.Override(context.Background(), OverrideInput{UnitID: ids[0], Target: Available{}, Reason: "returned"})
	require.NoError(t, err)
	assert.Nil(t, unit.OrderItemID)
	assert.Nil(t, unit.DealerID)
	assert.Equal(t, int64(2), f.availableCount(t, productID))
	f.assertLinkage(t)
}

func TestConcurrentAssignCannotOvershoot(t *testing.T) {
	f := newFixture(t)
	productID := f.newProduct(t)
	serials := []string{"SN-1", "SN-2", "SN-3", "SN-4", "SN-5", "SN-6"}
	ids := f.seed(t, productID, serials...)
	orderItem := f.orders.add(productID, 3)

	var wg sync.WaitGroup
	results := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.Assign(context.Background(), AssignInput{OrderItemID: orderItem, UnitIDs: ids[i*2 : i*2+2]})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		_, ok := pkgerrors.OverflowOf(err)
		assert.True(t, ok, "unexpected error %v", err)
	}
	assert.Equal(t, 1, succeeded)

	linked, err := f.repo.CountByOrderItem(context.Background(), orderItem)
	require.NoError(t, err)
	assert.Equal(t, int64(2), linked)
	assert.Equal(t, f.derivedAvailable(t, productID), f.availableCount(t, productID))
}

func TestLifecycleEventsAreQueued(t *testing.T) {
	f := newFixture(t)
	productID := f.newProduct(t)
	ids := f.seed(t, productID, "SN-1")
	orderItem := f.orders.add(productID, 1)
	dealer := uuid.New()

	_, err := f.svc.Assign(context.Background(), AssignInput{OrderItemID: orderItem, UnitIDs: ids})
	require.NoError(t, err)
	_, err = f.svc.Allocate(context.Background(), AllocateInput{OrderItemID: orderItem, DealerID: dealer, UnitIDs: ids})
	require.NoError(t, err)
	_, err = f.svc.Sell(context.Background(), "SN-1")
	require.NoError(t, err)

	assert.Len(t, f.outboxEvents(t, enums.EventSerialUnitsAssigned), 1)
	assert.Len(t, f.outboxEvents(t, enums.EventSerialUnitsAllocated), 1)

	sold := f.outboxEvents(t, enums.EventSerialUnitSold)
	require.Len(t, sold, 1)
	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(sold[0].Payload, &envelope))
	var payload payloads.SerialUnitSoldEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	assert.Equal(t, orderItem, payload.OrderItemID)
	assert.Equal(t, dealer, payload.DealerID)
	assert.Equal(t, "SN-1", payload.Serial)
}
