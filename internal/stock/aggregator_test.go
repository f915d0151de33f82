package stock

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	product "github.com/angelmondragon/packfinderz-serials/internal/products"
	dbpkg "github.com/angelmondragon/packfinderz-serials/pkg/db"
	"github.com/angelmondragon/packfinderz-serials/pkg/db/models"
	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
	"github.com/angelmondragon/packfinderz-serials/pkg/migrate"
)

type fixture struct {
	conn       *gorm.DB
	products   *product.Repository
	aggregator *Aggregator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:stock_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migrate.AutoMigrate(conn))

	products := product.NewRepository(conn)
	aggregator, err := NewAggregator(AggregatorParams{DB: dbpkg.FromConn(conn), Products: products})
	require.NoError(t, err)
	return fixture{conn: conn, products: products, aggregator: aggregator}
}

func (f fixture) seedProduct(t *testing.T, cached int64, statuses ...enums.SerialStatus) uuid.UUID {
	t.Helper()
	p, err := f.products.CreateProduct(context.Background(), &models.Product{SKU: "SKU", Title: "Widget", AvailableCount: cached})
	require.NoError(t, err)
	for _, status := range statuses {
		unit := models.SerialUnit{Serial: uuid.NewString(), ProductID: p.ID, Status: status}
		if status.LinksOrderItem() {
			orderItem := uuid.New()
			unit.OrderItemID = &orderItem
		}
		if status == enums.SerialStatusAllocatedToDealer {
			dealer := uuid.New()
			unit.DealerID = &dealer
		}
		require.NoError(t, f.conn.Create(&unit).Error)
	}
	return p.ID
}

func TestRecomputeWritesAvailableCount(t *testing.T) {
	f := newFixture(t)
	productID := f.seedProduct(t, 0,
		enums.SerialStatusAvailable,
		enums.SerialStatusAvailable,
		enums.SerialStatusReservedForOrder,
		enums.SerialStatusSold,
	)

	var count int64
	err := f.conn.Transaction(func(tx *gorm.DB) error {
		var err error
		count, err = f.aggregator.Recompute(context.Background(), tx, productID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	loaded, err := f.products.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.AvailableCount)
}

func TestRecomputeRequiresTransaction(t *testing.T) {
	f := newFixture(t)
	_, err := f.aggregator.Recompute(context.Background(), nil, uuid.New())
	require.Error(t, err)
}

func TestRecomputeUnknownProduct(t *testing.T) {
	f := newFixture(t)
	err := f.conn.Transaction(func(tx *gorm.DB) error {
		_, err := f.aggregator.Recompute(context.Background(), tx, uuid.New())
		return err
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRecomputeAllReportsDrift(t *testing.T) {
	f := newFixture(t)
	drifted := f.seedProduct(t, 9, enums.SerialStatusAvailable)
	f.seedProduct(t, 1, enums.SerialStatusAvailable, enums.SerialStatusSold)

	drifts, err := f.aggregator.RecomputeAll(context.Background())
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, Drift{ProductID: drifted, Previous: 9, Actual: 1}, drifts[0])

	loaded, err := f.products.GetProduct(context.Background(), drifted)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.AvailableCount)
}

func TestSummaryCountsEveryStatus(t *testing.T) {
	f := newFixture(t)
	productID := f.seedProduct(t, 1,
		enums.SerialStatusAvailable,
		enums.SerialStatusAllocatedToDealer,
		enums.SerialStatusAllocatedToDealer,
	)

	summary, err := f.aggregator.Summary(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.Total)
	assert.Equal(t, int64(1), summary.AvailableCount)
	assert.Equal(t, int64(1), summary.Counts[enums.SerialStatusAvailable])
	assert.Equal(t, int64(2), summary.Counts[enums.SerialStatusAllocatedToDealer])
	assert.Equal(t, int64(0), summary.Counts[enums.SerialStatusSold])
	assert.Len(t, summary.Counts, 4)
}

func TestNewAggregatorValidates(t *testing.T) {
	_, err := NewAggregator(AggregatorParams{})
	require.Error(t, err)
}
