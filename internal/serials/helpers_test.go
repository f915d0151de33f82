package serials

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/angelmondragon/packfinderz-serials/internal/locks"
	"github.com/angelmondragon/packfinderz-serials/internal/orderclient"
	product "github.com/angelmondragon/packfinderz-serials/internal/products"
	"github.com/angelmondragon/packfinderz-serials/internal/stock"
	dbpkg "github.com/angelmondragon/packfinderz-serials/pkg/db"
	"github.com/angelmondragon/packfinderz-serials/pkg/db/models"
	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
	pkglogger "github.com/angelmondragon/packfinderz-serials/pkg/logger"
	"github.com/angelmondragon/packfinderz-serials/pkg/migrate"
	"github.com/angelmondragon/packfinderz-serials/pkg/outbox"
)

type stubOrderItems struct {
	mu    sync.Mutex
	items map[uuid.UUID]orderclient.OrderItem
	err   error
	calls int
}

func newStubOrderItems() *stubOrderItems {
	return &stubOrderItems{items: map[uuid.UUID]orderclient.OrderItem{}}
}

func (s *stubOrderItems) add(productID uuid.UUID, quantity int64) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.items[id] = orderclient.OrderItem{ID: id, ProductID: productID, Quantity: quantity, Status: enums.OrderItemStatusPending}
	return id
}

func (s *stubOrderItems) GetOrderItem(_ context.Context, id uuid.UUID) (*orderclient.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	item, ok := s.items[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
	}
	return &item, nil
}

type fixture struct {
	conn     *gorm.DB
	svc      *Service
	repo     *Repository
	products *product.Repository
	orders   *stubOrderItems
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := gorm.Open(
		sqlite.Open("file:serials_"+uuid.NewString()+"?mode=memory&cache=shared"),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)},
	)
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, migrate.AutoMigrate(conn))

	client := dbpkg.FromConn(conn)
	products := product.NewRepository(conn)
	aggregator, err := stock.NewAggregator(stock.AggregatorParams{DB: client, Products: products})
	require.NoError(t, err)

	repo := NewRepository(conn)
	orders := newStubOrderItems()
	svc, err := NewService(ServiceParams{
		DB:              client,
		Repository:      repo,
		Products:        products,
		Stock:           aggregator,
		Orders:          orders,
		Locker:          locks.NewLocalLocker(5 * time.Second),
		Outbox:          outbox.NewService(outbox.NewRepository(conn), pkglogger.Nop()),
		Logger:          pkglogger.Nop(),
		LifecycleEvents: true,
	})
	require.NoError(t, err)

	return &fixture{conn: conn, svc: svc, repo: repo, products: products, orders: orders}
}

func (f *fixture) newProduct(t *testing.T) uuid.UUID {
	t.Helper()
	p, err := f.products.CreateProduct(context.Background(), &models.Product{SKU: "SKU-" + uuid.NewString()[:8], Title: "Widget"})
	require.NoError(t, err)
	return p.ID
}

func (f *fixture) seed(t *testing.T, productID uuid.UUID, serials ...string) []uuid.UUID {
	t.Helper()
	res, err := f.svc.BulkCreate(context.Background(), BulkCreateInput{ProductID: productID, Serials: serials})
	require.NoError(t, err)
	require.Equal(t, len(serials), res.Created)
	ids := make([]uuid.UUID, len(res.Units))
	for i, unit := range res.Units {
		ids[i] = unit.ID
	}
	return ids
}

func (f *fixture) unit(t *testing.T, id uuid.UUID) models.SerialUnit {
	t.Helper()
	unit, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return *unit
}

func (f *fixture) availableCount(t *testing.T, productID uuid.UUID) int64 {
	t.Helper()
	p, err := f.products.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.AvailableCount
}

// derivedAvailable counts AVAILABLE rows directly, bypassing the cached field.
func (f *fixture) derivedAvailable(t *testing.T, productID uuid.UUID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.conn.Model(&models.SerialUnit{}).
		Where("product_id = ? AND status = ?", productID, enums.SerialStatusAvailable).
		Count(&count).Error)
	return count
}

func (f *fixture) outboxEvents(t *testing.T, eventType enums.OutboxEventType) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, f.conn.Where("event_type = ?", eventType).Find(&rows).Error)
	return rows
}

// assertLinkage checks the order item/dealer linkage rules on every unit.
func (f *fixture) assertLinkage(t *testing.T) {
	t.Helper()
	var units []models.SerialUnit
	require.NoError(t, f.conn.Find(&units).Error)
	for _, unit := range units {
		linked := unit.Status == enums.SerialStatusReservedForOrder || unit.Status == enums.SerialStatusAllocatedToDealer
		require.Equal(t, linked, unit.OrderItemID != nil, "order item linkage for %s in %s", unit.Serial, unit.Status)
		require.Equal(t, unit.Status == enums.SerialStatusAllocatedToDealer, unit.DealerID != nil, "dealer linkage for %s in %s", unit.Serial, unit.Status)
	}
}
