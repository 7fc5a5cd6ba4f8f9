package stockaudit_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory/inventorytest"
	"github.com/odyssey-erp/odyssey-stock/internal/stockaudit"
)

const (
	tenant    = int64(1)
	warehouse = int64(10)
	apple     = int64(100)
	pear      = int64(200)
	plum      = int64(300)
	clerk     = int64(9)
)

var now = time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)

type shortfallCounter struct{ n int }

func (c *shortfallCounter) AuditShortfall() { c.n++ }

type closedSink struct{ events []stockaudit.AuditClosedEvent }

func (s *closedSink) HandleAuditClosed(_ context.Context, evt stockaudit.AuditClosedEvent) error {
	s.events = append(s.events, evt)
	return nil
}

type fixture struct {
	svc       *stockaudit.Service
	ledger    *inventory.Service
	inv       *inventorytest.Store
	shortfall *shortfallCounter
	closed    *closedSink
}

func newFixture(t *testing.T, products ...int64) fixture {
	t.Helper()
	inv := inventorytest.NewStore()
	ledger := inventory.NewService(inv, nil, inventory.ServiceConfig{Clock: func() time.Time { return now }}, nil)
	catalog := staticCatalog{}
	for _, id := range products {
		catalog[tenant] = append(catalog[tenant], stockaudit.Product{ID: id})
	}
	counter := &shortfallCounter{}
	sink := &closedSink{}
	svc := stockaudit.NewService(stockaudit.Dependencies{
		Repo:        newMemoryRepo(inv, now),
		Catalog:     catalog,
		Ledger:      ledger,
		Metrics:     counter,
		Integration: sink,
	})
	return fixture{svc: svc, ledger: ledger, inv: inv, shortfall: counter, closed: sink}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f fixture) stock(t *testing.T, product int64, qty, cost string, receivedAt time.Time) {
	t.Helper()
	_, err := f.ledger.ReceiveInbound(context.Background(), inventory.InboundInput{
		TenantID:    tenant,
		ProductID:   product,
		WarehouseID: warehouse,
		Quantity:    d(qty),
		UnitCost:    d(cost),
		ReceivedAt:  receivedAt,
	})
	require.NoError(t, err)
}

func (f fixture) onHand(t *testing.T, product int64) decimal.Decimal {
	t.Helper()
	qty, err := f.ledger.StockOnHand(context.Background(), tenant, product, warehouse)
	require.NoError(t, err)
	return qty
}

func itemFor(t *testing.T, audit stockaudit.Audit, product int64) stockaudit.Item {
	t.Helper()
	for _, it := range audit.Items {
		if it.ProductID == product {
			return it
		}
	}
	t.Fatalf("no item for product %d", product)
	return stockaudit.Item{}
}

func TestCloseAuditPostsDeficitAtLatestCost(t *testing.T) {
	f := newFixture(t, apple)
	ctx := context.Background()
	f.stock(t, apple, "20", "5", now.Add(-48*time.Hour))

	audit, err := f.svc.CreateAudit(ctx, stockaudit.CreateInput{TenantID: tenant, WarehouseID: warehouse, ActorID: clerk})
	require.NoError(t, err)
	require.Equal(t, stockaudit.StatusPending, audit.Status)
	require.Len(t, audit.Items, 1)
	require.True(t, d("20").Equal(audit.Items[0].SystemStock))
	require.Nil(t, audit.Items[0].CountedQty)

	item, err := f.svc.UpdateAuditItem(ctx, stockaudit.UpdateItemInput{
		TenantID:   tenant,
		AuditID:    audit.ID,
		ItemID:     audit.Items[0].ID,
		CountedQty: d("15"),
	})
	require.NoError(t, err)
	require.True(t, d("-5").Equal(*item.Variance))
	loaded, err := f.svc.GetAudit(ctx, tenant, audit.ID)
	require.NoError(t, err)
	require.Equal(t, stockaudit.StatusInProgress, loaded.Status)

	closed, err := f.svc.CloseAudit(ctx, tenant, audit.ID, clerk)
	require.NoError(t, err)
	require.Equal(t, stockaudit.StatusCompleted, closed.Status)
	require.True(t, d("-5").Equal(closed.TotalVariance))
	require.True(t, d("-25").Equal(closed.VarianceCost))
	require.NotNil(t, closed.CompletedAt)
	require.Equal(t, clerk, *closed.CompletedBy)

	adjusted := itemFor(t, closed, apple)
	require.True(t, adjusted.IsAdjusted)
	require.True(t, d("5").Equal(*adjusted.UnitCost))
	require.True(t, d("15").Equal(f.onHand(t, apple)))

	var auditMoves []inventory.Movement
	for _, m := range f.inv.Movements() {
		if m.Type == inventory.MovementAudit {
			auditMoves = append(auditMoves, m)
		}
	}
	require.Len(t, auditMoves, 1)
	require.True(t, d("-5").Equal(auditMoves[0].Quantity))
	require.Equal(t, inventory.RefStockAudit, auditMoves[0].ReferenceType)
	require.Equal(t, audit.ID, *auditMoves[0].ReferenceID)

	require.Len(t, f.closed.events, 1)
	require.Equal(t, 1, f.closed.events[0].Adjusted)
}

func TestCloseAuditSkipsUncountedAndPostsSurplus(t *testing.T) {
	f := newFixture(t, apple, pear, plum)
	ctx := context.Background()
	f.stock(t, apple, "10", "3", now.Add(-72*time.Hour))
	f.stock(t, pear, "8", "2", now.Add(-72*time.Hour))

	audit, err := f.svc.CreateAudit(ctx, stockaudit.CreateInput{TenantID: tenant, WarehouseID: warehouse})
	require.NoError(t, err)
	require.Len(t, audit.Items, 3)

	_, err = f.svc.UpdateAuditItem(ctx, stockaudit.UpdateItemInput{TenantID: tenant, AuditID: audit.ID, ItemID: itemFor(t, audit, apple).ID, CountedQty: d("12")})
	require.NoError(t, err)
	_, err = f.svc.UpdateAuditItem(ctx, stockaudit.UpdateItemInput{TenantID: tenant, AuditID: audit.ID, ItemID: itemFor(t, audit, plum).ID, CountedQty: d("3")})
	require.NoError(t, err)

	closed, err := f.svc.CloseAudit(ctx, tenant, audit.ID, clerk)
	require.NoError(t, err)
	require.True(t, d("5").Equal(closed.TotalVariance))
	require.True(t, d("6").Equal(closed.VarianceCost))

	untouched := itemFor(t, closed, pear)
	require.Nil(t, untouched.CountedQty)
	require.False(t, untouched.IsAdjusted)
	require.True(t, d("8").Equal(f.onHand(t, pear)))

	require.True(t, d("12").Equal(f.onHand(t, apple)))
	zeroCost := itemFor(t, closed, plum)
	require.True(t, zeroCost.IsAdjusted)
	require.True(t, zeroCost.UnitCost.IsZero())
	require.True(t, d("3").Equal(f.onHand(t, plum)))

	var surplus []inventory.Batch
	for _, b := range f.inv.Batches() {
		if b.Origin == inventory.OriginAuditSurplus {
			surplus = append(surplus, b)
		}
	}
	require.Len(t, surplus, 2)
	for _, b := range surplus {
		require.True(t, b.QuantityInitial.Equal(b.QuantityCurrent))
		if b.ProductID == apple {
			require.True(t, d("2").Equal(b.QuantityInitial))
			require.True(t, d("3").Equal(b.UnitCost))
		}
	}
}

func TestCloseAuditToleratesShortfall(t *testing.T) {
	f := newFixture(t, apple)
	ctx := context.Background()
	f.stock(t, apple, "10", "4", now.Add(-24*time.Hour))

	audit, err := f.svc.CreateAudit(ctx, stockaudit.CreateInput{TenantID: tenant, WarehouseID: warehouse})
	require.NoError(t, err)

	_, err = f.ledger.ConsumeFIFO(ctx, inventory.ConsumeInput{
		TenantID:    tenant,
		ProductID:   apple,
		WarehouseID: warehouse,
		Quantity:    d("8"),
		Type:        inventory.MovementSale,
	})
	require.NoError(t, err)

	_, err = f.svc.UpdateAuditItem(ctx, stockaudit.UpdateItemInput{TenantID: tenant, AuditID: audit.ID, ItemID: audit.Items[0].ID, CountedQty: d("4")})
	require.NoError(t, err)

	closed, err := f.svc.CloseAudit(ctx, tenant, audit.ID, clerk)
	require.NoError(t, err)
	require.Equal(t, stockaudit.StatusCompleted, closed.Status)
	item := closed.Items[0]
	require.True(t, d("10").Equal(item.SystemStock))
	require.True(t, item.IsAdjusted)
	require.Equal(t, "shortfall 4", item.Note)
	require.True(t, f.onHand(t, apple).IsZero())
	require.Equal(t, 1, f.shortfall.n)
	require.Equal(t, 1, f.closed.events[0].Shortfalls)
}

func TestClosedAuditIsImmutable(t *testing.T) {
	f := newFixture(t, apple)
	ctx := context.Background()
	audit, err := f.svc.CreateAudit(ctx, stockaudit.CreateInput{TenantID: tenant, WarehouseID: warehouse})
	require.NoError(t, err)
	_, err = f.svc.CloseAudit(ctx, tenant, audit.ID, clerk)
	require.NoError(t, err)

	_, err = f.svc.UpdateAuditItem(ctx, stockaudit.UpdateItemInput{TenantID: tenant, AuditID: audit.ID, ItemID: audit.Items[0].ID, CountedQty: d("1")})
	require.ErrorIs(t, err, stockaudit.ErrAuditClosed)
	_, err = f.svc.CloseAudit(ctx, tenant, audit.ID, clerk)
	require.ErrorIs(t, err, stockaudit.ErrAuditClosed)
	_, err = f.svc.CancelAudit(ctx, tenant, audit.ID, clerk)
	require.ErrorIs(t, err, stockaudit.ErrAuditClosed)
	require.Empty(t, f.inv.Movements())
}

func TestCancelAudit(t *testing.T) {
	f := newFixture(t, apple)
	ctx := context.Background()
	f.stock(t, apple, "5", "1", now.Add(-time.Hour))
	audit, err := f.svc.CreateAudit(ctx, stockaudit.CreateInput{TenantID: tenant, WarehouseID: warehouse})
	require.NoError(t, err)
	_, err = f.svc.UpdateAuditItem(ctx, stockaudit.UpdateItemInput{TenantID: tenant, AuditID: audit.ID, ItemID: audit.Items[0].ID, CountedQty: d("0")})
	require.NoError(t, err)

	cancelled, err := f.svc.CancelAudit(ctx, tenant, audit.ID, clerk)
	require.NoError(t, err)
	require.Equal(t, stockaudit.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	require.True(t, d("5").Equal(f.onHand(t, apple)))

	_, err = f.svc.CloseAudit(ctx, tenant, audit.ID, clerk)
	require.ErrorIs(t, err, stockaudit.ErrAuditClosed)
}

func TestAuditValidation(t *testing.T) {
	ctx := context.Background()

	empty := newFixture(t)
	_, err := empty.svc.CreateAudit(ctx, stockaudit.CreateInput{TenantID: tenant, WarehouseID: warehouse})
	require.ErrorIs(t, err, stockaudit.ErrNoActiveProducts)

	f := newFixture(t, apple)
	audit, err := f.svc.CreateAudit(ctx, stockaudit.CreateInput{TenantID: tenant, WarehouseID: warehouse})
	require.NoError(t, err)

	_, err = f.svc.UpdateAuditItem(ctx, stockaudit.UpdateItemInput{TenantID: tenant, AuditID: audit.ID, ItemID: audit.Items[0].ID, CountedQty: d("-1")})
	require.ErrorIs(t, err, stockaudit.ErrInvalidCount)
	_, err = f.svc.UpdateAuditItem(ctx, stockaudit.UpdateItemInput{TenantID: tenant, AuditID: audit.ID, ItemID: 999, CountedQty: d("1")})
	require.ErrorIs(t, err, stockaudit.ErrItemNotFound)
	_, err = f.svc.GetAudit(ctx, 2, audit.ID)
	require.ErrorIs(t, err, stockaudit.ErrNotFound)

	loaded, err := f.svc.GetAudit(ctx, tenant, audit.ID)
	require.NoError(t, err)
	require.Equal(t, stockaudit.StatusPending, loaded.Status)
}
