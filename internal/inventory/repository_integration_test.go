//go:build integration

package inventory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db/dbtest"
)

func TestRepositoryConcurrentConsumptionLocksBatches(t *testing.T) {
	pool := dbtest.NewPool(t)
	repo := inventory.NewRepository(pool)
	svc := inventory.NewService(repo, nil, inventory.ServiceConfig{}, nil)
	ctx := context.Background()

	_, err := svc.ReceiveInbound(ctx, inventory.InboundInput{
		TenantID: tenant, ProductID: product, WarehouseID: warehouse, Quantity: d("10"), UnitCost: d("5"),
		BatchNumber: "PG-B1", ReceivedAt: day1,
	})
	require.NoError(t, err)
	_, err = svc.ReceiveInbound(ctx, inventory.InboundInput{
		TenantID: tenant, ProductID: product, WarehouseID: warehouse, Quantity: d("10"), UnitCost: d("8"),
		BatchNumber: "PG-B2", ReceivedAt: day1.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 12)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ConsumeFIFO(ctx, inventory.ConsumeInput{
				TenantID: tenant, ProductID: product, WarehouseID: warehouse, Quantity: d("2"), Type: inventory.MovementOut,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	}
	require.Equal(t, 10, succeeded)

	onHand, err := svc.StockOnHand(ctx, tenant, product, warehouse)
	require.NoError(t, err)
	require.True(t, onHand.IsZero())

	batches, err := svc.ListBatches(ctx, inventory.BatchFilter{TenantID: tenant, ProductID: product, IncludeExhausted: true})
	require.NoError(t, err)
	require.Len(t, batches, 2)
	for _, b := range batches {
		require.True(t, b.Exhausted)
	}

	card, err := svc.ListMovements(ctx, inventory.MovementFilter{TenantID: tenant, ProductID: product, Limit: 100})
	require.NoError(t, err)
	require.Len(t, card, 12)
	for _, m := range card {
		require.True(t, m.StockAfter.Equal(m.StockBefore.Add(m.Quantity)))
	}
}

func TestRepositoryDuplicateBatchNumberAndTenantScope(t *testing.T) {
	pool := dbtest.NewPool(t)
	svc := inventory.NewService(inventory.NewRepository(pool), nil, inventory.ServiceConfig{}, nil)
	ctx := context.Background()

	in := inventory.InboundInput{TenantID: tenant, ProductID: product, WarehouseID: warehouse, Quantity: d("1"), UnitCost: d("1"), BatchNumber: "DUP-1"}
	_, err := svc.ReceiveInbound(ctx, in)
	require.NoError(t, err)
	_, err = svc.ReceiveInbound(ctx, in)
	require.ErrorIs(t, err, inventory.ErrDuplicateBatchNumber)

	in.TenantID = 2
	_, err = svc.ReceiveInbound(ctx, in)
	require.NoError(t, err, "batch numbers are unique per tenant")

	qty, err := svc.StockOnHand(ctx, tenant, product, warehouse)
	require.NoError(t, err)
	require.True(t, qty.Equal(d("1")))
}

func TestRepositoryMovementsAreAppendOnly(t *testing.T) {
	pool := dbtest.NewPool(t)
	svc := inventory.NewService(inventory.NewRepository(pool), nil, inventory.ServiceConfig{}, nil)
	ctx := context.Background()

	res, err := svc.ReceiveInbound(ctx, inventory.InboundInput{TenantID: tenant, ProductID: product, WarehouseID: warehouse, Quantity: d("1"), UnitCost: d("1")})
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `UPDATE stock_movements SET notes='x' WHERE id=$1`, res.Movement.ID)
	require.Error(t, err)
	_, err = pool.Exec(ctx, `DELETE FROM stock_movements WHERE id=$1`, res.Movement.ID)
	require.Error(t, err)
}
