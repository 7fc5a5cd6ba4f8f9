package procurement_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/ap"
	"github.com/odyssey-erp/odyssey-stock/internal/ap/aptest"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory/inventorytest"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// memoryRepo joins the ledger and payable fakes into one unit of work so a failed receipt
// rolls back orders, batches, movements and payables together.
type memoryRepo struct {
	mu        sync.Mutex
	inv       *inventorytest.Store
	pay       *aptest.Store
	orders    map[int64]procurement.PurchaseOrder
	nextOrder int64
	nextItem  int64
	now       time.Time
}

func newMemoryRepo(inv *inventorytest.Store, pay *aptest.Store, now time.Time) *memoryRepo {
	return &memoryRepo{inv: inv, pay: pay, orders: map[int64]procurement.PurchaseOrder{}, now: now}
}

func cloneOrder(po procurement.PurchaseOrder) procurement.PurchaseOrder {
	po.Items = append([]procurement.OrderItem(nil), po.Items...)
	return po
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, procurement.TxRepository) error) error {
	return m.inv.Atomic(func() error {
		return m.pay.Atomic(func() error {
			m.mu.Lock()
			defer m.mu.Unlock()
			orders := make(map[int64]procurement.PurchaseOrder, len(m.orders))
			for id, po := range m.orders {
				orders[id] = cloneOrder(po)
			}
			nextOrder, nextItem := m.nextOrder, m.nextItem
			if err := fn(ctx, memoryTx{m: m}); err != nil {
				m.orders, m.nextOrder, m.nextItem = orders, nextOrder, nextItem
				return err
			}
			return nil
		})
	})
}

func (m *memoryRepo) GetOrder(_ context.Context, tenantID, id int64) (procurement.PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	po, ok := m.orders[id]
	if !ok || po.TenantID != tenantID {
		return procurement.PurchaseOrder{}, procurement.ErrNotFound
	}
	return cloneOrder(po), nil
}

func (m *memoryRepo) ListOrders(_ context.Context, filter procurement.ListFilter) ([]procurement.PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []procurement.PurchaseOrder
	for _, po := range m.orders {
		if po.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && po.Status != filter.Status {
			continue
		}
		if filter.SupplierID != 0 && po.SupplierID != filter.SupplierID {
			continue
		}
		po.Items = nil
		out = append(out, po)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type memoryTx struct {
	m *memoryRepo
}

func (t memoryTx) InsertOrder(_ context.Context, po procurement.PurchaseOrder) (procurement.PurchaseOrder, error) {
	t.m.nextOrder++
	po.ID = t.m.nextOrder
	po.CreatedAt = t.m.now
	po.UpdatedAt = t.m.now
	po.Items = nil
	t.m.orders[po.ID] = po
	return po, nil
}

func (t memoryTx) InsertItem(_ context.Context, item procurement.OrderItem) (procurement.OrderItem, error) {
	po, ok := t.m.orders[item.PurchaseOrderID]
	if !ok {
		return procurement.OrderItem{}, procurement.ErrNotFound
	}
	t.m.nextItem++
	item.ID = t.m.nextItem
	po.Items = append(po.Items, item)
	t.m.orders[po.ID] = po
	return item, nil
}

func (t memoryTx) GetOrderForUpdate(_ context.Context, tenantID, id int64) (procurement.PurchaseOrder, error) {
	po, ok := t.m.orders[id]
	if !ok || po.TenantID != tenantID {
		return procurement.PurchaseOrder{}, procurement.ErrNotFound
	}
	return cloneOrder(po), nil
}

func (t memoryTx) UpdateOrderStatus(_ context.Context, po procurement.PurchaseOrder) error {
	stored, ok := t.m.orders[po.ID]
	if !ok || stored.TenantID != po.TenantID {
		return procurement.ErrNotFound
	}
	stored.Status = po.Status
	stored.OrderedAt, stored.ReceivedAt, stored.CancelledAt = po.OrderedAt, po.ReceivedAt, po.CancelledAt
	stored.UpdatedAt = t.m.now
	t.m.orders[po.ID] = stored
	return nil
}

func (t memoryTx) UpdateItemReceived(_ context.Context, itemID int64, received decimal.Decimal) error {
	for id, po := range t.m.orders {
		for i := range po.Items {
			if po.Items[i].ID == itemID {
				po.Items[i].QuantityReceived = received
				t.m.orders[id] = po
				return nil
			}
		}
	}
	return procurement.ErrNotFound
}

func (t memoryTx) Inventory() inventory.Store { return t.m.inv.Tx() }

func (t memoryTx) Payables() ap.Store { return t.m.pay.Tx() }

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]string{}
	}
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}
