package stockaudit_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory/inventorytest"
	"github.com/odyssey-erp/odyssey-stock/internal/stockaudit"
)

type memoryRepo struct {
	mu       sync.Mutex
	inv      *inventorytest.Store
	audits   map[int64]stockaudit.Audit
	nextID   int64
	nextItem int64
	now      time.Time
}

func newMemoryRepo(inv *inventorytest.Store, now time.Time) *memoryRepo {
	return &memoryRepo{inv: inv, audits: map[int64]stockaudit.Audit{}, now: now}
}

func cloneAudit(a stockaudit.Audit) stockaudit.Audit {
	a.Items = append([]stockaudit.Item(nil), a.Items...)
	return a
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, stockaudit.Store) error) error {
	return m.inv.Atomic(func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		audits := make(map[int64]stockaudit.Audit, len(m.audits))
		for id, a := range m.audits {
			audits[id] = cloneAudit(a)
		}
		nextID, nextItem := m.nextID, m.nextItem
		if err := fn(ctx, memoryTx{m: m}); err != nil {
			m.audits, m.nextID, m.nextItem = audits, nextID, nextItem
			return err
		}
		return nil
	})
}

func (m *memoryRepo) GetAudit(_ context.Context, tenantID, id int64) (stockaudit.Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.audits[id]
	if !ok || a.TenantID != tenantID {
		return stockaudit.Audit{}, stockaudit.ErrNotFound
	}
	return cloneAudit(a), nil
}

func (m *memoryRepo) ListAudits(_ context.Context, filter stockaudit.ListFilter) ([]stockaudit.Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []stockaudit.Audit
	for _, a := range m.audits {
		if a.TenantID != filter.TenantID || (filter.Status != "" && a.Status != filter.Status) {
			continue
		}
		a.Items = nil
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type memoryTx struct {
	m *memoryRepo
}

func (t memoryTx) InsertAudit(_ context.Context, a stockaudit.Audit) (stockaudit.Audit, error) {
	t.m.nextID++
	a.ID = t.m.nextID
	a.CreatedAt = t.m.now
	a.Items = nil
	t.m.audits[a.ID] = a
	return a, nil
}

func (t memoryTx) InsertItem(_ context.Context, it stockaudit.Item) (stockaudit.Item, error) {
	a, ok := t.m.audits[it.AuditID]
	if !ok {
		return stockaudit.Item{}, stockaudit.ErrNotFound
	}
	t.m.nextItem++
	it.ID = t.m.nextItem
	a.Items = append(a.Items, it)
	t.m.audits[a.ID] = a
	return it, nil
}

func (t memoryTx) GetAuditForUpdate(_ context.Context, tenantID, id int64) (stockaudit.Audit, error) {
	a, ok := t.m.audits[id]
	if !ok || a.TenantID != tenantID {
		return stockaudit.Audit{}, stockaudit.ErrNotFound
	}
	return cloneAudit(a), nil
}

func (t memoryTx) UpdateAudit(_ context.Context, a stockaudit.Audit) error {
	stored, ok := t.m.audits[a.ID]
	if !ok || stored.TenantID != a.TenantID {
		return stockaudit.ErrNotFound
	}
	a.Items = stored.Items
	t.m.audits[a.ID] = a
	return nil
}

func (t memoryTx) UpdateItem(_ context.Context, it stockaudit.Item) error {
	a, ok := t.m.audits[it.AuditID]
	if !ok {
		return stockaudit.ErrItemNotFound
	}
	for i := range a.Items {
		if a.Items[i].ID == it.ID {
			a.Items[i] = it
			t.m.audits[a.ID] = a
			return nil
		}
	}
	return stockaudit.ErrItemNotFound
}

func (t memoryTx) Inventory() inventory.Store { return t.m.inv.Tx() }

type staticCatalog map[int64][]stockaudit.Product

func (c staticCatalog) ActiveProducts(_ context.Context, tenantID int64) ([]stockaudit.Product, error) {
	return c[tenantID], nil
}
