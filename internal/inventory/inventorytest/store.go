// Package inventorytest provides an in-memory ledger store for service tests.
package inventorytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
)

// Store keeps batches and movements in memory. WithTx and Atomic serialise callers and roll
// state back when the callback fails, mirroring a database transaction.
type Store struct {
	mu        sync.Mutex
	batches   map[int64]inventory.Batch
	movements []inventory.Movement
	nextBatch int64
	nextMove  int64
	base      time.Time
	tick      int64

	failAfter int
	failErr   error
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		batches: make(map[int64]inventory.Batch),
		base:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

type snapshot struct {
	batches   map[int64]inventory.Batch
	movements []inventory.Movement
	nextBatch int64
	nextMove  int64
}

func (s *Store) snapshot() snapshot {
	batches := make(map[int64]inventory.Batch, len(s.batches))
	for id, b := range s.batches {
		batches[id] = b
	}
	return snapshot{
		batches:   batches,
		movements: append([]inventory.Movement(nil), s.movements...),
		nextBatch: s.nextBatch,
		nextMove:  s.nextMove,
	}
}

func (s *Store) restore(snap snapshot) {
	s.batches = snap.batches
	s.movements = snap.movements
	s.nextBatch = snap.nextBatch
	s.nextMove = snap.nextMove
}

// Atomic runs fn with exclusive access and restores the previous state when it fails.
// Orchestrator fakes use it to join ledger writes with their own records.
func (s *Store) Atomic(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// WithTx implements inventory.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.Store) error) error {
	return s.Atomic(func() error { return fn(ctx, s.Tx()) })
}

// FailMovementAfter makes the (n+1)th subsequent InsertMovement return err.
func (s *Store) FailMovementAfter(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
	s.failErr = err
}

func (s *Store) stamp() time.Time {
	s.tick++
	return s.base.Add(time.Duration(s.tick) * time.Microsecond)
}

type txView struct {
	s *Store
}

// Tx returns the transactional view of the store. It must only be used inside Atomic.
func (s *Store) Tx() inventory.Store {
	return txView{s: s}
}

func (t txView) StockOnHand(_ context.Context, tenantID, productID, warehouseID int64) (decimal.Decimal, error) {
	return t.s.onHand(tenantID, productID, warehouseID), nil
}

// LockAvailableBatches implements inventory.Store.
func (t txView) LockAvailableBatches(_ context.Context, tenantID, productID, warehouseID int64) ([]inventory.Batch, error) {
	s := t.s
	var out []inventory.Batch
	for _, b := range s.batches {
		if b.TenantID == tenantID && b.ProductID == productID && b.WarehouseID == warehouseID && !b.Exhausted && b.QuantityCurrent.IsPositive() {
			out = append(out, b)
		}
	}
	inventory.SortFIFO(out)
	return out, nil
}

// UpdateBatchQuantity implements inventory.Store.
func (t txView) UpdateBatchQuantity(_ context.Context, batch inventory.Batch, taken decimal.Decimal) error {
	s := t.s
	stored, ok := s.batches[batch.ID]
	if !ok {
		return inventory.ErrNotFound
	}
	if stored.QuantityCurrent.LessThan(taken) || !stored.QuantityCurrent.Sub(taken).Equal(batch.QuantityCurrent) {
		return fmt.Errorf("%w: batch %s", inventory.ErrConcurrentUpdate, batch.BatchNumber)
	}
	stored.QuantityCurrent = batch.QuantityCurrent
	stored.Exhausted = stored.QuantityCurrent.IsZero()
	s.batches[batch.ID] = stored
	return nil
}

// InsertBatch implements inventory.Store.
func (t txView) InsertBatch(_ context.Context, batch inventory.Batch) (inventory.Batch, error) {
	s := t.s
	for _, b := range s.batches {
		if b.TenantID == batch.TenantID && b.BatchNumber == batch.BatchNumber {
			return inventory.Batch{}, fmt.Errorf("%w: %s", inventory.ErrDuplicateBatchNumber, batch.BatchNumber)
		}
	}
	s.nextBatch++
	batch.ID = s.nextBatch
	batch.CreatedAt = s.stamp()
	batch.Exhausted = batch.QuantityCurrent.IsZero()
	s.batches[batch.ID] = batch
	return batch, nil
}

// InsertMovement implements inventory.Store.
func (t txView) InsertMovement(_ context.Context, movement inventory.Movement) (inventory.Movement, error) {
	s := t.s
	if s.failErr != nil {
		if s.failAfter == 0 {
			err := s.failErr
			s.failErr = nil
			return inventory.Movement{}, err
		}
		s.failAfter--
	}
	s.nextMove++
	movement.ID = s.nextMove
	movement.CreatedAt = s.stamp()
	s.movements = append(s.movements, movement)
	return movement, nil
}

// BatchNumberExists implements inventory.Store.
func (t txView) BatchNumberExists(_ context.Context, tenantID int64, number string) (bool, error) {
	s := t.s
	for _, b := range s.batches {
		if b.TenantID == tenantID && b.BatchNumber == number {
			return true, nil
		}
	}
	return false, nil
}

// LatestUnitCost implements inventory.Store.
func (t txView) LatestUnitCost(_ context.Context, tenantID, productID int64) (decimal.Decimal, bool, error) {
	s := t.s
	var candidates []inventory.Batch
	for _, b := range s.batches {
		if b.TenantID == tenantID && b.ProductID == productID && b.QuantityCurrent.IsPositive() {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return decimal.Zero, false, nil
	}
	inventory.SortFIFO(candidates)
	return candidates[len(candidates)-1].UnitCost, true, nil
}

func (s *Store) onHand(tenantID, productID, warehouseID int64) decimal.Decimal {
	total := decimal.Zero
	for _, b := range s.batches {
		if b.TenantID == tenantID && b.ProductID == productID && b.WarehouseID == warehouseID && !b.Exhausted {
			total = total.Add(b.QuantityCurrent)
		}
	}
	return total
}

// StockOnHand implements inventory.RepositoryPort.
func (s *Store) StockOnHand(_ context.Context, tenantID, productID, warehouseID int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onHand(tenantID, productID, warehouseID), nil
}

// ListBatches implements inventory.RepositoryPort.
func (s *Store) ListBatches(_ context.Context, filter inventory.BatchFilter) ([]inventory.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []inventory.Batch{}
	for _, b := range s.batches {
		if b.TenantID != filter.TenantID || b.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != 0 && b.WarehouseID != filter.WarehouseID {
			continue
		}
		if b.Exhausted && !filter.IncludeExhausted {
			continue
		}
		out = append(out, b)
	}
	inventory.SortFIFO(out)
	return out, nil
}

// ListMovements implements inventory.RepositoryPort.
func (s *Store) ListMovements(_ context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []inventory.Movement{}
	for _, m := range s.movements {
		if m.TenantID != filter.TenantID {
			continue
		}
		if filter.ProductID != 0 && m.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != 0 && !touches(m, filter.WarehouseID) {
			continue
		}
		if filter.BatchID != 0 && m.BatchID != filter.BatchID {
			continue
		}
		if filter.ReferenceType != "" && m.ReferenceType != filter.ReferenceType {
			continue
		}
		if filter.ReferenceID != 0 && (m.ReferenceID == nil || *m.ReferenceID != filter.ReferenceID) {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func touches(m inventory.Movement, warehouseID int64) bool {
	return (m.FromWarehouseID != nil && *m.FromWarehouseID == warehouseID) ||
		(m.ToWarehouseID != nil && *m.ToWarehouseID == warehouseID)
}

// Valuation implements inventory.RepositoryPort.
func (s *Store) Valuation(_ context.Context, tenantID int64) ([]inventory.Valuation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type key struct{ tenant, warehouse int64 }
	agg := map[key]inventory.Valuation{}
	for _, b := range s.batches {
		if b.Exhausted || (tenantID != 0 && b.TenantID != tenantID) {
			continue
		}
		k := key{b.TenantID, b.WarehouseID}
		v := agg[k]
		v.TenantID, v.WarehouseID = b.TenantID, b.WarehouseID
		v.Quantity = v.Quantity.Add(b.QuantityCurrent)
		v.Value = v.Value.Add(b.Value())
		agg[k] = v
	}
	out := make([]inventory.Valuation, 0, len(agg))
	for _, v := range agg {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].WarehouseID < out[j].WarehouseID
	})
	return out, nil
}

// Batches returns every batch, exhausted included, ordered by id.
func (s *Store) Batches() []inventory.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inventory.Batch, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Movements returns every movement in insertion order.
func (s *Store) Movements() []inventory.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.Movement(nil), s.movements...)
}
