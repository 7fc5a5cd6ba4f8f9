// Package aptest provides an in-memory payable store for service tests.
package aptest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/ap"
)

// Store keeps payables and payments in memory with rollback on failed callbacks.
type Store struct {
	mu          sync.Mutex
	payables    map[int64]ap.Payable
	payments    []ap.Payment
	nextPayable int64
	nextPayment int64
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{payables: make(map[int64]ap.Payable)}
}

// Atomic runs fn with exclusive access and restores the previous state when it fails.
func (s *Store) Atomic(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payables := make(map[int64]ap.Payable, len(s.payables))
	for id, p := range s.payables {
		payables[id] = p
	}
	payments := append([]ap.Payment(nil), s.payments...)
	nextPayable, nextPayment := s.nextPayable, s.nextPayment
	if err := fn(); err != nil {
		s.payables, s.payments = payables, payments
		s.nextPayable, s.nextPayment = nextPayable, nextPayment
		return err
	}
	return nil
}

// WithTx implements ap.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ap.Store) error) error {
	return s.Atomic(func() error { return fn(ctx, s.Tx()) })
}

type txView struct {
	s *Store
}

// Tx returns the transactional view of the store. It must only be used inside Atomic.
func (s *Store) Tx() ap.Store {
	return txView{s: s}
}

func (t txView) InsertPayable(_ context.Context, p ap.Payable) (ap.Payable, error) {
	t.s.nextPayable++
	p.ID = t.s.nextPayable
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(p.ID) * time.Second)
	p.CreatedAt, p.UpdatedAt = now, now
	t.s.payables[p.ID] = p
	return p, nil
}

func (t txView) GetPayableForUpdate(_ context.Context, tenantID, id int64) (ap.Payable, error) {
	p, ok := t.s.payables[id]
	if !ok || p.TenantID != tenantID {
		return ap.Payable{}, ap.ErrPayableNotFound
	}
	return p, nil
}

func (t txView) UpdatePayable(_ context.Context, p ap.Payable) error {
	stored, ok := t.s.payables[p.ID]
	if !ok || stored.TenantID != p.TenantID {
		return ap.ErrPayableNotFound
	}
	stored.PaidAmount, stored.Balance, stored.Status = p.PaidAmount, p.Balance, p.Status
	t.s.payables[p.ID] = stored
	return nil
}

func (t txView) InsertPayment(_ context.Context, p ap.Payment) (ap.Payment, error) {
	t.s.nextPayment++
	p.ID = t.s.nextPayment
	p.CreatedAt = p.PaidAt
	t.s.payments = append(t.s.payments, p)
	return p, nil
}

func (t txView) ListUnpaidForUpdate(context.Context) ([]ap.Payable, error) {
	return t.s.filter(func(p ap.Payable) bool { return p.Status != ap.StatusPaid }), nil
}

func (s *Store) filter(keep func(ap.Payable) bool) []ap.Payable {
	out := []ap.Payable{}
	for _, p := range s.payables {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetPayable implements ap.RepositoryPort.
func (s *Store) GetPayable(_ context.Context, tenantID, id int64) (ap.Payable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payables[id]
	if !ok || p.TenantID != tenantID {
		return ap.Payable{}, ap.ErrPayableNotFound
	}
	return p, nil
}

// ListPayables implements ap.RepositoryPort.
func (s *Store) ListPayables(_ context.Context, filter ap.ListFilter) ([]ap.Payable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.filter(func(p ap.Payable) bool {
		if p.TenantID != filter.TenantID {
			return false
		}
		if filter.SupplierID != 0 && p.SupplierID != filter.SupplierID {
			return false
		}
		if filter.PurchaseOrderID != 0 && (p.PurchaseOrderID == nil || *p.PurchaseOrderID != filter.PurchaseOrderID) {
			return false
		}
		return filter.Status == "" || p.Status == filter.Status
	})
	if filter.Offset >= len(out) {
		return []ap.Payable{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListPayments implements ap.RepositoryPort.
func (s *Store) ListPayments(_ context.Context, tenantID, payableID int64) ([]ap.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ap.Payment{}
	for _, p := range s.payments {
		if p.TenantID == tenantID && p.PayableID == payableID {
			out = append(out, p)
		}
	}
	return out, nil
}

// OutstandingPayables implements ap.RepositoryPort.
func (s *Store) OutstandingPayables(_ context.Context, tenantID int64) ([]ap.Payable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(p ap.Payable) bool { return p.TenantID == tenantID && p.Status != ap.StatusPaid }), nil
}

// Payables returns every payable ordered by id.
func (s *Store) Payables() []ap.Payable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(ap.Payable) bool { return true })
}
