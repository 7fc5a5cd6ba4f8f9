package ap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Repository persists payables in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore binds the payable Store to an open transaction.
func NewTxStore(tx pgx.Tx) Store {
	return &txStore{tx: tx}
}

// WithTx executes fn inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	if r == nil {
		return errors.New("ap repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

const payableColumns = `id, tenant_id, number, supplier_id, purchase_order_id, subtotal, tax_amount, total, paid_amount,
balance, due_date, status, COALESCE(created_by, 0), created_at, updated_at`

func scanPayable(row pgx.Row) (Payable, error) {
	var p Payable
	err := row.Scan(&p.ID, &p.TenantID, &p.Number, &p.SupplierID, &p.PurchaseOrderID, &p.Subtotal, &p.TaxAmount, &p.Total,
		&p.PaidAmount, &p.Balance, &p.DueDate, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payable{}, ErrPayableNotFound
	}
	return p, err
}

func collectPayables(rows pgx.Rows) ([]Payable, error) {
	defer rows.Close()
	payables := []Payable{}
	for rows.Next() {
		p, err := scanPayable(rows)
		if err != nil {
			return nil, err
		}
		payables = append(payables, p)
	}
	return payables, rows.Err()
}

func (s *txStore) InsertPayable(ctx context.Context, p Payable) (Payable, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO account_payables (tenant_id, number, supplier_id, purchase_order_id, subtotal, tax_amount,
total, paid_amount, balance, due_date, status, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING id, created_at, updated_at`, p.TenantID, p.Number, p.SupplierID, p.PurchaseOrderID, p.Subtotal, p.TaxAmount,
		p.Total, p.PaidAmount, p.Balance, p.DueDate, string(p.Status), nullInt(p.CreatedBy)).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Payable{}, err
	}
	return p, nil
}

func (s *txStore) GetPayableForUpdate(ctx context.Context, tenantID, id int64) (Payable, error) {
	return scanPayable(s.tx.QueryRow(ctx, `SELECT `+payableColumns+` FROM account_payables WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
}

func (s *txStore) UpdatePayable(ctx context.Context, p Payable) error {
	tag, err := s.tx.Exec(ctx, `UPDATE account_payables SET paid_amount=$3, balance=$4, status=$5, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, p.TenantID, p.ID, p.PaidAmount, p.Balance, string(p.Status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPayableNotFound
	}
	return nil
}

func (s *txStore) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO payment_records (tenant_id, account_payable_id, amount, method, reference, paid_at, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id, created_at`, p.TenantID, p.PayableID, p.Amount, p.Method, p.Reference, p.PaidAt, nullInt(p.CreatedBy)).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

func (s *txStore) ListUnpaidForUpdate(ctx context.Context) ([]Payable, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+payableColumns+` FROM account_payables WHERE status <> 'PAID' ORDER BY id FOR UPDATE SKIP LOCKED`)
	if err != nil {
		return nil, err
	}
	return collectPayables(rows)
}

// GetPayable loads a payable.
func (r *Repository) GetPayable(ctx context.Context, tenantID, id int64) (Payable, error) {
	return scanPayable(r.pool.QueryRow(ctx, `SELECT `+payableColumns+` FROM account_payables WHERE tenant_id=$1 AND id=$2`, tenantID, id))
}

// ListPayables lists payables newest first.
func (r *Repository) ListPayables(ctx context.Context, filter ListFilter) ([]Payable, error) {
	conds := []string{"tenant_id=$1"}
	args := []any{filter.TenantID}
	if filter.SupplierID != 0 {
		args = append(args, filter.SupplierID)
		conds = append(conds, fmt.Sprintf("supplier_id=$%d", len(args)))
	}
	if filter.PurchaseOrderID != 0 {
		args = append(args, filter.PurchaseOrderID)
		conds = append(conds, fmt.Sprintf("purchase_order_id=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM account_payables WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		payableColumns, strings.Join(conds, " AND "), len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectPayables(rows)
}

// ListPayments lists payments oldest first.
func (r *Repository) ListPayments(ctx context.Context, tenantID, payableID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, account_payable_id, amount, method, reference, paid_at, COALESCE(created_by, 0), created_at
FROM payment_records WHERE tenant_id=$1 AND account_payable_id=$2 ORDER BY paid_at, id`, tenantID, payableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	payments := []Payment{}
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.TenantID, &p.PayableID, &p.Amount, &p.Method, &p.Reference, &p.PaidAt, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// OutstandingPayables returns unpaid payables of a tenant.
func (r *Repository) OutstandingPayables(ctx context.Context, tenantID int64) ([]Payable, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+payableColumns+` FROM account_payables WHERE tenant_id=$1 AND status <> 'PAID' ORDER BY due_date`, tenantID)
	if err != nil {
		return nil, err
	}
	return collectPayables(rows)
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
