package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore binds the ledger Store to an open transaction so other modules can compose
// ledger writes into their own unit of work.
func NewTxStore(tx pgx.Tx) Store {
	return &txStore{tx: tx}
}

// WithTx executes the callback inside a read-committed transaction; batch rows are locked explicitly.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

const batchColumns = `id, tenant_id, product_id, warehouse_id, supplier_id, batch_number, origin, quantity_initial,
quantity_current, unit_cost, received_at, expires_at, exhausted, created_at`

const movementColumns = `id, tenant_id, movement_type, product_id, batch_id, quantity, stock_before, stock_after, unit_cost,
total_cost, from_warehouse_id, to_warehouse_id, COALESCE(reference_type, ''), reference_id, COALESCE(user_id, 0), notes, created_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.TenantID, &b.ProductID, &b.WarehouseID, &b.SupplierID, &b.BatchNumber, &b.Origin,
		&b.QuantityInitial, &b.QuantityCurrent, &b.UnitCost, &b.ReceivedAt, &b.ExpiresAt, &b.Exhausted, &b.CreatedAt)
	return b, err
}

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	err := row.Scan(&m.ID, &m.TenantID, &m.Type, &m.ProductID, &m.BatchID, &m.Quantity, &m.StockBefore, &m.StockAfter,
		&m.UnitCost, &m.TotalCost, &m.FromWarehouseID, &m.ToWarehouseID, &m.ReferenceType, &m.ReferenceID, &m.UserID,
		&m.Notes, &m.CreatedAt)
	return m, err
}

func (s *txStore) LockAvailableBatches(ctx context.Context, tenantID, productID, warehouseID int64) ([]Batch, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+batchColumns+`
FROM stock_batches
WHERE tenant_id=$1 AND product_id=$2 AND warehouse_id=$3 AND NOT exhausted AND quantity_current > 0
ORDER BY received_at ASC, created_at ASC, id ASC
FOR UPDATE`, tenantID, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (s *txStore) UpdateBatchQuantity(ctx context.Context, batch Batch, taken decimal.Decimal) error {
	var current decimal.Decimal
	err := s.tx.QueryRow(ctx, `UPDATE stock_batches
SET quantity_current = quantity_current - $3, exhausted = (quantity_current - $3 = 0)
WHERE id=$1 AND tenant_id=$2 AND quantity_current >= $3
RETURNING quantity_current`, batch.ID, batch.TenantID, taken).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: batch %s", ErrConcurrentUpdate, batch.BatchNumber)
		}
		return err
	}
	if !current.Equal(batch.QuantityCurrent) {
		return fmt.Errorf("%w: batch %s expected %s got %s", ErrConcurrentUpdate, batch.BatchNumber, batch.QuantityCurrent, current)
	}
	return nil
}

func (s *txStore) InsertBatch(ctx context.Context, batch Batch) (Batch, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_batches (tenant_id, product_id, warehouse_id, supplier_id, batch_number, origin,
quantity_initial, quantity_current, unit_cost, received_at, expires_at, exhausted)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,FALSE)
RETURNING id, created_at`, batch.TenantID, batch.ProductID, batch.WarehouseID, batch.SupplierID, batch.BatchNumber,
		string(batch.Origin), batch.QuantityInitial, batch.QuantityCurrent, batch.UnitCost, batch.ReceivedAt, batch.ExpiresAt).
		Scan(&batch.ID, &batch.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "stock_batches_tenant_number_key") {
			return Batch{}, fmt.Errorf("%w: %s", ErrDuplicateBatchNumber, batch.BatchNumber)
		}
		return Batch{}, err
	}
	return batch, nil
}

func (s *txStore) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_movements (tenant_id, movement_type, product_id, batch_id, quantity, stock_before,
stock_after, unit_cost, total_cost, from_warehouse_id, to_warehouse_id, reference_type, reference_id, user_id, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
RETURNING id, created_at`, m.TenantID, string(m.Type), m.ProductID, m.BatchID, m.Quantity, m.StockBefore, m.StockAfter,
		m.UnitCost, m.TotalCost, m.FromWarehouseID, m.ToWarehouseID, nullString(m.ReferenceType), m.ReferenceID,
		nullInt(m.UserID), m.Notes).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Movement{}, err
	}
	return m, nil
}

func (s *txStore) BatchNumberExists(ctx context.Context, tenantID int64, number string) (bool, error) {
	var exists bool
	err := s.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_batches WHERE tenant_id=$1 AND batch_number=$2)`, tenantID, number).Scan(&exists)
	return exists, err
}

func (s *txStore) StockOnHand(ctx context.Context, tenantID, productID, warehouseID int64) (decimal.Decimal, error) {
	return stockOnHand(ctx, s.tx, tenantID, productID, warehouseID)
}

func (s *txStore) LatestUnitCost(ctx context.Context, tenantID, productID int64) (decimal.Decimal, bool, error) {
	var cost decimal.Decimal
	err := s.tx.QueryRow(ctx, `SELECT unit_cost FROM stock_batches
WHERE tenant_id=$1 AND product_id=$2 AND quantity_current > 0
ORDER BY received_at DESC, created_at DESC, id DESC
LIMIT 1`, tenantID, productID).Scan(&cost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	return cost, true, nil
}

// StockOnHand sums non-exhausted batch quantities outside a transaction.
func (r *Repository) StockOnHand(ctx context.Context, tenantID, productID, warehouseID int64) (decimal.Decimal, error) {
	return stockOnHand(ctx, r.pool, tenantID, productID, warehouseID)
}

func stockOnHand(ctx context.Context, q querier, tenantID, productID, warehouseID int64) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(quantity_current), 0) FROM stock_batches
WHERE tenant_id=$1 AND product_id=$2 AND warehouse_id=$3 AND NOT exhausted`, tenantID, productID, warehouseID).Scan(&qty)
	return qty, err
}

// ListBatches returns batches in FIFO order.
func (r *Repository) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM stock_batches WHERE tenant_id=$1 AND product_id=$2`
	args := []any{filter.TenantID, filter.ProductID}
	if filter.WarehouseID != 0 {
		args = append(args, filter.WarehouseID)
		query += fmt.Sprintf(" AND warehouse_id=$%d", len(args))
	}
	if !filter.IncludeExhausted {
		query += " AND NOT exhausted"
	}
	query += " ORDER BY received_at ASC, created_at ASC, id ASC"
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	batches := []Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// ListMovements returns stock card entries oldest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	conds := []string{"tenant_id=$1"}
	args := []any{filter.TenantID}
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.ProductID != 0 {
		add("product_id=$%d", filter.ProductID)
	}
	if filter.WarehouseID != 0 {
		args = append(args, filter.WarehouseID)
		conds = append(conds, fmt.Sprintf("(from_warehouse_id=$%[1]d OR to_warehouse_id=$%[1]d)", len(args)))
	}
	if filter.BatchID != 0 {
		add("batch_id=$%d", filter.BatchID)
	}
	if filter.ReferenceType != "" {
		add("reference_type=$%d", filter.ReferenceType)
	}
	if filter.ReferenceID != 0 {
		add("reference_id=$%d", filter.ReferenceID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}
	args = append(args, filter.Limit)
	query := fmt.Sprintf(`SELECT %s FROM stock_movements WHERE %s ORDER BY created_at ASC, id ASC LIMIT $%d`,
		movementColumns, strings.Join(conds, " AND "), len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// Valuation sums remaining quantity and value per warehouse; tenantID 0 covers all tenants.
func (r *Repository) Valuation(ctx context.Context, tenantID int64) ([]Valuation, error) {
	rows, err := r.pool.Query(ctx, `SELECT tenant_id, warehouse_id, SUM(quantity_current), SUM(quantity_current * unit_cost)
FROM stock_batches
WHERE NOT exhausted AND ($1::bigint = 0 OR tenant_id = $1::bigint)
GROUP BY tenant_id, warehouse_id
ORDER BY tenant_id, warehouse_id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Valuation
	for rows.Next() {
		var v Valuation
		if err := rows.Scan(&v.TenantID, &v.WarehouseID, &v.Quantity, &v.Value); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
