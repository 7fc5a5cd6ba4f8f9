package stockaudit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Repository persists audits in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txStore struct {
	tx        pgx.Tx
	inventory inventory.Store
}

// WithTx executes fn inside a read-committed transaction shared with the ledger store.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	if r == nil {
		return errors.New("stockaudit repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx, inventory: inventory.NewTxStore(tx)})
	})
}

const auditColumns = `id, tenant_id, number, warehouse_id, status, total_variance, variance_cost, notes,
COALESCE(created_by, 0), created_at, completed_at, completed_by, cancelled_at`

const itemColumns = `id, audit_id, product_id, system_stock, counted_qty, variance, unit_cost, variance_cost,
is_adjusted, note, counted_at`

func scanAudit(row pgx.Row) (Audit, error) {
	var a Audit
	err := row.Scan(&a.ID, &a.TenantID, &a.Number, &a.WarehouseID, &a.Status, &a.TotalVariance, &a.VarianceCost, &a.Notes,
		&a.CreatedBy, &a.CreatedAt, &a.CompletedAt, &a.CompletedBy, &a.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Audit{}, ErrNotFound
	}
	return a, err
}

func loadItems(ctx context.Context, q querier, auditID int64, lock bool) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM stock_audit_items WHERE audit_id=$1 ORDER BY id`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, auditID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.AuditID, &it.ProductID, &it.SystemStock, &it.CountedQty, &it.Variance,
			&it.UnitCost, &it.VarianceCost, &it.IsAdjusted, &it.Note, &it.CountedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *txStore) Inventory() inventory.Store { return s.inventory }

func (s *txStore) InsertAudit(ctx context.Context, a Audit) (Audit, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_audits (tenant_id, number, warehouse_id, status, total_variance, variance_cost, notes, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id, created_at`, a.TenantID, a.Number, a.WarehouseID, string(a.Status), a.TotalVariance, a.VarianceCost, a.Notes,
		nullInt(a.CreatedBy)).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return Audit{}, err
	}
	return a, nil
}

func (s *txStore) InsertItem(ctx context.Context, it Item) (Item, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_audit_items (audit_id, product_id, system_stock) VALUES ($1,$2,$3) RETURNING id`,
		it.AuditID, it.ProductID, it.SystemStock).Scan(&it.ID)
	if err != nil {
		return Item{}, err
	}
	return it, nil
}

func (s *txStore) GetAuditForUpdate(ctx context.Context, tenantID, id int64) (Audit, error) {
	a, err := scanAudit(s.tx.QueryRow(ctx, `SELECT `+auditColumns+` FROM stock_audits WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
	if err != nil {
		return Audit{}, err
	}
	a.Items, err = loadItems(ctx, s.tx, a.ID, true)
	if err != nil {
		return Audit{}, err
	}
	return a, nil
}

func (s *txStore) UpdateAudit(ctx context.Context, a Audit) error {
	tag, err := s.tx.Exec(ctx, `UPDATE stock_audits SET status=$3, total_variance=$4, variance_cost=$5, completed_at=$6,
completed_by=$7, cancelled_at=$8
WHERE tenant_id=$1 AND id=$2`, a.TenantID, a.ID, string(a.Status), a.TotalVariance, a.VarianceCost, a.CompletedAt,
		a.CompletedBy, a.CancelledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *txStore) UpdateItem(ctx context.Context, it Item) error {
	tag, err := s.tx.Exec(ctx, `UPDATE stock_audit_items SET counted_qty=$2, variance=$3, unit_cost=$4, variance_cost=$5,
is_adjusted=$6, note=$7, counted_at=$8
WHERE id=$1`, it.ID, it.CountedQty, it.Variance, it.UnitCost, it.VarianceCost, it.IsAdjusted, it.Note, it.CountedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// GetAudit loads an audit with its items.
func (r *Repository) GetAudit(ctx context.Context, tenantID, id int64) (Audit, error) {
	a, err := scanAudit(r.pool.QueryRow(ctx, `SELECT `+auditColumns+` FROM stock_audits WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if err != nil {
		return Audit{}, err
	}
	a.Items, err = loadItems(ctx, r.pool, a.ID, false)
	if err != nil {
		return Audit{}, err
	}
	return a, nil
}

// ListAudits lists audit headers newest first.
func (r *Repository) ListAudits(ctx context.Context, filter ListFilter) ([]Audit, error) {
	conds := []string{"tenant_id=$1"}
	args := []any{filter.TenantID}
	if filter.WarehouseID != 0 {
		args = append(args, filter.WarehouseID)
		conds = append(conds, fmt.Sprintf("warehouse_id=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM stock_audits WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		auditColumns, strings.Join(conds, " AND "), len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	audits := []Audit{}
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

// Catalog reads active products from the master-data table.
type Catalog struct {
	pool *pgxpool.Pool
}

// NewCatalog constructs Catalog.
func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

// ActiveProducts implements CatalogPort.
func (c *Catalog) ActiveProducts(ctx context.Context, tenantID int64) ([]Product, error) {
	rows, err := c.pool.Query(ctx, `SELECT id, sku, name FROM products WHERE tenant_id=$1 AND is_active ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
