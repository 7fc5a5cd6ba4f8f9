package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/ap"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx        pgx.Tx
	inventory inventory.Store
	payables  ap.Store
}

// WithTx wraps callback in a read-committed transaction shared by the order, ledger and payable stores.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, inventory: inventory.NewTxStore(tx), payables: ap.NewTxStore(tx)})
	})
}

const orderColumns = `id, tenant_id, number, supplier_id, status, payment_term_days, note, ordered_at, received_at,
cancelled_at, COALESCE(created_by, 0), created_at, updated_at`

const itemColumns = `id, purchase_order_id, product_id, quantity_ordered, quantity_received, unit_price, tax_rate`

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.TenantID, &po.Number, &po.SupplierID, &po.Status, &po.PaymentTermDays, &po.Note,
		&po.OrderedAt, &po.ReceivedAt, &po.CancelledAt, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrNotFound
	}
	return po, err
}

func loadItems(ctx context.Context, q querier, orderID int64, lock bool) ([]OrderItem, error) {
	query := `SELECT ` + itemColumns + ` FROM purchase_order_items WHERE purchase_order_id=$1 ORDER BY id`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []OrderItem{}
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.PurchaseOrderID, &item.ProductID, &item.QuantityOrdered,
			&item.QuantityReceived, &item.UnitPrice, &item.TaxRate); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (t *txRepo) Inventory() inventory.Store { return t.inventory }

func (t *txRepo) Payables() ap.Store { return t.payables }

func (t *txRepo) InsertOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders (tenant_id, number, supplier_id, status, payment_term_days, note, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id, created_at, updated_at`, po.TenantID, po.Number, po.SupplierID, string(po.Status), po.PaymentTermDays, po.Note,
		nullInt(po.CreatedBy)).Scan(&po.ID, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return PurchaseOrder{}, fmt.Errorf("%w: order number %s already exists", ErrValidation, po.Number)
		}
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (t *txRepo) InsertItem(ctx context.Context, item OrderItem) (OrderItem, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_order_items (purchase_order_id, product_id, quantity_ordered, quantity_received, unit_price, tax_rate)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id`, item.PurchaseOrderID, item.ProductID, item.QuantityOrdered, item.QuantityReceived, item.UnitPrice, item.TaxRate).
		Scan(&item.ID)
	if err != nil {
		return OrderItem{}, err
	}
	return item, nil
}

func (t *txRepo) GetOrderForUpdate(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	po, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Items, err = loadItems(ctx, t.tx, po.ID, true)
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (t *txRepo) UpdateOrderStatus(ctx context.Context, po PurchaseOrder) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status=$3, ordered_at=$4, received_at=$5, cancelled_at=$6, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, po.TenantID, po.ID, string(po.Status), po.OrderedAt, po.ReceivedAt, po.CancelledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) UpdateItemReceived(ctx context.Context, itemID int64, received decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_order_items SET quantity_received=$2 WHERE id=$1`, itemID, received)
	return err
}

// GetOrder loads an order with its items.
func (r *Repository) GetOrder(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	po, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Items, err = loadItems(ctx, r.pool, po.ID, false)
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// ListOrders lists order headers newest first. Items are not loaded.
func (r *Repository) ListOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	conds := []string{"tenant_id=$1"}
	args := []any{filter.TenantID}
	if filter.SupplierID != 0 {
		args = append(args, filter.SupplierID)
		conds = append(conds, fmt.Sprintf("supplier_id=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM purchase_orders WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, strings.Join(conds, " AND "), len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	orders := []PurchaseOrder{}
	for rows.Next() {
		po, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, po)
	}
	return orders, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
