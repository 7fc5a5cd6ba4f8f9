package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates ledger entry kinds.
type MovementType string

const (
	// MovementIn records stock entering a new batch.
	MovementIn MovementType = "IN"
	// MovementOut records a direct outbound issue.
	MovementOut MovementType = "OUT"
	// MovementTransfer records stock leaving the origin warehouse of a transfer.
	MovementTransfer MovementType = "TRANSFER"
	// MovementAudit records an audit surplus or deficit adjustment.
	MovementAudit MovementType = "AUDIT"
	// MovementSale records stock issued against a sale.
	MovementSale MovementType = "SALE"
	// MovementConsume records internal consumption.
	MovementConsume MovementType = "CONSUME"
)

// Direction tells whether a movement adds to or removes from its batch.
type Direction int

const (
	// Increase adds stock to a batch.
	Increase Direction = iota + 1
	// Decrease removes stock from a batch.
	Decrease
)

// Valid reports whether t is one of the known movement types.
func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementTransfer, MovementAudit, MovementSale, MovementConsume:
		return true
	}
	return false
}

// Allows reports whether a movement of type t may move stock in direction d.
func (t MovementType) Allows(d Direction) bool {
	switch t {
	case MovementIn:
		return d == Increase
	case MovementOut, MovementTransfer, MovementSale, MovementConsume:
		return d == Decrease
	case MovementAudit:
		return d == Increase || d == Decrease
	}
	return false
}

// BatchOrigin tags why a batch was created.
type BatchOrigin string

const (
	OriginDirect       BatchOrigin = "DIRECT"
	OriginPurchase     BatchOrigin = "PURCHASE"
	OriginTransfer     BatchOrigin = "TRANSFER"
	OriginAuditSurplus BatchOrigin = "AUDIT_SURPLUS"
)

// Reference types stored on movements.
const (
	RefPurchaseOrder = "PURCHASE_ORDER"
	RefMovement      = "MOVEMENT"
	RefStockAudit    = "STOCK_AUDIT"
)

// Batch is a cost-bearing lot of one product at one warehouse.
type Batch struct {
	ID              int64           `json:"id"`
	TenantID        int64           `json:"tenant_id"`
	ProductID       int64           `json:"product_id"`
	WarehouseID     int64           `json:"warehouse_id"`
	SupplierID      *int64          `json:"supplier_id"`
	BatchNumber     string          `json:"batch_number"`
	Origin          BatchOrigin     `json:"origin"`
	QuantityInitial decimal.Decimal `json:"quantity_initial"`
	QuantityCurrent decimal.Decimal `json:"quantity_current"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	ReceivedAt      time.Time       `json:"received_at"`
	ExpiresAt       *time.Time      `json:"expires_at"`
	Exhausted       bool            `json:"exhausted"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Take removes qty from the batch and keeps the exhausted flag in step.
func (b *Batch) Take(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return ErrInvalidQuantity
	}
	if qty.GreaterThan(b.QuantityCurrent) {
		return fmt.Errorf("%w: batch %s holds %s, requested %s", ErrInsufficientStock, b.BatchNumber, b.QuantityCurrent, qty)
	}
	b.QuantityCurrent = b.QuantityCurrent.Sub(qty)
	b.Exhausted = b.QuantityCurrent.IsZero()
	return nil
}

// Value returns the remaining batch value at its unit cost.
func (b Batch) Value() decimal.Decimal {
	return b.QuantityCurrent.Mul(b.UnitCost)
}

// Movement is an append-only ledger entry against exactly one batch.
// Quantity is signed: positive when stock enters the batch, negative when it leaves.
type Movement struct {
	ID              int64           `json:"id"`
	TenantID        int64           `json:"tenant_id"`
	Type            MovementType    `json:"type"`
	ProductID       int64           `json:"product_id"`
	BatchID         int64           `json:"batch_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	StockBefore     decimal.Decimal `json:"stock_before"`
	StockAfter      decimal.Decimal `json:"stock_after"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	FromWarehouseID *int64          `json:"from_warehouse_id"`
	ToWarehouseID   *int64          `json:"to_warehouse_id"`
	ReferenceType   string          `json:"reference_type"`
	ReferenceID     *int64          `json:"reference_id"`
	UserID          int64           `json:"user_id"`
	Notes           string          `json:"notes"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Reference links a movement to the document that caused it.
type Reference struct {
	Type string
	ID   int64
}

func (r Reference) id() *int64 {
	if r.Type == "" {
		return nil
	}
	id := r.ID
	return &id
}

// InboundInput describes a new lot entering a warehouse.
type InboundInput struct {
	TenantID    int64
	ProductID   int64
	WarehouseID int64
	Quantity    decimal.Decimal
	UnitCost    decimal.Decimal
	BatchNumber string
	ExpiresAt   *time.Time
	SupplierID  *int64
	ReceivedAt  time.Time
	// Type defaults to MovementIn; MovementAudit is used for audit surplus.
	Type          MovementType
	Origin        BatchOrigin
	FromWarehouse *int64
	Reference     Reference
	ActorID       int64
	Notes         string
}

// InboundResult identifies the batch and movement created by an inbound.
type InboundResult struct {
	Batch    Batch    `json:"batch"`
	Movement Movement `json:"movement"`
}

// ConsumeInput describes stock leaving a warehouse oldest lot first.
type ConsumeInput struct {
	TenantID    int64
	ProductID   int64
	WarehouseID int64
	Quantity    decimal.Decimal
	Type        MovementType
	ToWarehouse *int64
	Reference   Reference
	ActorID     int64
	Notes       string
	// AllowShortfall consumes whatever is available instead of failing. Only audit deficits use it.
	AllowShortfall bool
}

// Consumption records what was taken from one batch.
type Consumption struct {
	BatchID     int64           `json:"batch_id"`
	BatchNumber string          `json:"batch_number"`
	MovementID  int64           `json:"movement_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	StockBefore decimal.Decimal `json:"stock_before"`
	StockAfter  decimal.Decimal `json:"stock_after"`
	Exhausted   bool            `json:"exhausted"`
	SupplierID  *int64          `json:"supplier_id"`
	ExpiresAt   *time.Time      `json:"expires_at"`
}

// ConsumeResult lists per-batch consumptions in FIFO order.
type ConsumeResult struct {
	Consumptions []Consumption   `json:"consumptions"`
	Consumed     decimal.Decimal `json:"consumed"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Shortfall    decimal.Decimal `json:"shortfall"`
}

// TransferLine is one product moving between warehouses.
type TransferLine struct {
	ProductID int64
	Quantity  decimal.Decimal
}

// TransferInput moves stock from origin to destination.
type TransferInput struct {
	TenantID        int64
	FromWarehouseID int64
	ToWarehouseID   int64
	Lines           []TransferLine
	ActorID         int64
	Notes           string
}

// TransferLineResult reports the outbound consumptions and destination lots for one line.
type TransferLineResult struct {
	Line      int             `json:"line"`
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Status    string          `json:"status"`
	Outbound  []Consumption   `json:"outbound"`
	Inbound   []InboundResult `json:"inbound"`
}

// TransferResult aggregates line results.
type TransferResult struct {
	FromWarehouseID int64                `json:"from_warehouse_id"`
	ToWarehouseID   int64                `json:"to_warehouse_id"`
	Lines           []TransferLineResult `json:"lines"`
}

// TransferLineStatusDone marks a fully transferred line.
const TransferLineStatusDone = "TRANSFERRED"

// BatchFilter selects batches for listings.
type BatchFilter struct {
	TenantID         int64
	ProductID        int64
	WarehouseID      int64
	IncludeExhausted bool
}

// MovementFilter selects movements for the stock card.
type MovementFilter struct {
	TenantID      int64
	ProductID     int64
	WarehouseID   int64
	BatchID       int64
	ReferenceType string
	ReferenceID   int64
	From          time.Time
	To            time.Time
	Limit         int
}

// Valuation is stock value per warehouse.
type Valuation struct {
	TenantID    int64           `json:"tenant_id"`
	WarehouseID int64           `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Value       decimal.Decimal `json:"value"`
}

var (
	// ErrInsufficientStock indicates eligible batches cannot cover the requested quantity.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInvalidQuantity indicates invalid qty.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidUnitCost indicates invalid cost value.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
	// ErrDuplicateBatchNumber indicates the batch number is already used within the tenant.
	ErrDuplicateBatchNumber = errors.New("inventory: batch number already exists")
	// ErrSameWarehouse indicates a transfer whose origin equals its destination.
	ErrSameWarehouse = errors.New("inventory: source and destination warehouse must differ")
	// ErrInvalidMovementType indicates a movement type not allowed for the operation.
	ErrInvalidMovementType = errors.New("inventory: movement type not allowed")
	// ErrValidation indicates missing identifiers.
	ErrValidation = errors.New("inventory: invalid input")
	// ErrConcurrentUpdate indicates a locked batch changed underneath the transaction.
	ErrConcurrentUpdate = errors.New("inventory: concurrent batch update")
	// ErrNotFound indicates missing batch.
	ErrNotFound = errors.New("inventory: not found")
)

const (
	quantityScale = 4
	costScale     = 6
)

// NormalizeQuantity rounds a quantity to the stored precision.
func NormalizeQuantity(q decimal.Decimal) decimal.Decimal {
	return q.Round(quantityScale)
}

// NormalizeCost rounds a unit cost to the stored precision.
func NormalizeCost(c decimal.Decimal) decimal.Decimal {
	return c.Round(costScale)
}
