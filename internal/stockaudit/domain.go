package stockaudit

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the audit lifecycle status.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// Open reports whether items may still be counted and the audit closed or cancelled.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusInProgress
}

// Audit is a counting session for one warehouse.
type Audit struct {
	ID            int64           `json:"id"`
	TenantID      int64           `json:"tenant_id"`
	Number        string          `json:"number"`
	WarehouseID   int64           `json:"warehouse_id"`
	Status        Status          `json:"status"`
	TotalVariance decimal.Decimal `json:"total_variance"`
	VarianceCost  decimal.Decimal `json:"variance_cost"`
	Notes         string          `json:"notes"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at"`
	CompletedBy   *int64          `json:"completed_by"`
	CancelledAt   *time.Time      `json:"cancelled_at"`
	Items         []Item          `json:"items,omitempty"`
}

// Item is the snapshot and count of one product. CountedQty stays nil until counted;
// uncounted items are never adjusted.
type Item struct {
	ID           int64            `json:"id"`
	AuditID      int64            `json:"audit_id"`
	ProductID    int64            `json:"product_id"`
	SystemStock  decimal.Decimal  `json:"system_stock"`
	CountedQty   *decimal.Decimal `json:"counted_qty"`
	Variance     *decimal.Decimal `json:"variance"`
	UnitCost     *decimal.Decimal `json:"unit_cost"`
	VarianceCost *decimal.Decimal `json:"variance_cost"`
	IsAdjusted   bool             `json:"is_adjusted"`
	Note         string           `json:"note"`
	CountedAt    *time.Time       `json:"counted_at"`
}

// Product is an active catalog product included in a new audit.
type Product struct {
	ID   int64
	SKU  string
	Name string
}

// CreateInput opens an audit.
type CreateInput struct {
	TenantID    int64
	WarehouseID int64
	Notes       string
	ActorID     int64
}

// UpdateItemInput records a physical count.
type UpdateItemInput struct {
	TenantID   int64
	AuditID    int64
	ItemID     int64
	CountedQty decimal.Decimal
	ActorID    int64
}

// ListFilter selects audits.
type ListFilter struct {
	TenantID    int64
	WarehouseID int64
	Status      Status
	Limit       int
	Offset      int
}

var (
	// ErrNotFound indicates the audit is absent or belongs to another tenant.
	ErrNotFound = errors.New("stockaudit: not found")
	// ErrItemNotFound indicates the item does not belong to the audit.
	ErrItemNotFound = errors.New("stockaudit: item not found")
	// ErrAuditClosed indicates a COMPLETED or CANCELLED audit.
	ErrAuditClosed = errors.New("stockaudit: audit is closed")
	// ErrNoActiveProducts indicates nothing to count.
	ErrNoActiveProducts = errors.New("stockaudit: no active products")
	// ErrInvalidCount indicates a negative counted quantity.
	ErrInvalidCount = errors.New("stockaudit: counted quantity must be >= 0")
	// ErrValidation indicates missing identifiers.
	ErrValidation = errors.New("stockaudit: invalid input")
)
