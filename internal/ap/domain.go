package ap

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates payable statuses.
type Status string

const (
	StatusCurrent Status = "CURRENT"
	StatusDueSoon Status = "DUE_SOON"
	StatusOverdue Status = "OVERDUE"
	StatusPaid    Status = "PAID"
)

// DefaultDueSoonDays is the window before the due date in which a payable is DUE_SOON.
const DefaultDueSoonDays = 7

// Payable is an obligation to a supplier raised by a goods receipt.
type Payable struct {
	ID              int64           `json:"id"`
	TenantID        int64           `json:"tenant_id"`
	Number          string          `json:"number"`
	SupplierID      int64           `json:"supplier_id"`
	PurchaseOrderID *int64          `json:"purchase_order_id"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	Total           decimal.Decimal `json:"total"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	Balance         decimal.Decimal `json:"balance"`
	DueDate         time.Time       `json:"due_date"`
	Status          Status          `json:"status"`
	CreatedBy       int64           `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Payment is money paid against one payable.
type Payment struct {
	ID        int64           `json:"id"`
	TenantID  int64           `json:"tenant_id"`
	PayableID int64           `json:"payable_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
	PaidAt    time.Time       `json:"paid_at"`
	CreatedBy int64           `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

// CreateInput raises a payable.
type CreateInput struct {
	TenantID        int64
	SupplierID      int64
	PurchaseOrderID *int64
	Subtotal        decimal.Decimal
	TaxAmount       decimal.Decimal
	DueDate         time.Time
	CreatedBy       int64
}

// PaymentInput registers a payment.
type PaymentInput struct {
	TenantID  int64
	PayableID int64
	Amount    decimal.Decimal
	Method    string
	Reference string
	PaidAt    time.Time
	ActorID   int64
}

// ListFilter selects payables.
type ListFilter struct {
	TenantID        int64
	SupplierID      int64
	PurchaseOrderID int64
	Status          Status
	Limit           int
	Offset          int
}

// AgingBucket summarises outstanding balances by days past due.
type AgingBucket struct {
	Current   decimal.Decimal `json:"current"`
	Bucket30  decimal.Decimal `json:"bucket_1_30"`
	Bucket60  decimal.Decimal `json:"bucket_31_60"`
	Bucket90  decimal.Decimal `json:"bucket_61_90"`
	Bucket120 decimal.Decimal `json:"bucket_over_90"`
	Total     decimal.Decimal `json:"total"`
}

var (
	// ErrPayableNotFound indicates the payable is absent or belongs to another tenant.
	ErrPayableNotFound = errors.New("ap: payable not found")
	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = errors.New("ap: amount must be positive")
	// ErrOverpayment indicates a payment larger than the outstanding balance.
	ErrOverpayment = errors.New("ap: payment exceeds balance")
	// ErrAlreadyPaid indicates a payment against a settled payable.
	ErrAlreadyPaid = errors.New("ap: payable already paid")
	// ErrValidation indicates missing identifiers.
	ErrValidation = errors.New("ap: invalid input")
)

// DeriveStatus computes the status of a payable from its balance and due date.
func DeriveStatus(balance decimal.Decimal, due, now time.Time, dueSoonDays int) Status {
	switch {
	case !balance.IsPositive():
		return StatusPaid
	case now.After(due):
		return StatusOverdue
	case !due.After(now.AddDate(0, 0, dueSoonDays)):
		return StatusDueSoon
	default:
		return StatusCurrent
	}
}
