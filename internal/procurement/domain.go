package procurement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/ap"
)

// POStatus is the purchase order lifecycle status.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusOrdered   POStatus = "ORDERED"
	POStatusPartial   POStatus = "PARTIAL"
	POStatusReceived  POStatus = "RECEIVED"
	POStatusCancelled POStatus = "CANCELLED"
)

// DefaultPaymentTermDays applies when an order does not specify its payment term.
const DefaultPaymentTermDays = 30

var poTransitions = map[POStatus][]POStatus{
	POStatusDraft:   {POStatusOrdered, POStatusCancelled},
	POStatusOrdered: {POStatusPartial, POStatusReceived, POStatusCancelled},
	POStatusPartial: {POStatusPartial, POStatusReceived, POStatusCancelled},
}

// CanTransition reports whether the order may move from s to next.
func (s POStatus) CanTransition(next POStatus) bool {
	for _, allowed := range poTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Receivable reports whether goods may be received against an order in status s.
func (s POStatus) Receivable() bool {
	return s == POStatusOrdered || s == POStatusPartial
}

// PurchaseOrder is the order header with its items.
type PurchaseOrder struct {
	ID              int64       `json:"id"`
	TenantID        int64       `json:"tenant_id"`
	Number          string      `json:"number"`
	SupplierID      int64       `json:"supplier_id"`
	Status          POStatus    `json:"status"`
	PaymentTermDays int         `json:"payment_term_days"`
	Note            string      `json:"note"`
	OrderedAt       *time.Time  `json:"ordered_at"`
	ReceivedAt      *time.Time  `json:"received_at"`
	CancelledAt     *time.Time  `json:"cancelled_at"`
	CreatedBy       int64       `json:"created_by"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	Items           []OrderItem `json:"items"`
}

// OrderItem is one product line of an order. TaxRate is a fraction, 0.11 for 11%.
type OrderItem struct {
	ID               int64           `json:"id"`
	PurchaseOrderID  int64           `json:"purchase_order_id"`
	ProductID        int64           `json:"product_id"`
	QuantityOrdered  decimal.Decimal `json:"quantity_ordered"`
	QuantityReceived decimal.Decimal `json:"quantity_received"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
}

// Complete reports whether the ordered quantity has been received in full.
func (i OrderItem) Complete() bool {
	return i.QuantityReceived.GreaterThanOrEqual(i.QuantityOrdered)
}

// DeriveReceiptStatus recomputes the order status after a receipt: RECEIVED when every item is
// complete, PARTIAL when anything has been received, otherwise the current status.
func DeriveReceiptStatus(current POStatus, items []OrderItem) POStatus {
	if len(items) == 0 {
		return current
	}
	complete, anyReceived := true, false
	for _, item := range items {
		if !item.Complete() {
			complete = false
		}
		if item.QuantityReceived.IsPositive() {
			anyReceived = true
		}
	}
	switch {
	case complete:
		return POStatusReceived
	case anyReceived:
		return POStatusPartial
	default:
		return current
	}
}

// CreateOrderInput describes a new order.
type CreateOrderInput struct {
	TenantID   int64
	Number     string
	SupplierID int64
	// PaymentTermDays defaults to DefaultPaymentTermDays when nil.
	PaymentTermDays *int
	Note            string
	ActorID         int64
	Items           []OrderItemInput
}

// OrderItemInput describes one order line.
type OrderItemInput struct {
	ProductID int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	TaxRate   decimal.Decimal
}

// ReceiptInput records goods arriving against an order.
type ReceiptInput struct {
	TenantID    int64
	OrderID     int64
	WarehouseID int64
	Lines       []ReceiptLine
	ReceivedAt  time.Time
	ActorID     int64
	Notes       string
	// IdempotencyKey makes a retried receipt fail instead of posting twice.
	IdempotencyKey string
}

// ReceiptLine is one received product. UnitCost defaults to the order line price.
type ReceiptLine struct {
	ProductID   int64
	Quantity    decimal.Decimal
	UnitCost    *decimal.Decimal
	BatchNumber string
	ExpiresAt   *time.Time
}

// ReceiptLineResult reports the lot created for one receipt line.
type ReceiptLineResult struct {
	ProductID        int64           `json:"product_id"`
	BatchID          int64           `json:"batch_id"`
	BatchNumber      string          `json:"batch_number"`
	MovementID       int64           `json:"movement_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Tax              decimal.Decimal `json:"tax"`
	QuantityReceived decimal.Decimal `json:"quantity_received"`
	QuantityOrdered  decimal.Decimal `json:"quantity_ordered"`
}

// ReceiptResult summarises a goods receipt.
type ReceiptResult struct {
	OrderID          int64               `json:"order_id"`
	OrderNumber      string              `json:"order_number"`
	OrderStatus      POStatus            `json:"order_status"`
	BatchesCreated   int                 `json:"batches_created"`
	MovementsCreated int                 `json:"movements_created"`
	Lines            []ReceiptLineResult `json:"lines"`
	Payable          ap.Payable          `json:"payable"`
}

// ListFilter selects orders.
type ListFilter struct {
	TenantID   int64
	SupplierID int64
	Status     POStatus
	Limit      int
	Offset     int
}

var (
	// ErrInvalidState occurs when action violates status workflow.
	ErrInvalidState = errors.New("procurement: invalid state transition")
	// ErrNotFound indicates the order is absent or belongs to another tenant.
	ErrNotFound = errors.New("procurement: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("procurement: invalid input")
	// ErrProductNotOnOrder indicates a receipt line for a product the order does not contain.
	ErrProductNotOnOrder = errors.New("procurement: product not on order")
)
