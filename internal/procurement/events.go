package procurement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ReceiptPostedEvent describes a committed goods receipt for downstream integration.
type ReceiptPostedEvent struct {
	TenantID    int64               `json:"tenant_id"`
	OrderID     int64               `json:"order_id"`
	OrderNumber string              `json:"order_number"`
	OrderStatus POStatus            `json:"order_status"`
	WarehouseID int64               `json:"warehouse_id"`
	PayableID   int64               `json:"payable_id"`
	Total       decimal.Decimal     `json:"total"`
	Lines       []ReceiptLineResult `json:"lines"`
	PostedAt    time.Time           `json:"posted_at"`
}

// IntegrationHandler receives procurement domain events after commit.
type IntegrationHandler interface {
	HandleReceiptPosted(ctx context.Context, evt ReceiptPostedEvent) error
}
