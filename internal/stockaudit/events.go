package stockaudit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AuditClosedEvent describes a completed audit after commit.
type AuditClosedEvent struct {
	TenantID      int64           `json:"tenant_id"`
	AuditID       int64           `json:"audit_id"`
	Number        string          `json:"number"`
	WarehouseID   int64           `json:"warehouse_id"`
	TotalVariance decimal.Decimal `json:"total_variance"`
	VarianceCost  decimal.Decimal `json:"variance_cost"`
	Adjusted      int             `json:"adjusted"`
	Shortfalls    int             `json:"shortfalls"`
	ClosedBy      int64           `json:"closed_by"`
	ClosedAt      time.Time       `json:"closed_at"`
}

// IntegrationHandler receives audit events.
type IntegrationHandler interface {
	HandleAuditClosed(ctx context.Context, evt AuditClosedEvent) error
}
