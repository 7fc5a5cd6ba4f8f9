package integration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/stockaudit"
)

// Event types published by the hooks.
const (
	EventMovementsPosted = "inventory.movements_posted"
	EventReceiptPosted   = "procurement.receipt_posted"
	EventAuditClosed     = "stockaudit.audit_closed"
)

// Publisher delivers encoded events to the message bus.
type Publisher interface {
	Publish(ctx context.Context, key, eventType string, payload any) error
}

// Hooks forwards committed domain events from the ledger modules to the message bus.
type Hooks struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewHooks constructs integration hooks. A nil publisher turns every hook into a no-op.
func NewHooks(publisher Publisher, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{publisher: publisher, logger: logger}
}

var (
	_ inventory.IntegrationHandler   = (*Hooks)(nil)
	_ procurement.IntegrationHandler = (*Hooks)(nil)
	_ stockaudit.IntegrationHandler  = (*Hooks)(nil)
)

func (h *Hooks) publish(ctx context.Context, key, eventType string, payload any) error {
	if h == nil || h.publisher == nil {
		return nil
	}
	if err := h.publisher.Publish(ctx, key, eventType, payload); err != nil {
		return err
	}
	h.logger.Debug("event published", slog.String("type", eventType), slog.String("key", key))
	return nil
}

// HandleMovementsPosted publishes the movements of one committed ledger operation together with
// net quantity and cost per product.
func (h *Hooks) HandleMovementsPosted(ctx context.Context, evt inventory.MovementsPostedEvent) error {
	if len(evt.Movements) == 0 {
		return nil
	}
	payload := movementsPayload{
		TenantID:  evt.TenantID,
		Operation: evt.Operation,
		PostedAt:  evt.PostedAt,
		Movements: evt.Movements,
		Net:       netByProduct(evt.Movements),
	}
	key := fmt.Sprintf("%d:%s:%d", evt.TenantID, evt.Operation, evt.Movements[0].ID)
	return h.publish(ctx, key, EventMovementsPosted, payload)
}

// HandleReceiptPosted publishes a goods receipt keyed by its purchase order.
func (h *Hooks) HandleReceiptPosted(ctx context.Context, evt procurement.ReceiptPostedEvent) error {
	return h.publish(ctx, fmt.Sprintf("%d:po:%d", evt.TenantID, evt.OrderID), EventReceiptPosted, evt)
}

// HandleAuditClosed publishes a completed stock audit.
func (h *Hooks) HandleAuditClosed(ctx context.Context, evt stockaudit.AuditClosedEvent) error {
	return h.publish(ctx, fmt.Sprintf("%d:audit:%d", evt.TenantID, evt.AuditID), EventAuditClosed, evt)
}
