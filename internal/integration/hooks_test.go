package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/stockaudit"
)

type published struct {
	key       string
	eventType string
	payload   any
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, key, eventType string, payload any) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{key: key, eventType: eventType, payload: payload})
	return nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestHandleMovementsPostedNetsTransfer(t *testing.T) {
	pub := &fakePublisher{}
	hooks := NewHooks(pub, nil)
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	err := hooks.HandleMovementsPosted(context.Background(), inventory.MovementsPostedEvent{
		TenantID:  1,
		Operation: "transfer",
		PostedAt:  at,
		Movements: []inventory.Movement{
			{ID: 11, ProductID: 5, Quantity: d("-3"), TotalCost: d("-30")},
			{ID: 12, ProductID: 5, Quantity: d("3"), TotalCost: d("30")},
			{ID: 13, ProductID: 2, Quantity: d("-1"), TotalCost: d("-4.5")},
		},
	})
	require.NoError(t, err)
	require.Len(t, pub.sent, 1)
	require.Equal(t, EventMovementsPosted, pub.sent[0].eventType)
	require.Equal(t, "1:transfer:11", pub.sent[0].key)

	payload := pub.sent[0].payload.(movementsPayload)
	require.Len(t, payload.Net, 2)
	require.Equal(t, int64(2), payload.Net[0].ProductID)
	require.True(t, d("-4.5").Equal(payload.Net[0].Cost))
	require.True(t, payload.Net[1].Quantity.IsZero())
	require.True(t, payload.Net[1].Cost.IsZero())

	require.NoError(t, hooks.HandleMovementsPosted(context.Background(), inventory.MovementsPostedEvent{TenantID: 1}))
	require.Len(t, pub.sent, 1)
}

func TestHandleReceiptAndAuditEvents(t *testing.T) {
	pub := &fakePublisher{}
	hooks := NewHooks(pub, nil)
	ctx := context.Background()

	require.NoError(t, hooks.HandleReceiptPosted(ctx, procurement.ReceiptPostedEvent{TenantID: 3, OrderID: 40}))
	require.NoError(t, hooks.HandleAuditClosed(ctx, stockaudit.AuditClosedEvent{TenantID: 3, AuditID: 8}))
	require.Equal(t, "3:po:40", pub.sent[0].key)
	require.Equal(t, EventReceiptPosted, pub.sent[0].eventType)
	require.Equal(t, "3:audit:8", pub.sent[1].key)
	require.Equal(t, EventAuditClosed, pub.sent[1].eventType)

	pub.err = errors.New("bus down")
	require.Error(t, hooks.HandleAuditClosed(ctx, stockaudit.AuditClosedEvent{TenantID: 3, AuditID: 9}))

	disabled := NewHooks(nil, nil)
	require.NoError(t, disabled.HandleReceiptPosted(ctx, procurement.ReceiptPostedEvent{TenantID: 3}))
}
