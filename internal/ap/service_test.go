package ap_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/ap"
	"github.com/odyssey-erp/odyssey-stock/internal/ap/aptest"
)

var now = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newService(t *testing.T) (*ap.Service, *aptest.Store) {
	t.Helper()
	store := aptest.NewStore()
	svc := ap.NewService(store, nil, ap.ServiceConfig{Clock: func() time.Time { return now }})
	return svc, store
}

func createPayable(t *testing.T, svc *ap.Service, store *aptest.Store, subtotal, tax string, due time.Time) ap.Payable {
	t.Helper()
	var p ap.Payable
	err := store.Atomic(func() error {
		var err error
		p, err = svc.CreatePayableTx(context.Background(), store.Tx(), ap.CreateInput{
			TenantID: 1, SupplierID: 9, Subtotal: d(subtotal), TaxAmount: d(tax), DueDate: due,
		})
		return err
	})
	require.NoError(t, err)
	return p
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name    string
		balance string
		due     time.Time
		want    ap.Status
	}{
		{"settled", "0", now.AddDate(0, 0, 30), ap.StatusPaid},
		{"overpaid counts as paid", "-1", now.AddDate(0, 0, -3), ap.StatusPaid},
		{"past due", "10", now.Add(-time.Minute), ap.StatusOverdue},
		{"due in three days", "10", now.AddDate(0, 0, 3), ap.StatusDueSoon},
		{"due exactly in seven days", "10", now.AddDate(0, 0, 7), ap.StatusDueSoon},
		{"due in thirty days", "10", now.AddDate(0, 0, 30), ap.StatusCurrent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ap.DeriveStatus(d(tc.balance), tc.due, now, ap.DefaultDueSoonDays))
		})
	}
}

func TestCreatePayableTx(t *testing.T) {
	svc, store := newService(t)
	p := createPayable(t, svc, store, "600", "66", now.AddDate(0, 0, 30))

	require.NotZero(t, p.ID)
	require.Contains(t, p.Number, "AP-20240601-")
	require.True(t, p.Total.Equal(d("666")))
	require.True(t, p.Balance.Equal(d("666")))
	require.True(t, p.PaidAmount.IsZero())
	require.Equal(t, ap.StatusCurrent, p.Status)

	err := store.Atomic(func() error {
		_, err := svc.CreatePayableTx(context.Background(), store.Tx(), ap.CreateInput{TenantID: 1, Subtotal: d("1"), DueDate: now})
		return err
	})
	require.ErrorIs(t, err, ap.ErrValidation)
}

func TestRegisterPaymentUpdatesBalanceAndStatus(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	p := createPayable(t, svc, store, "100", "11", now.AddDate(0, 0, 3))
	require.Equal(t, ap.StatusDueSoon, p.Status)

	updated, payment, err := svc.RegisterPayment(ctx, ap.PaymentInput{TenantID: 1, PayableID: p.ID, Amount: d("50"), Method: "TRANSFER"})
	require.NoError(t, err)
	require.True(t, payment.Amount.Equal(d("50")))
	require.Equal(t, now, payment.PaidAt)
	require.True(t, updated.PaidAmount.Equal(d("50")))
	require.True(t, updated.Balance.Equal(d("61")))
	require.Equal(t, ap.StatusDueSoon, updated.Status)

	_, _, err = svc.RegisterPayment(ctx, ap.PaymentInput{TenantID: 1, PayableID: p.ID, Amount: d("61.01")})
	require.ErrorIs(t, err, ap.ErrOverpayment)

	updated, _, err = svc.RegisterPayment(ctx, ap.PaymentInput{TenantID: 1, PayableID: p.ID, Amount: d("61")})
	require.NoError(t, err)
	require.True(t, updated.Balance.IsZero())
	require.Equal(t, ap.StatusPaid, updated.Status)

	_, _, err = svc.RegisterPayment(ctx, ap.PaymentInput{TenantID: 1, PayableID: p.ID, Amount: d("1")})
	require.ErrorIs(t, err, ap.ErrAlreadyPaid)

	payments, err := svc.ListPayments(ctx, 1, p.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
}

func TestRegisterPaymentValidation(t *testing.T) {
	svc, store := newService(t)
	p := createPayable(t, svc, store, "100", "0", now.AddDate(0, 0, 30))

	_, _, err := svc.RegisterPayment(context.Background(), ap.PaymentInput{TenantID: 1, PayableID: p.ID, Amount: decimal.Zero})
	require.ErrorIs(t, err, ap.ErrInvalidAmount)
	_, _, err = svc.RegisterPayment(context.Background(), ap.PaymentInput{TenantID: 2, PayableID: p.ID, Amount: d("1")})
	require.ErrorIs(t, err, ap.ErrPayableNotFound)
}

func TestRefreshStatuses(t *testing.T) {
	svc, store := newService(t)
	createPayable(t, svc, store, "10", "0", now.AddDate(0, 0, 5))
	createPayable(t, svc, store, "10", "0", now.AddDate(0, 0, 20))
	createPayable(t, svc, store, "10", "0", now.AddDate(0, 0, 60))

	changed, err := svc.RefreshStatuses(context.Background(), now.AddDate(0, 0, 14))
	require.NoError(t, err)
	require.Equal(t, 2, changed)

	payables := store.Payables()
	require.Equal(t, ap.StatusOverdue, payables[0].Status)
	require.Equal(t, ap.StatusDueSoon, payables[1].Status)
	require.Equal(t, ap.StatusCurrent, payables[2].Status)
}

func TestAgingBuckets(t *testing.T) {
	svc, store := newService(t)
	createPayable(t, svc, store, "1", "0", now.AddDate(0, 0, 10))
	createPayable(t, svc, store, "2", "0", now.AddDate(0, 0, -10))
	createPayable(t, svc, store, "4", "0", now.AddDate(0, 0, -45))
	createPayable(t, svc, store, "8", "0", now.AddDate(0, 0, -75))
	createPayable(t, svc, store, "16", "0", now.AddDate(0, 0, -120))

	bucket, err := svc.Aging(context.Background(), 1, now)
	require.NoError(t, err)
	require.True(t, bucket.Current.Equal(d("1")))
	require.True(t, bucket.Bucket30.Equal(d("2")))
	require.True(t, bucket.Bucket60.Equal(d("4")))
	require.True(t, bucket.Bucket90.Equal(d("8")))
	require.True(t, bucket.Bucket120.Equal(d("16")))
	require.True(t, bucket.Total.Equal(d("31")))
}
