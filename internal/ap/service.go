package ap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Store is the transactional capability used for payable writes.
type Store interface {
	InsertPayable(ctx context.Context, payable Payable) (Payable, error)
	GetPayableForUpdate(ctx context.Context, tenantID, id int64) (Payable, error)
	UpdatePayable(ctx context.Context, payable Payable) error
	InsertPayment(ctx context.Context, payment Payment) (Payment, error)
	// ListUnpaidForUpdate returns unpaid payables of every tenant.
	ListUnpaidForUpdate(ctx context.Context) ([]Payable, error)
}

// RepositoryPort abstracts payable persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	GetPayable(ctx context.Context, tenantID, id int64) (Payable, error)
	ListPayables(ctx context.Context, filter ListFilter) ([]Payable, error)
	ListPayments(ctx context.Context, tenantID, payableID int64) ([]Payment, error)
	OutstandingPayables(ctx context.Context, tenantID int64) ([]Payable, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages payables.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	logger      *slog.Logger
	now         func() time.Time
	dueSoonDays int
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Logger      *slog.Logger
	Clock       func() time.Time
	DueSoonDays int
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	days := cfg.DueSoonDays
	if days <= 0 {
		days = DefaultDueSoonDays
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: clock, dueSoonDays: days}
}

// CreatePayableTx raises a payable inside the caller's transaction. Total is subtotal plus tax
// and the whole total is outstanding.
func (s *Service) CreatePayableTx(ctx context.Context, st Store, input CreateInput) (Payable, error) {
	if input.TenantID == 0 || input.SupplierID == 0 {
		return Payable{}, fmt.Errorf("%w: tenant and supplier required", ErrValidation)
	}
	if input.Subtotal.IsNegative() || input.TaxAmount.IsNegative() {
		return Payable{}, ErrInvalidAmount
	}
	if input.DueDate.IsZero() {
		return Payable{}, fmt.Errorf("%w: due date required", ErrValidation)
	}
	now := s.now()
	total := input.Subtotal.Add(input.TaxAmount)
	payable := Payable{
		TenantID:        input.TenantID,
		Number:          generateNumber("AP", now),
		SupplierID:      input.SupplierID,
		PurchaseOrderID: input.PurchaseOrderID,
		Subtotal:        input.Subtotal,
		TaxAmount:       input.TaxAmount,
		Total:           total,
		PaidAmount:      decimal.Zero,
		Balance:         total,
		DueDate:         input.DueDate,
		Status:          DeriveStatus(total, input.DueDate, now, s.dueSoonDays),
		CreatedBy:       input.CreatedBy,
	}
	return st.InsertPayable(ctx, payable)
}

// RegisterPayment applies a payment to a payable and recomputes its status.
func (s *Service) RegisterPayment(ctx context.Context, input PaymentInput) (Payable, Payment, error) {
	if input.TenantID == 0 || input.PayableID == 0 {
		return Payable{}, Payment{}, fmt.Errorf("%w: tenant and payable required", ErrValidation)
	}
	amount := input.Amount.Round(4)
	if !amount.IsPositive() {
		return Payable{}, Payment{}, ErrInvalidAmount
	}
	now := s.now()
	paidAt := input.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}

	var payable Payable
	var payment Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, st Store) error {
		var err error
		payable, err = st.GetPayableForUpdate(ctx, input.TenantID, input.PayableID)
		if err != nil {
			return err
		}
		if payable.Status == StatusPaid || !payable.Balance.IsPositive() {
			return ErrAlreadyPaid
		}
		if amount.GreaterThan(payable.Balance) {
			return fmt.Errorf("%w: balance %s, payment %s", ErrOverpayment, payable.Balance, amount)
		}
		payment, err = st.InsertPayment(ctx, Payment{
			TenantID:  input.TenantID,
			PayableID: payable.ID,
			Amount:    amount,
			Method:    strings.TrimSpace(input.Method),
			Reference: strings.TrimSpace(input.Reference),
			PaidAt:    paidAt,
			CreatedBy: input.ActorID,
		})
		if err != nil {
			return err
		}
		payable.PaidAmount = payable.PaidAmount.Add(amount)
		payable.Balance = payable.Total.Sub(payable.PaidAmount)
		payable.Status = DeriveStatus(payable.Balance, payable.DueDate, now, s.dueSoonDays)
		return st.UpdatePayable(ctx, payable)
	})
	if err != nil {
		return Payable{}, Payment{}, err
	}
	s.recordAudit(ctx, input.TenantID, input.ActorID, "ap:payment", payable.ID, map[string]any{
		"payment_id": payment.ID,
		"amount":     amount.String(),
		"status":     string(payable.Status),
	})
	return payable, payment, nil
}

// RefreshStatuses recomputes the status of every unpaid payable as of now and returns how many changed.
func (s *Service) RefreshStatuses(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		now = s.now()
	}
	changed := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, st Store) error {
		changed = 0
		payables, err := st.ListUnpaidForUpdate(ctx)
		if err != nil {
			return err
		}
		for _, p := range payables {
			status := DeriveStatus(p.Balance, p.DueDate, now, s.dueSoonDays)
			if status == p.Status {
				continue
			}
			p.Status = status
			if err := st.UpdatePayable(ctx, p); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		s.logger.Info("payable statuses refreshed", slog.Int("changed", changed))
	}
	return changed, nil
}

// Aging buckets outstanding balances by days past due as of asOf.
func (s *Service) Aging(ctx context.Context, tenantID int64, asOf time.Time) (AgingBucket, error) {
	if tenantID == 0 {
		return AgingBucket{}, fmt.Errorf("%w: tenant required", ErrValidation)
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	payables, err := s.repo.OutstandingPayables(ctx, tenantID)
	if err != nil {
		return AgingBucket{}, err
	}
	return BucketAging(payables, asOf), nil
}

// BucketAging sums positive balances into current, 1-30, 31-60, 61-90 and over 90 days past due.
func BucketAging(payables []Payable, asOf time.Time) AgingBucket {
	var bucket AgingBucket
	for _, p := range payables {
		if !p.Balance.IsPositive() {
			continue
		}
		daysOverdue := int(asOf.Sub(p.DueDate).Hours() / 24)
		switch {
		case daysOverdue <= 0:
			bucket.Current = bucket.Current.Add(p.Balance)
		case daysOverdue <= 30:
			bucket.Bucket30 = bucket.Bucket30.Add(p.Balance)
		case daysOverdue <= 60:
			bucket.Bucket60 = bucket.Bucket60.Add(p.Balance)
		case daysOverdue <= 90:
			bucket.Bucket90 = bucket.Bucket90.Add(p.Balance)
		default:
			bucket.Bucket120 = bucket.Bucket120.Add(p.Balance)
		}
		bucket.Total = bucket.Total.Add(p.Balance)
	}
	return bucket
}

// GetPayable loads a payable with tenant scope.
func (s *Service) GetPayable(ctx context.Context, tenantID, id int64) (Payable, error) {
	return s.repo.GetPayable(ctx, tenantID, id)
}

// ListPayables lists payables.
func (s *Service) ListPayables(ctx context.Context, filter ListFilter) ([]Payable, error) {
	if filter.TenantID == 0 {
		return nil, fmt.Errorf("%w: tenant required", ErrValidation)
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListPayables(ctx, filter)
}

// ListPayments lists payments of a payable.
func (s *Service) ListPayments(ctx context.Context, tenantID, payableID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, tenantID, payableID)
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{TenantID: tenantID, ActorID: actorID, Action: action, Entity: "account_payable", EntityID: fmt.Sprintf("%d", entityID), Meta: meta}); err != nil {
		s.logger.Warn("record ap audit log", slog.String("action", action), slog.Any("error", err))
	}
}

func generateNumber(prefix string, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s-%s", prefix, at.Format("20060102"), suffix)
}
