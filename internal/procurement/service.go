package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/ap"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// TxRepository exposes transactional operations. Inventory and Payables share the same transaction.
type TxRepository interface {
	InsertOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	InsertItem(ctx context.Context, item OrderItem) (OrderItem, error)
	GetOrderForUpdate(ctx context.Context, tenantID, id int64) (PurchaseOrder, error)
	UpdateOrderStatus(ctx context.Context, po PurchaseOrder) error
	UpdateItemReceived(ctx context.Context, itemID int64, received decimal.Decimal) error
	Inventory() inventory.Store
	Payables() ap.Store
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, tenantID, id int64) (PurchaseOrder, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error)
}

// LedgerPort exposes the inventory operations a receipt needs.
type LedgerPort interface {
	ReceiveInboundTx(ctx context.Context, st inventory.Store, input inventory.InboundInput) (inventory.InboundResult, error)
	PublishMovements(ctx context.Context, operation string, tenantID, actorID int64, movements []inventory.Movement)
	Now() time.Time
}

// PayablesPort raises payables inside the receipt transaction.
type PayablesPort interface {
	CreatePayableTx(ctx context.Context, st ap.Store, input ap.CreateInput) (ap.Payable, error)
}

// LockPort serialises receipts per order across instances.
type LockPort interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// IdempotencyPort rejects replayed receipt requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates procurement flows.
type Service struct {
	repo        RepositoryPort
	ledger      LedgerPort
	payables    PayablesPort
	locker      LockPort
	idempotency IdempotencyPort
	audit       AuditPort
	integration IntegrationHandler
	logger      *slog.Logger
}

// Dependencies groups the collaborators of Service. Locker, Idempotency, Audit and Integration are optional.
type Dependencies struct {
	Repo        RepositoryPort
	Ledger      LedgerPort
	Payables    PayablesPort
	Locker      LockPort
	Idempotency IdempotencyPort
	Audit       AuditPort
	Integration IntegrationHandler
	Logger      *slog.Logger
}

// NewService constructs procurement service.
func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        deps.Repo,
		ledger:      deps.Ledger,
		payables:    deps.Payables,
		locker:      deps.Locker,
		idempotency: deps.Idempotency,
		audit:       deps.Audit,
		integration: deps.Integration,
		logger:      logger,
	}
}

// CreatePurchaseOrder persists a DRAFT order with its items.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreateOrderInput) (PurchaseOrder, error) {
	if input.TenantID == 0 || input.SupplierID == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: tenant and supplier required", ErrValidation)
	}
	if len(input.Items) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: minimal 1 item", ErrValidation)
	}
	terms := DefaultPaymentTermDays
	if input.PaymentTermDays != nil {
		terms = *input.PaymentTermDays
	}
	if terms < 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: payment term must be >= 0", ErrValidation)
	}
	seen := make(map[int64]struct{}, len(input.Items))
	for i, item := range input.Items {
		switch {
		case item.ProductID == 0:
			return PurchaseOrder{}, fmt.Errorf("%w: item %d product required", ErrValidation, i+1)
		case !item.Quantity.IsPositive():
			return PurchaseOrder{}, fmt.Errorf("%w: item %d quantity must be positive", ErrValidation, i+1)
		case item.UnitPrice.IsNegative() || item.TaxRate.IsNegative():
			return PurchaseOrder{}, fmt.Errorf("%w: item %d price and tax rate must be >= 0", ErrValidation, i+1)
		}
		if _, dup := seen[item.ProductID]; dup {
			return PurchaseOrder{}, fmt.Errorf("%w: product %d listed twice", ErrValidation, item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
	}
	number := strings.TrimSpace(input.Number)
	if number == "" {
		number = generateNumber("PO", s.ledger.Now())
	}

	var created PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.InsertOrder(ctx, PurchaseOrder{
			TenantID:        input.TenantID,
			Number:          number,
			SupplierID:      input.SupplierID,
			Status:          POStatusDraft,
			PaymentTermDays: terms,
			Note:            input.Note,
			CreatedBy:       input.ActorID,
		})
		if err != nil {
			return err
		}
		for _, in := range input.Items {
			item, err := tx.InsertItem(ctx, OrderItem{
				PurchaseOrderID:  po.ID,
				ProductID:        in.ProductID,
				QuantityOrdered:  inventory.NormalizeQuantity(in.Quantity),
				QuantityReceived: decimal.Zero,
				UnitPrice:        inventory.NormalizeCost(in.UnitPrice),
				TaxRate:          in.TaxRate,
			})
			if err != nil {
				return err
			}
			po.Items = append(po.Items, item)
		}
		created = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, created.TenantID, input.ActorID, "po:create", created.ID, map[string]any{"number": created.Number})
	return created, nil
}

// SubmitPurchaseOrder moves a DRAFT order to ORDERED so goods can be received against it.
func (s *Service) SubmitPurchaseOrder(ctx context.Context, tenantID, id, actorID int64) (PurchaseOrder, error) {
	return s.transition(ctx, tenantID, id, actorID, POStatusOrdered, "po:submit")
}

// CancelPurchaseOrder cancels an order that is not yet fully received.
func (s *Service) CancelPurchaseOrder(ctx context.Context, tenantID, id, actorID int64) (PurchaseOrder, error) {
	return s.transition(ctx, tenantID, id, actorID, POStatusCancelled, "po:cancel")
}

func (s *Service) transition(ctx context.Context, tenantID, id, actorID int64, next POStatus, action string) (PurchaseOrder, error) {
	if tenantID == 0 || id == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: tenant and order required", ErrValidation)
	}
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetOrderForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if !po.Status.CanTransition(next) {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidState, po.Number, po.Status)
		}
		now := s.ledger.Now()
		po.Status = next
		switch next {
		case POStatusOrdered:
			po.OrderedAt = &now
		case POStatusCancelled:
			po.CancelledAt = &now
		}
		return tx.UpdateOrderStatus(ctx, po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, tenantID, actorID, action, po.ID, map[string]any{"status": string(po.Status)})
	return po, nil
}

// GetPurchaseOrder loads an order with its items.
func (s *Service) GetPurchaseOrder(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	return s.repo.GetOrder(ctx, tenantID, id)
}

// ListPurchaseOrders lists order headers.
func (s *Service) ListPurchaseOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	if filter.TenantID == 0 {
		return nil, fmt.Errorf("%w: tenant required", ErrValidation)
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListOrders(ctx, filter)
}

const receiptIdempotencyModule = "procurement.receipt"

// ReceiveGoods posts a goods receipt against an ORDERED or PARTIAL order. Every line becomes a new
// batch with an IN movement, received quantities and the order status are updated, and one payable
// for the receipt subtotal plus tax is raised. All of it commits together or not at all.
func (s *Service) ReceiveGoods(ctx context.Context, input ReceiptInput) (ReceiptResult, error) {
	if err := validateReceipt(input); err != nil {
		return ReceiptResult{}, err
	}
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" && s.idempotency != nil {
		scoped := fmt.Sprintf("%d:%s", input.TenantID, key)
		if err := s.idempotency.CheckAndInsert(ctx, scoped, receiptIdempotencyModule); err != nil {
			return ReceiptResult{}, err
		}
		result, err := s.receiveLocked(ctx, input)
		if err != nil {
			if delErr := s.idempotency.Delete(context.WithoutCancel(ctx), scoped); delErr != nil {
				s.logger.Warn("release receipt idempotency key", slog.String("key", scoped), slog.Any("error", delErr))
			}
			return ReceiptResult{}, err
		}
		return result, nil
	}
	return s.receiveLocked(ctx, input)
}

func (s *Service) receiveLocked(ctx context.Context, input ReceiptInput) (ReceiptResult, error) {
	var result ReceiptResult
	var movements []inventory.Movement
	run := func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			result, movements, err = s.receive(ctx, tx, input)
			return err
		})
	}
	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, shared.PurchaseOrderLockKey(input.TenantID, input.OrderID), run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return ReceiptResult{}, err
	}

	s.ledger.PublishMovements(ctx, "goods_receipt", input.TenantID, input.ActorID, movements)
	s.recordAudit(ctx, input.TenantID, input.ActorID, "po:receive", result.OrderID, map[string]any{
		"status":     string(result.OrderStatus),
		"batches":    result.BatchesCreated,
		"payable_id": result.Payable.ID,
		"total":      result.Payable.Total.String(),
	})
	if s.integration != nil {
		evt := ReceiptPostedEvent{
			TenantID:    input.TenantID,
			OrderID:     result.OrderID,
			OrderNumber: result.OrderNumber,
			OrderStatus: result.OrderStatus,
			WarehouseID: input.WarehouseID,
			PayableID:   result.Payable.ID,
			Total:       result.Payable.Total,
			Lines:       result.Lines,
			PostedAt:    s.ledger.Now(),
		}
		if err := s.integration.HandleReceiptPosted(ctx, evt); err != nil {
			s.logger.Warn("publish receipt event", slog.Int64("order_id", result.OrderID), slog.Any("error", err))
		}
	}
	return result, nil
}

// receive runs inside the transaction; it may be retried so it builds its result from scratch.
func (s *Service) receive(ctx context.Context, tx TxRepository, input ReceiptInput) (ReceiptResult, []inventory.Movement, error) {
	po, err := tx.GetOrderForUpdate(ctx, input.TenantID, input.OrderID)
	if err != nil {
		return ReceiptResult{}, nil, err
	}
	if !po.Status.Receivable() {
		return ReceiptResult{}, nil, fmt.Errorf("%w: order %s is %s", ErrInvalidState, po.Number, po.Status)
	}
	items := make(map[int64]int, len(po.Items))
	for i, item := range po.Items {
		items[item.ProductID] = i
	}

	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.ledger.Now()
	}
	notes := strings.TrimSpace(input.Notes)
	if notes == "" {
		notes = "Goods receipt " + po.Number
	}

	result := ReceiptResult{OrderID: po.ID, OrderNumber: po.Number}
	var movements []inventory.Movement
	subtotal, tax := decimal.Zero, decimal.Zero
	for i, line := range input.Lines {
		idx, ok := items[line.ProductID]
		if !ok {
			return ReceiptResult{}, nil, fmt.Errorf("%w: line %d product %d", ErrProductNotOnOrder, i+1, line.ProductID)
		}
		item := &po.Items[idx]
		cost := item.UnitPrice
		if line.UnitCost != nil {
			cost = *line.UnitCost
		}
		supplier := po.SupplierID
		inbound, err := s.ledger.ReceiveInboundTx(ctx, tx.Inventory(), inventory.InboundInput{
			TenantID:    input.TenantID,
			ProductID:   line.ProductID,
			WarehouseID: input.WarehouseID,
			Quantity:    line.Quantity,
			UnitCost:    cost,
			BatchNumber: line.BatchNumber,
			ExpiresAt:   line.ExpiresAt,
			SupplierID:  &supplier,
			ReceivedAt:  receivedAt,
			Type:        inventory.MovementIn,
			Origin:      inventory.OriginPurchase,
			Reference:   inventory.Reference{Type: inventory.RefPurchaseOrder, ID: po.ID},
			ActorID:     input.ActorID,
			Notes:       notes,
		})
		if err != nil {
			return ReceiptResult{}, nil, fmt.Errorf("receipt line %d: %w", i+1, err)
		}
		qty := inbound.Batch.QuantityInitial
		item.QuantityReceived = item.QuantityReceived.Add(qty)
		if err := tx.UpdateItemReceived(ctx, item.ID, item.QuantityReceived); err != nil {
			return ReceiptResult{}, nil, err
		}

		lineSubtotal := qty.Mul(inbound.Batch.UnitCost)
		lineTax := lineSubtotal.Mul(item.TaxRate)
		subtotal = subtotal.Add(lineSubtotal)
		tax = tax.Add(lineTax)
		movements = append(movements, inbound.Movement)
		result.Lines = append(result.Lines, ReceiptLineResult{
			ProductID:        line.ProductID,
			BatchID:          inbound.Batch.ID,
			BatchNumber:      inbound.Batch.BatchNumber,
			MovementID:       inbound.Movement.ID,
			Quantity:         qty,
			UnitCost:         inbound.Batch.UnitCost,
			Subtotal:         lineSubtotal,
			Tax:              lineTax,
			QuantityReceived: item.QuantityReceived,
			QuantityOrdered:  item.QuantityOrdered,
		})
	}

	po.Status = DeriveReceiptStatus(po.Status, po.Items)
	if po.Status == POStatusReceived {
		at := receivedAt
		po.ReceivedAt = &at
	}
	if err := tx.UpdateOrderStatus(ctx, po); err != nil {
		return ReceiptResult{}, nil, err
	}

	orderID := po.ID
	payable, err := s.payables.CreatePayableTx(ctx, tx.Payables(), ap.CreateInput{
		TenantID:        input.TenantID,
		SupplierID:      po.SupplierID,
		PurchaseOrderID: &orderID,
		Subtotal:        subtotal.Round(4),
		TaxAmount:       tax.Round(4),
		DueDate:         receivedAt.AddDate(0, 0, po.PaymentTermDays),
		CreatedBy:       input.ActorID,
	})
	if err != nil {
		return ReceiptResult{}, nil, fmt.Errorf("create payable: %w", err)
	}

	result.OrderStatus = po.Status
	result.BatchesCreated = len(result.Lines)
	result.MovementsCreated = len(movements)
	result.Payable = payable
	return result, movements, nil
}

func validateReceipt(input ReceiptInput) error {
	if input.TenantID == 0 || input.OrderID == 0 || input.WarehouseID == 0 {
		return fmt.Errorf("%w: tenant, order and warehouse required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return fmt.Errorf("%w: receipt has no lines", ErrValidation)
	}
	for i, line := range input.Lines {
		if line.ProductID == 0 {
			return fmt.Errorf("%w: line %d product required", ErrValidation, i+1)
		}
		if !line.Quantity.IsPositive() {
			return fmt.Errorf("%w: line %d: %w", ErrValidation, i+1, inventory.ErrInvalidQuantity)
		}
		if line.UnitCost != nil && line.UnitCost.IsNegative() {
			return fmt.Errorf("%w: line %d: %w", ErrValidation, i+1, inventory.ErrInvalidUnitCost)
		}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{TenantID: tenantID, ActorID: actorID, Action: action, Entity: "purchase_order", EntityID: fmt.Sprintf("%d", entityID), Meta: meta}); err != nil {
		s.logger.Warn("record procurement audit log", slog.String("action", action), slog.Any("error", err))
	}
}

func generateNumber(prefix string, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s-%s", prefix, at.Format("20060102"), suffix)
}
