package stockaudit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Store is the transactional capability used by the engine. Inventory shares the transaction.
type Store interface {
	InsertAudit(ctx context.Context, audit Audit) (Audit, error)
	InsertItem(ctx context.Context, item Item) (Item, error)
	GetAuditForUpdate(ctx context.Context, tenantID, id int64) (Audit, error)
	UpdateAudit(ctx context.Context, audit Audit) error
	UpdateItem(ctx context.Context, item Item) error
	Inventory() inventory.Store
}

// RepositoryPort abstracts audit persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	GetAudit(ctx context.Context, tenantID, id int64) (Audit, error)
	ListAudits(ctx context.Context, filter ListFilter) ([]Audit, error)
}

// CatalogPort lists the products an audit snapshots.
type CatalogPort interface {
	ActiveProducts(ctx context.Context, tenantID int64) ([]Product, error)
}

// LedgerPort exposes the inventory operations used to post adjustments.
type LedgerPort interface {
	ReceiveInboundTx(ctx context.Context, st inventory.Store, input inventory.InboundInput) (inventory.InboundResult, error)
	ConsumeFIFOTx(ctx context.Context, st inventory.Store, input inventory.ConsumeInput) (inventory.ConsumeResult, error)
	LatestUnitCostTx(ctx context.Context, st inventory.Store, tenantID, productID int64) (decimal.Decimal, bool, error)
	PublishMovements(ctx context.Context, operation string, tenantID, actorID int64, movements []inventory.Movement)
	Now() time.Time
}

// LockPort serialises closes per audit across instances.
type LockPort interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsRecorder counts deficits that could not be fully consumed.
type MetricsRecorder interface {
	AuditShortfall()
}

// Service runs stock audits.
type Service struct {
	repo        RepositoryPort
	catalog     CatalogPort
	ledger      LedgerPort
	locker      LockPort
	audit       AuditPort
	metrics     MetricsRecorder
	integration IntegrationHandler
	logger      *slog.Logger
}

// Dependencies groups the collaborators of Service. Locker, Audit, Metrics and Integration are optional.
type Dependencies struct {
	Repo        RepositoryPort
	Catalog     CatalogPort
	Ledger      LedgerPort
	Locker      LockPort
	Audit       AuditPort
	Metrics     MetricsRecorder
	Integration IntegrationHandler
	Logger      *slog.Logger
}

// NewService builds Service.
func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        deps.Repo,
		catalog:     deps.Catalog,
		ledger:      deps.Ledger,
		locker:      deps.Locker,
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		integration: deps.Integration,
		logger:      logger,
	}
}

// CreateAudit opens a PENDING audit and snapshots current stock of every active product at the warehouse.
// The snapshot is the variance baseline and is never recomputed.
func (s *Service) CreateAudit(ctx context.Context, input CreateInput) (Audit, error) {
	if input.TenantID == 0 || input.WarehouseID == 0 {
		return Audit{}, fmt.Errorf("%w: tenant and warehouse required", ErrValidation)
	}
	products, err := s.catalog.ActiveProducts(ctx, input.TenantID)
	if err != nil {
		return Audit{}, err
	}
	if len(products) == 0 {
		return Audit{}, ErrNoActiveProducts
	}

	var created Audit
	err = s.repo.WithTx(ctx, func(ctx context.Context, st Store) error {
		audit, err := st.InsertAudit(ctx, Audit{
			TenantID:      input.TenantID,
			Number:        generateNumber("SA", s.ledger.Now()),
			WarehouseID:   input.WarehouseID,
			Status:        StatusPending,
			TotalVariance: decimal.Zero,
			VarianceCost:  decimal.Zero,
			Notes:         strings.TrimSpace(input.Notes),
			CreatedBy:     input.ActorID,
		})
		if err != nil {
			return err
		}
		for _, p := range products {
			stock, err := st.Inventory().StockOnHand(ctx, input.TenantID, p.ID, input.WarehouseID)
			if err != nil {
				return err
			}
			item, err := st.InsertItem(ctx, Item{AuditID: audit.ID, ProductID: p.ID, SystemStock: stock})
			if err != nil {
				return err
			}
			audit.Items = append(audit.Items, item)
		}
		created = audit
		return nil
	})
	if err != nil {
		return Audit{}, err
	}
	s.recordAudit(ctx, created.TenantID, input.ActorID, "stockaudit:create", created.ID, map[string]any{
		"warehouse_id": created.WarehouseID,
		"items":        len(created.Items),
	})
	return created, nil
}

// UpdateAuditItem records a count, derives variance = counted - system stock and moves a PENDING
// audit to IN_PROGRESS. Items may be recounted while the audit is open.
func (s *Service) UpdateAuditItem(ctx context.Context, input UpdateItemInput) (Item, error) {
	if input.TenantID == 0 || input.AuditID == 0 || input.ItemID == 0 {
		return Item{}, fmt.Errorf("%w: tenant, audit and item required", ErrValidation)
	}
	counted := inventory.NormalizeQuantity(input.CountedQty)
	if counted.IsNegative() {
		return Item{}, ErrInvalidCount
	}
	var updated Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, st Store) error {
		audit, err := st.GetAuditForUpdate(ctx, input.TenantID, input.AuditID)
		if err != nil {
			return err
		}
		if !audit.Status.Open() {
			return fmt.Errorf("%w: %s is %s", ErrAuditClosed, audit.Number, audit.Status)
		}
		idx := -1
		for i, item := range audit.Items {
			if item.ID == input.ItemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: item %d", ErrItemNotFound, input.ItemID)
		}
		now := s.ledger.Now()
		item := audit.Items[idx]
		variance := counted.Sub(item.SystemStock)
		item.CountedQty = &counted
		item.Variance = &variance
		item.CountedAt = &now
		if err := st.UpdateItem(ctx, item); err != nil {
			return err
		}
		if audit.Status == StatusPending {
			audit.Status = StatusInProgress
			if err := st.UpdateAudit(ctx, audit); err != nil {
				return err
			}
		}
		updated = item
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	return updated, nil
}

type closeOutcome struct {
	audit      Audit
	movements  []inventory.Movement
	adjusted   int
	shortfalls int
}

// CloseAudit posts an adjustment for every counted item with non-zero variance and completes the audit.
// Surpluses create an audit-surplus batch; deficits consume FIFO and tolerate a shortfall, which is
// logged and noted on the item instead of failing the close.
func (s *Service) CloseAudit(ctx context.Context, tenantID, auditID, actorID int64) (Audit, error) {
	if tenantID == 0 || auditID == 0 {
		return Audit{}, fmt.Errorf("%w: tenant and audit required", ErrValidation)
	}
	var out closeOutcome
	run := func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, st Store) error {
			var err error
			out, err = s.close(ctx, st, tenantID, auditID, actorID)
			return err
		})
	}
	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, shared.StockAuditLockKey(tenantID, auditID), run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return Audit{}, err
	}

	audit := out.audit
	s.ledger.PublishMovements(ctx, "stock_audit", tenantID, actorID, out.movements)
	s.recordAudit(ctx, tenantID, actorID, "stockaudit:close", audit.ID, map[string]any{
		"total_variance": audit.TotalVariance.String(),
		"variance_cost":  audit.VarianceCost.String(),
		"adjusted":       out.adjusted,
		"shortfalls":     out.shortfalls,
	})
	if s.integration != nil {
		evt := AuditClosedEvent{
			TenantID:      tenantID,
			AuditID:       audit.ID,
			Number:        audit.Number,
			WarehouseID:   audit.WarehouseID,
			TotalVariance: audit.TotalVariance,
			VarianceCost:  audit.VarianceCost,
			Adjusted:      out.adjusted,
			Shortfalls:    out.shortfalls,
			ClosedBy:      actorID,
			ClosedAt:      *audit.CompletedAt,
		}
		if err := s.integration.HandleAuditClosed(ctx, evt); err != nil {
			s.logger.Warn("publish audit closed event", slog.Int64("audit_id", audit.ID), slog.Any("error", err))
		}
	}
	return audit, nil
}

func (s *Service) close(ctx context.Context, st Store, tenantID, auditID, actorID int64) (closeOutcome, error) {
	audit, err := st.GetAuditForUpdate(ctx, tenantID, auditID)
	if err != nil {
		return closeOutcome{}, err
	}
	if !audit.Status.Open() {
		return closeOutcome{}, fmt.Errorf("%w: %s is %s", ErrAuditClosed, audit.Number, audit.Status)
	}

	out := closeOutcome{}
	now := s.ledger.Now()
	ref := inventory.Reference{Type: inventory.RefStockAudit, ID: audit.ID}
	totalVariance, varianceCost := decimal.Zero, decimal.Zero
	for i := range audit.Items {
		item := &audit.Items[i]
		if item.CountedQty == nil || item.Variance == nil {
			continue
		}
		variance := *item.Variance
		totalVariance = totalVariance.Add(variance)
		if variance.IsZero() {
			continue
		}

		cost, found, err := s.ledger.LatestUnitCostTx(ctx, st.Inventory(), tenantID, item.ProductID)
		if err != nil {
			return closeOutcome{}, err
		}
		if !found {
			s.logger.Warn("no unit cost for audit adjustment, valuing at zero",
				slog.Int64("audit_id", audit.ID), slog.Int64("product_id", item.ProductID))
			cost = decimal.Zero
		}

		if variance.IsPositive() {
			res, err := s.ledger.ReceiveInboundTx(ctx, st.Inventory(), inventory.InboundInput{
				TenantID:    tenantID,
				ProductID:   item.ProductID,
				WarehouseID: audit.WarehouseID,
				Quantity:    variance,
				UnitCost:    cost,
				ReceivedAt:  now,
				Type:        inventory.MovementAudit,
				Origin:      inventory.OriginAuditSurplus,
				Reference:   ref,
				ActorID:     actorID,
				Notes:       fmt.Sprintf("Stock audit %s surplus", audit.Number),
			})
			if err != nil {
				return closeOutcome{}, fmt.Errorf("audit item %d: %w", item.ID, err)
			}
			out.movements = append(out.movements, res.Movement)
		} else {
			consume := inventory.ConsumeInput{
				TenantID:       tenantID,
				ProductID:      item.ProductID,
				WarehouseID:    audit.WarehouseID,
				Quantity:       variance.Neg(),
				Type:           inventory.MovementAudit,
				Reference:      ref,
				ActorID:        actorID,
				Notes:          fmt.Sprintf("Stock audit %s deficit", audit.Number),
				AllowShortfall: true,
			}
			res, err := s.ledger.ConsumeFIFOTx(ctx, st.Inventory(), consume)
			if err != nil {
				return closeOutcome{}, fmt.Errorf("audit item %d: %w", item.ID, err)
			}
			out.movements = append(out.movements, inventory.ConsumptionMovements(consume, res)...)
			if res.Shortfall.IsPositive() {
				out.shortfalls++
				item.Note = fmt.Sprintf("shortfall %s", res.Shortfall)
				s.logger.Warn("audit deficit exceeds available stock",
					slog.Int64("audit_id", audit.ID),
					slog.Int64("product_id", item.ProductID),
					slog.String("deficit", variance.Neg().String()),
					slog.String("consumed", res.Consumed.String()),
					slog.String("shortfall", res.Shortfall.String()))
				if s.metrics != nil {
					s.metrics.AuditShortfall()
				}
			}
		}

		itemCost := variance.Mul(cost)
		unitCost := cost
		item.UnitCost = &unitCost
		item.VarianceCost = &itemCost
		item.IsAdjusted = true
		varianceCost = varianceCost.Add(itemCost)
		if err := st.UpdateItem(ctx, *item); err != nil {
			return closeOutcome{}, err
		}
		out.adjusted++
	}

	audit.TotalVariance = totalVariance
	audit.VarianceCost = varianceCost
	audit.Status = StatusCompleted
	audit.CompletedAt = &now
	closedBy := actorID
	audit.CompletedBy = &closedBy
	if err := st.UpdateAudit(ctx, audit); err != nil {
		return closeOutcome{}, err
	}
	out.audit = audit
	return out, nil
}

// CancelAudit abandons an open audit without touching stock.
func (s *Service) CancelAudit(ctx context.Context, tenantID, auditID, actorID int64) (Audit, error) {
	if tenantID == 0 || auditID == 0 {
		return Audit{}, fmt.Errorf("%w: tenant and audit required", ErrValidation)
	}
	var audit Audit
	err := s.repo.WithTx(ctx, func(ctx context.Context, st Store) error {
		var err error
		audit, err = st.GetAuditForUpdate(ctx, tenantID, auditID)
		if err != nil {
			return err
		}
		if !audit.Status.Open() {
			return fmt.Errorf("%w: %s is %s", ErrAuditClosed, audit.Number, audit.Status)
		}
		now := s.ledger.Now()
		audit.Status = StatusCancelled
		audit.CancelledAt = &now
		return st.UpdateAudit(ctx, audit)
	})
	if err != nil {
		return Audit{}, err
	}
	s.recordAudit(ctx, tenantID, actorID, "stockaudit:cancel", audit.ID, nil)
	return audit, nil
}

// GetAudit loads an audit with its items.
func (s *Service) GetAudit(ctx context.Context, tenantID, auditID int64) (Audit, error) {
	return s.repo.GetAudit(ctx, tenantID, auditID)
}

// ListAudits lists audit headers.
func (s *Service) ListAudits(ctx context.Context, filter ListFilter) ([]Audit, error) {
	if filter.TenantID == 0 {
		return nil, fmt.Errorf("%w: tenant required", ErrValidation)
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListAudits(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{TenantID: tenantID, ActorID: actorID, Action: action, Entity: "stock_audit", EntityID: fmt.Sprintf("%d", entityID), Meta: meta}); err != nil {
		s.logger.Warn("record stock audit log", slog.String("action", action), slog.Any("error", err))
	}
}

func generateNumber(prefix string, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s-%s", prefix, at.Format("20060102"), suffix)
}
