package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Store is the transactional capability every ledger write runs against.
// Implementations are bound to one open database transaction; nothing they do is visible
// to other callers until that transaction commits.
type Store interface {
	// LockAvailableBatches returns non-exhausted batches with stock, oldest first, locked for update.
	LockAvailableBatches(ctx context.Context, tenantID, productID, warehouseID int64) ([]Batch, error)
	// UpdateBatchQuantity persists batch.QuantityCurrent/Exhausted after taking qty from it.
	UpdateBatchQuantity(ctx context.Context, batch Batch, taken decimal.Decimal) error
	InsertBatch(ctx context.Context, batch Batch) (Batch, error)
	InsertMovement(ctx context.Context, movement Movement) (Movement, error)
	BatchNumberExists(ctx context.Context, tenantID int64, number string) (bool, error)
	StockOnHand(ctx context.Context, tenantID, productID, warehouseID int64) (decimal.Decimal, error)
	// LatestUnitCost returns the unit cost of the most recently received batch with stock.
	LatestUnitCost(ctx context.Context, tenantID, productID int64) (decimal.Decimal, bool, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	StockOnHand(ctx context.Context, tenantID, productID, warehouseID int64) (decimal.Decimal, error)
	Valuation(ctx context.Context, tenantID int64) ([]Valuation, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsRecorder receives ledger counters.
type MetricsRecorder interface {
	MovementsPosted(movementType string, count int)
	InsufficientStock(movementType string)
}

// Service coordinates ledger operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	integration IntegrationHandler
	metrics     MetricsRecorder
	logger      *slog.Logger
	now         func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Logger  *slog.Logger
	Metrics MetricsRecorder
	Clock   func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig, integration IntegrationHandler) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{repo: repo, audit: audit, integration: integration, metrics: cfg.Metrics, logger: logger, now: clock}
}

// Now returns the service clock reading.
func (s *Service) Now() time.Time {
	return s.now()
}

// ReceiveInbound creates one batch and its IN movement in its own transaction.
func (s *Service) ReceiveInbound(ctx context.Context, input InboundInput) (InboundResult, error) {
	var result InboundResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, st Store) error {
		var err error
		result, err = s.ReceiveInboundTx(ctx, st, input)
		return err
	})
	if err != nil {
		return InboundResult{}, err
	}
	s.afterCommit(ctx, "inbound", input.TenantID, input.ActorID, []Movement{result.Movement})
	return result, nil
}

// ReceiveInboundTx creates a batch with quantity-initial = quantity-current = qty and one
// increasing movement with stock-before 0, inside the caller's transaction.
func (s *Service) ReceiveInboundTx(ctx context.Context, st Store, input InboundInput) (InboundResult, error) {
	if input.TenantID == 0 || input.ProductID == 0 || input.WarehouseID == 0 {
		return InboundResult{}, fmt.Errorf("%w: tenant, product and warehouse required", ErrValidation)
	}
	qty := NormalizeQuantity(input.Quantity)
	if !qty.IsPositive() {
		return InboundResult{}, ErrInvalidQuantity
	}
	cost := NormalizeCost(input.UnitCost)
	if cost.IsNegative() {
		return InboundResult{}, ErrInvalidUnitCost
	}
	mvType := input.Type
	if mvType == "" {
		mvType = MovementIn
	}
	if !mvType.Valid() || !mvType.Allows(Increase) {
		return InboundResult{}, fmt.Errorf("%w: %s cannot create stock", ErrInvalidMovementType, mvType)
	}
	origin := input.Origin
	if origin == "" {
		origin = OriginDirect
	}
	now := s.now()
	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}

	number, err := s.resolveBatchNumber(ctx, st, input.TenantID, input.BatchNumber, origin, now)
	if err != nil {
		return InboundResult{}, err
	}

	batch, err := st.InsertBatch(ctx, Batch{
		TenantID:        input.TenantID,
		ProductID:       input.ProductID,
		WarehouseID:     input.WarehouseID,
		SupplierID:      input.SupplierID,
		BatchNumber:     number,
		Origin:          origin,
		QuantityInitial: qty,
		QuantityCurrent: qty,
		UnitCost:        cost,
		ReceivedAt:      receivedAt,
		ExpiresAt:       input.ExpiresAt,
	})
	if err != nil {
		return InboundResult{}, err
	}

	warehouseID := input.WarehouseID
	movement, err := st.InsertMovement(ctx, Movement{
		TenantID:        input.TenantID,
		Type:            mvType,
		ProductID:       input.ProductID,
		BatchID:         batch.ID,
		Quantity:        qty,
		StockBefore:     decimal.Zero,
		StockAfter:      qty,
		UnitCost:        cost,
		TotalCost:       qty.Mul(cost),
		FromWarehouseID: input.FromWarehouse,
		ToWarehouseID:   &warehouseID,
		ReferenceType:   input.Reference.Type,
		ReferenceID:     input.Reference.id(),
		UserID:          input.ActorID,
		Notes:           input.Notes,
	})
	if err != nil {
		return InboundResult{}, err
	}
	return InboundResult{Batch: batch, Movement: movement}, nil
}

// ConsumeFIFO consumes stock oldest lot first in its own transaction.
func (s *Service) ConsumeFIFO(ctx context.Context, input ConsumeInput) (ConsumeResult, error) {
	var result ConsumeResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, st Store) error {
		var err error
		result, err = s.ConsumeFIFOTx(ctx, st, input)
		return err
	})
	if err != nil {
		return ConsumeResult{}, err
	}
	s.afterCommit(ctx, "consume", input.TenantID, input.ActorID, ConsumptionMovements(input, result))
	return result, nil
}

// ConsumeFIFOTx locks the eligible batches of (product, warehouse), takes the requested quantity
// oldest first and writes one movement per touched batch, inside the caller's transaction.
//
// Unless AllowShortfall is set, a request larger than the available stock fails with
// ErrInsufficientStock before any batch is modified.
func (s *Service) ConsumeFIFOTx(ctx context.Context, st Store, input ConsumeInput) (ConsumeResult, error) {
	if input.TenantID == 0 || input.ProductID == 0 || input.WarehouseID == 0 {
		return ConsumeResult{}, fmt.Errorf("%w: tenant, product and warehouse required", ErrValidation)
	}
	if !input.Type.Valid() || !input.Type.Allows(Decrease) {
		return ConsumeResult{}, fmt.Errorf("%w: %s cannot consume stock", ErrInvalidMovementType, input.Type)
	}
	qty := NormalizeQuantity(input.Quantity)
	if !qty.IsPositive() {
		return ConsumeResult{}, ErrInvalidQuantity
	}

	batches, err := st.LockAvailableBatches(ctx, input.TenantID, input.ProductID, input.WarehouseID)
	if err != nil {
		return ConsumeResult{}, err
	}
	plan, shortfall := AllocateFIFO(batches, qty)
	if shortfall.IsPositive() && !input.AllowShortfall {
		if s.metrics != nil {
			s.metrics.InsufficientStock(string(input.Type))
		}
		return ConsumeResult{}, fmt.Errorf("%w: product %d warehouse %d requested %s available %s",
			ErrInsufficientStock, input.ProductID, input.WarehouseID, qty, Available(batches))
	}

	result := ConsumeResult{Consumed: decimal.Zero, TotalCost: decimal.Zero, Shortfall: shortfall}
	warehouseID := input.WarehouseID
	for _, alloc := range plan {
		batch := alloc.Batch
		before := batch.QuantityCurrent
		if err := batch.Take(alloc.Quantity); err != nil {
			return ConsumeResult{}, err
		}
		if err := st.UpdateBatchQuantity(ctx, batch, alloc.Quantity); err != nil {
			return ConsumeResult{}, err
		}
		signed := alloc.Quantity.Neg()
		movement, err := st.InsertMovement(ctx, Movement{
			TenantID:        input.TenantID,
			Type:            input.Type,
			ProductID:       input.ProductID,
			BatchID:         batch.ID,
			Quantity:        signed,
			StockBefore:     before,
			StockAfter:      batch.QuantityCurrent,
			UnitCost:        batch.UnitCost,
			TotalCost:       signed.Mul(batch.UnitCost),
			FromWarehouseID: &warehouseID,
			ToWarehouseID:   input.ToWarehouse,
			ReferenceType:   input.Reference.Type,
			ReferenceID:     input.Reference.id(),
			UserID:          input.ActorID,
			Notes:           input.Notes,
		})
		if err != nil {
			return ConsumeResult{}, err
		}
		lineCost := alloc.Quantity.Mul(batch.UnitCost)
		result.Consumptions = append(result.Consumptions, Consumption{
			BatchID:     batch.ID,
			BatchNumber: batch.BatchNumber,
			MovementID:  movement.ID,
			Quantity:    alloc.Quantity,
			UnitCost:    batch.UnitCost,
			TotalCost:   lineCost,
			StockBefore: before,
			StockAfter:  batch.QuantityCurrent,
			Exhausted:   batch.Exhausted,
			SupplierID:  batch.SupplierID,
			ExpiresAt:   batch.ExpiresAt,
		})
		result.Consumed = result.Consumed.Add(alloc.Quantity)
		result.TotalCost = result.TotalCost.Add(lineCost)
	}
	return result, nil
}

// Transfer moves stock between warehouses in its own transaction.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	var result TransferResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, st Store) error {
		var err error
		result, err = s.TransferTx(ctx, st, input)
		return err
	})
	if err != nil {
		return TransferResult{}, err
	}
	var movements []Movement
	for _, line := range result.Lines {
		out := ConsumeInput{TenantID: input.TenantID, ProductID: line.ProductID, Type: MovementTransfer, ActorID: input.ActorID}
		movements = append(movements, ConsumptionMovements(out, ConsumeResult{Consumptions: line.Outbound})...)
		for _, in := range line.Inbound {
			movements = append(movements, in.Movement)
		}
	}
	s.afterCommit(ctx, "transfer", input.TenantID, input.ActorID, movements)
	return result, nil
}

// TransferTx consumes each line FIFO at the origin and creates one destination batch per
// consumed source batch, costed at the source unit cost and linked to its outbound movement.
func (s *Service) TransferTx(ctx context.Context, st Store, input TransferInput) (TransferResult, error) {
	if input.FromWarehouseID == input.ToWarehouseID {
		return TransferResult{}, ErrSameWarehouse
	}
	if input.TenantID == 0 || input.FromWarehouseID == 0 || input.ToWarehouseID == 0 {
		return TransferResult{}, fmt.Errorf("%w: tenant and warehouses required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return TransferResult{}, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	for i, line := range input.Lines {
		if line.ProductID == 0 {
			return TransferResult{}, fmt.Errorf("%w: line %d product required", ErrValidation, i+1)
		}
		if !NormalizeQuantity(line.Quantity).IsPositive() {
			return TransferResult{}, fmt.Errorf("%w: line %d", ErrInvalidQuantity, i+1)
		}
	}

	from, to := input.FromWarehouseID, input.ToWarehouseID
	result := TransferResult{FromWarehouseID: from, ToWarehouseID: to}
	for i, line := range input.Lines {
		out, err := s.ConsumeFIFOTx(ctx, st, ConsumeInput{
			TenantID:    input.TenantID,
			ProductID:   line.ProductID,
			WarehouseID: from,
			Quantity:    line.Quantity,
			Type:        MovementTransfer,
			ToWarehouse: &to,
			ActorID:     input.ActorID,
			Notes:       transferNote("Transfer to", to, input.Notes),
		})
		if err != nil {
			return TransferResult{}, fmt.Errorf("transfer line %d: %w", i+1, err)
		}
		lineResult := TransferLineResult{Line: i + 1, ProductID: line.ProductID, Quantity: out.Consumed, Status: TransferLineStatusDone, Outbound: out.Consumptions}
		for _, c := range out.Consumptions {
			in, err := s.ReceiveInboundTx(ctx, st, InboundInput{
				TenantID:      input.TenantID,
				ProductID:     line.ProductID,
				WarehouseID:   to,
				Quantity:      c.Quantity,
				UnitCost:      c.UnitCost,
				ExpiresAt:     c.ExpiresAt,
				SupplierID:    c.SupplierID,
				Type:          MovementIn,
				Origin:        OriginTransfer,
				FromWarehouse: &from,
				Reference:     Reference{Type: RefMovement, ID: c.MovementID},
				ActorID:       input.ActorID,
				Notes:         transferNote("Transfer from", from, fmt.Sprintf("lot %s", c.BatchNumber)),
			})
			if err != nil {
				return TransferResult{}, fmt.Errorf("transfer line %d: %w", i+1, err)
			}
			lineResult.Inbound = append(lineResult.Inbound, in)
		}
		result.Lines = append(result.Lines, lineResult)
	}
	return result, nil
}

// LatestUnitCostTx resolves the cost used to value audit variances.
func (s *Service) LatestUnitCostTx(ctx context.Context, st Store, tenantID, productID int64) (decimal.Decimal, bool, error) {
	return st.LatestUnitCost(ctx, tenantID, productID)
}

// StockOnHand sums non-exhausted batch quantities.
func (s *Service) StockOnHand(ctx context.Context, tenantID, productID, warehouseID int64) (decimal.Decimal, error) {
	if tenantID == 0 || productID == 0 || warehouseID == 0 {
		return decimal.Zero, fmt.Errorf("%w: tenant, product and warehouse required", ErrValidation)
	}
	return s.repo.StockOnHand(ctx, tenantID, productID, warehouseID)
}

// ListBatches lists batches for a product at a warehouse.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	if filter.TenantID == 0 || filter.ProductID == 0 {
		return nil, fmt.Errorf("%w: tenant and product required", ErrValidation)
	}
	return s.repo.ListBatches(ctx, filter)
}

// ListMovements lists stock card entries.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.TenantID == 0 {
		return nil, fmt.Errorf("%w: tenant required", ErrValidation)
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 200
	}
	return s.repo.ListMovements(ctx, filter)
}

// Valuation reports stock value per warehouse.
func (s *Service) Valuation(ctx context.Context, tenantID int64) ([]Valuation, error) {
	return s.repo.Valuation(ctx, tenantID)
}

// PublishMovements reports movements committed by an orchestrator that ran the Tx variants.
func (s *Service) PublishMovements(ctx context.Context, operation string, tenantID, actorID int64, movements []Movement) {
	s.afterCommit(ctx, operation, tenantID, actorID, movements)
}

func (s *Service) afterCommit(ctx context.Context, operation string, tenantID, actorID int64, movements []Movement) {
	if len(movements) == 0 {
		return
	}
	if s.metrics != nil {
		counts := map[MovementType]int{}
		for _, m := range movements {
			counts[m.Type]++
		}
		for t, n := range counts {
			s.metrics.MovementsPosted(string(t), n)
		}
	}
	if s.audit != nil {
		ids := make([]int64, 0, len(movements))
		for _, m := range movements {
			ids = append(ids, m.ID)
		}
		if err := s.audit.Record(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  actorID,
			Action:   fmt.Sprintf("inventory:%s", operation),
			Entity:   "stock_movement",
			EntityID: fmt.Sprintf("%d", movements[0].ID),
			Meta:     map[string]any{"movement_ids": ids},
		}); err != nil {
			s.logger.Warn("record inventory audit log", slog.String("operation", operation), slog.Any("error", err))
		}
	}
	if s.integration != nil {
		evt := MovementsPostedEvent{TenantID: tenantID, Operation: operation, Movements: movements, PostedAt: s.now()}
		if err := s.integration.HandleMovementsPosted(ctx, evt); err != nil {
			s.logger.Warn("publish movements", slog.String("operation", operation), slog.Any("error", err))
		}
	}
}

func (s *Service) resolveBatchNumber(ctx context.Context, st Store, tenantID int64, requested string, origin BatchOrigin, at time.Time) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		exists, err := st.BatchNumberExists(ctx, tenantID, requested)
		if err != nil {
			return "", err
		}
		if exists {
			return "", fmt.Errorf("%w: %s", ErrDuplicateBatchNumber, requested)
		}
		return requested, nil
	}
	for attempt := 0; attempt < 3; attempt++ {
		number := GenerateBatchNumber(batchPrefix(origin), at)
		exists, err := st.BatchNumberExists(ctx, tenantID, number)
		if err != nil {
			return "", err
		}
		if !exists {
			return number, nil
		}
	}
	return "", errors.New("inventory: could not generate unique batch number")
}

// GenerateBatchNumber builds PREFIX-YYYYMMDD-XXXXXXXX.
func GenerateBatchNumber(prefix string, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s-%s", prefix, at.Format("20060102"), suffix)
}

func batchPrefix(origin BatchOrigin) string {
	switch origin {
	case OriginTransfer:
		return "TRF"
	case OriginAuditSurplus:
		return "AUD"
	case OriginPurchase:
		return "GRN"
	default:
		return "LOT"
	}
}

func transferNote(prefix string, warehouseID int64, note string) string {
	if note == "" {
		return fmt.Sprintf("%s %d", prefix, warehouseID)
	}
	return fmt.Sprintf("%s %d: %s", prefix, warehouseID, note)
}

// ConsumptionMovements rebuilds the movements written by a consumption, for post-commit publishing.
func ConsumptionMovements(input ConsumeInput, result ConsumeResult) []Movement {
	movements := make([]Movement, 0, len(result.Consumptions))
	for _, c := range result.Consumptions {
		movements = append(movements, Movement{
			ID:          c.MovementID,
			TenantID:    input.TenantID,
			Type:        input.Type,
			ProductID:   input.ProductID,
			BatchID:     c.BatchID,
			Quantity:    c.Quantity.Neg(),
			StockBefore: c.StockBefore,
			StockAfter:  c.StockAfter,
			UnitCost:    c.UnitCost,
			TotalCost:   c.TotalCost.Neg(),
			UserID:      input.ActorID,
		})
	}
	return movements
}
