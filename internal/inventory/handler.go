package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler exposes the ledger over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/inbound", h.handleInbound)
	r.Post("/consume", h.handleConsume)
	r.Post("/transfers", h.handleTransfer)
	r.Get("/stock", h.handleStockOnHand)
	r.Get("/batches", h.handleBatches)
	r.Get("/movements", h.handleMovements)
	r.Get("/valuation", h.handleValuation)
}

type inboundRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	BatchNumber string          `json:"batch_number" validate:"omitempty,max=64"`
	SupplierID  *int64          `json:"supplier_id" validate:"omitempty,gt=0"`
	ExpiresAt   *time.Time      `json:"expires_at"`
	ReceivedAt  *time.Time      `json:"received_at"`
	Notes       string          `json:"notes" validate:"max=500"`
}

type consumeRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity"`
	Type        MovementType    `json:"type" validate:"omitempty,oneof=OUT SALE CONSUME"`
	Notes       string          `json:"notes" validate:"max=500"`
}

type transferLineRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type transferRequest struct {
	FromWarehouseID int64                 `json:"from_warehouse_id" validate:"required,gt=0"`
	ToWarehouseID   int64                 `json:"to_warehouse_id" validate:"required,gt=0"`
	Lines           []transferLineRequest `json:"lines" validate:"required,min=1,dive"`
	Notes           string                `json:"notes" validate:"max=500"`
}

func (h *Handler) handleInbound(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tenantID, _ := shared.TenantFromContext(r.Context())
	input := InboundInput{
		TenantID:    tenantID,
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Quantity:    req.Quantity,
		UnitCost:    req.UnitCost,
		BatchNumber: req.BatchNumber,
		SupplierID:  req.SupplierID,
		ExpiresAt:   req.ExpiresAt,
		ActorID:     shared.ActorFromContext(r.Context()),
		Notes:       req.Notes,
	}
	if req.ReceivedAt != nil {
		input.ReceivedAt = req.ReceivedAt.UTC()
	}
	result, err := h.service.ReceiveInbound(r.Context(), input)
	if err != nil {
		h.fail(w, "receive inbound", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	mvType := req.Type
	if mvType == "" {
		mvType = MovementOut
	}
	tenantID, _ := shared.TenantFromContext(r.Context())
	result, err := h.service.ConsumeFIFO(r.Context(), ConsumeInput{
		TenantID:    tenantID,
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Quantity:    req.Quantity,
		Type:        mvType,
		ActorID:     shared.ActorFromContext(r.Context()),
		Notes:       req.Notes,
	})
	if err != nil {
		h.fail(w, "consume fifo", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tenantID, _ := shared.TenantFromContext(r.Context())
	input := TransferInput{
		TenantID:        tenantID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		ActorID:         shared.ActorFromContext(r.Context()),
		Notes:           req.Notes,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, TransferLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	result, err := h.service.Transfer(r.Context(), input)
	if err != nil {
		h.fail(w, "transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleStockOnHand(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	productID, err := httpx.QueryInt64(r, "product_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	warehouseID, err := httpx.QueryInt64(r, "warehouse_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := fmt.Sprintf("%d:%d:%d", tenantID, productID, warehouseID)
	qty, err, _ := singleflightStock(r.Context(), key, func(ctx context.Context) (any, error) {
		return h.service.StockOnHand(ctx, tenantID, productID, warehouseID)
	})
	if err != nil {
		h.fail(w, "stock on hand", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":   productID,
		"warehouse_id": warehouseID,
		"quantity":     qty,
	})
}

func (h *Handler) handleBatches(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	filter := BatchFilter{TenantID: tenantID}
	var err error
	if filter.ProductID, err = httpx.QueryInt64(r, "product_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.WarehouseID, err = httpx.QueryInt64(r, "warehouse_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.IncludeExhausted, _ = strconv.ParseBool(r.URL.Query().Get("include_exhausted"))
	batches, err := h.service.ListBatches(r.Context(), filter)
	if err != nil {
		h.fail(w, "list batches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	filter := MovementFilter{TenantID: tenantID, ReferenceType: r.URL.Query().Get("reference_type")}
	ints := []struct {
		name   string
		target *int64
	}{
		{"product_id", &filter.ProductID},
		{"warehouse_id", &filter.WarehouseID},
		{"batch_id", &filter.BatchID},
		{"reference_id", &filter.ReferenceID},
	}
	for _, p := range ints {
		v, err := httpx.QueryInt64(r, p.name)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		*p.target = v
	}
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, errors.New("from must be YYYY-MM-DD")))
			return
		}
		filter.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, errors.New("to must be YYYY-MM-DD")))
			return
		}
		// end of day
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.fail(w, "list movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) handleValuation(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	rows, err := h.service.Valuation(r.Context(), tenantID)
	if err != nil {
		h.fail(w, "valuation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	mapped := ClassifyError(err)
	if !errors.Is(mapped, httpx.ErrValidation) && !errors.Is(mapped, httpx.ErrUnprocessable) && !errors.Is(mapped, httpx.ErrDuplicate) {
		h.logger.Error("inventory request failed", slog.String("op", op), slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

// ClassifyError maps ledger errors onto HTTP problem categories.
func ClassifyError(err error) error {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return httpx.Classify(httpx.ErrUnprocessable, err)
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost), errors.Is(err, ErrSameWarehouse),
		errors.Is(err, ErrInvalidMovementType), errors.Is(err, ErrValidation):
		return httpx.Classify(httpx.ErrValidation, err)
	case errors.Is(err, ErrDuplicateBatchNumber):
		return httpx.Classify(httpx.ErrDuplicate, err)
	case errors.Is(err, ErrConcurrentUpdate):
		return httpx.Classify(httpx.ErrConflict, err)
	case errors.Is(err, ErrNotFound), errors.Is(err, shared.ErrNotFound):
		return httpx.Classify(httpx.ErrNotFound, err)
	case errors.Is(err, shared.ErrBusy):
		return httpx.Classify(httpx.ErrBusy, err)
	}
	return err
}
