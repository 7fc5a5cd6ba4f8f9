package procurement

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/ap"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler wires procurement HTTP endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/orders", h.listOrders)
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/submit", h.submitOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/receipts", h.receiveGoods)
}

type orderItemRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
}

type createOrderRequest struct {
	Number          string             `json:"number" validate:"max=64"`
	SupplierID      int64              `json:"supplier_id" validate:"required,gt=0"`
	PaymentTermDays *int               `json:"payment_term_days" validate:"omitempty,gte=0,lte=365"`
	Note            string             `json:"note" validate:"max=500"`
	Items           []orderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type receiptLineRequest struct {
	ProductID   int64            `json:"product_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitCost    *decimal.Decimal `json:"unit_cost"`
	BatchNumber string           `json:"batch_number" validate:"omitempty,max=64"`
	ExpiresAt   *time.Time       `json:"expires_at"`
}

type receiptRequest struct {
	WarehouseID int64                `json:"warehouse_id" validate:"required,gt=0"`
	ReceivedAt  *time.Time           `json:"received_at"`
	Notes       string               `json:"notes" validate:"max=500"`
	Lines       []receiptLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	q := r.URL.Query()
	filter := ListFilter{TenantID: tenantID, Status: POStatus(strings.ToUpper(q.Get("status")))}
	var err error
	if filter.SupplierID, err = httpx.QueryInt64(r, "supplier_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	orders, err := h.service.ListPurchaseOrders(r.Context(), filter)
	if err != nil {
		h.fail(w, "list orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tenantID, _ := shared.TenantFromContext(r.Context())
	input := CreateOrderInput{
		TenantID:        tenantID,
		Number:          req.Number,
		SupplierID:      req.SupplierID,
		PaymentTermDays: req.PaymentTermDays,
		Note:            req.Note,
		ActorID:         shared.ActorFromContext(r.Context()),
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, OrderItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			TaxRate:   item.TaxRate,
		})
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), input)
	if err != nil {
		h.fail(w, "create order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tenantID, _ := shared.TenantFromContext(r.Context())
	po, err := h.service.GetPurchaseOrder(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "get order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) submitOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "submit order", h.service.SubmitPurchaseOrder)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel order", h.service.CancelPurchaseOrder)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, int64, int64, int64) (PurchaseOrder, error)) {
	id, err := httpx.PathInt64(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tenantID, _ := shared.TenantFromContext(r.Context())
	po, err := fn(r.Context(), tenantID, id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) receiveGoods(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req receiptRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tenantID, _ := shared.TenantFromContext(r.Context())
	input := ReceiptInput{
		TenantID:       tenantID,
		OrderID:        id,
		WarehouseID:    req.WarehouseID,
		ActorID:        shared.ActorFromContext(r.Context()),
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	if req.ReceivedAt != nil {
		input.ReceivedAt = req.ReceivedAt.UTC()
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, ReceiptLine{
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			UnitCost:    line.UnitCost,
			BatchNumber: line.BatchNumber,
			ExpiresAt:   line.ExpiresAt,
		})
	}
	result, err := h.service.ReceiveGoods(r.Context(), input)
	if err != nil {
		h.fail(w, "receive goods", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.Classify(httpx.ErrNotFound, err))
	case errors.Is(err, ErrValidation), errors.Is(err, ErrProductNotOnOrder), errors.Is(err, ap.ErrValidation),
		errors.Is(err, ap.ErrInvalidAmount):
		httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, err))
	case errors.Is(err, ErrInvalidState):
		httpx.RespondError(w, httpx.Classify(httpx.ErrConflict, err))
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.RespondError(w, httpx.Classify(httpx.ErrDuplicate, err))
	default:
		mapped := inventory.ClassifyError(err)
		if !errors.Is(mapped, httpx.ErrValidation) && !errors.Is(mapped, httpx.ErrUnprocessable) && !errors.Is(mapped, httpx.ErrDuplicate) {
			h.logger.Error("procurement request failed", slog.String("op", op), slog.Any("error", err))
		}
		httpx.RespondError(w, mapped)
	}
}
