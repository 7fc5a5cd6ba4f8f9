package ap

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler exposes payables over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the payables handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers payable routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listPayables)
	r.Get("/aging", h.aging)
	r.Get("/{id}", h.getPayable)
	r.Get("/{id}/payments", h.listPayments)
	r.Post("/{id}/payments", h.registerPayment)
}

type paymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" validate:"max=32"`
	Reference string          `json:"reference" validate:"max=128"`
	PaidAt    *time.Time      `json:"paid_at"`
}

type paymentResponse struct {
	Payable Payable `json:"payable"`
	Payment Payment `json:"payment"`
}

func (h *Handler) listPayables(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	q := r.URL.Query()
	filter := ListFilter{TenantID: tenantID, Status: Status(q.Get("status"))}
	var err error
	if filter.SupplierID, err = httpx.QueryInt64(r, "supplier_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.PurchaseOrderID, err = httpx.QueryInt64(r, "purchase_order_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	payables, err := h.service.ListPayables(r.Context(), filter)
	if err != nil {
		h.fail(w, "list payables", err)
		return
	}
	httpx.JSON(w, http.StatusOK, payables)
}

func (h *Handler) getPayable(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tenantID, _ := shared.TenantFromContext(r.Context())
	payable, err := h.service.GetPayable(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "get payable", err)
		return
	}
	httpx.JSON(w, http.StatusOK, payable)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tenantID, _ := shared.TenantFromContext(r.Context())
	payments, err := h.service.ListPayments(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "list payments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, payments)
}

func (h *Handler) registerPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req paymentRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tenantID, _ := shared.TenantFromContext(r.Context())
	input := PaymentInput{
		TenantID:  tenantID,
		PayableID: id,
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
		ActorID:   shared.ActorFromContext(r.Context()),
	}
	if req.PaidAt != nil {
		input.PaidAt = req.PaidAt.UTC()
	}
	payable, payment, err := h.service.RegisterPayment(r.Context(), input)
	if err != nil {
		h.fail(w, "register payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, paymentResponse{Payable: payable, Payment: payment})
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	var asOf time.Time
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, errors.New("as_of must be YYYY-MM-DD")))
			return
		}
		asOf = parsed
	}
	bucket, err := h.service.Aging(r.Context(), tenantID, asOf)
	if err != nil {
		h.fail(w, "aging", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bucket)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrPayableNotFound):
		httpx.RespondError(w, httpx.Classify(httpx.ErrNotFound, err))
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrOverpayment), errors.Is(err, ErrValidation):
		httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, err))
	case errors.Is(err, ErrAlreadyPaid):
		httpx.RespondError(w, httpx.Classify(httpx.ErrConflict, err))
	default:
		h.logger.Error("payables request failed", slog.String("op", op), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
