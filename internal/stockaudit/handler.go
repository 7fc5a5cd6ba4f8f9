package stockaudit

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler exposes stock audits over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the audit handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listAudits)
	r.Post("/", h.createAudit)
	r.Get("/{id}", h.getAudit)
	r.Put("/{id}/items/{itemID}", h.updateItem)
	r.Post("/{id}/close", h.closeAudit)
	r.Post("/{id}/cancel", h.cancelAudit)
}

type createRequest struct {
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	Notes       string `json:"notes" validate:"max=500"`
}

type countRequest struct {
	CountedQty *decimal.Decimal `json:"counted_qty" validate:"required"`
}

func (h *Handler) listAudits(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := shared.TenantFromContext(r.Context())
	q := r.URL.Query()
	filter := ListFilter{TenantID: tenantID, Status: Status(strings.ToUpper(q.Get("status")))}
	var err error
	if filter.WarehouseID, err = httpx.QueryInt64(r, "warehouse_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	audits, err := h.service.ListAudits(r.Context(), filter)
	if err != nil {
		h.fail(w, "list audits", err)
		return
	}
	httpx.JSON(w, http.StatusOK, audits)
}

func (h *Handler) createAudit(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tenantID, _ := shared.TenantFromContext(r.Context())
	audit, err := h.service.CreateAudit(r.Context(), CreateInput{
		TenantID:    tenantID,
		WarehouseID: req.WarehouseID,
		Notes:       req.Notes,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "create audit", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, audit)
}

func (h *Handler) getAudit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tenantID, _ := shared.TenantFromContext(r.Context())
	audit, err := h.service.GetAudit(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "get audit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, audit)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, err := httpx.PathInt64(chi.URLParam(r, "itemID"), "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req countRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tenantID, _ := shared.TenantFromContext(r.Context())
	item, err := h.service.UpdateAuditItem(r.Context(), UpdateItemInput{
		TenantID:   tenantID,
		AuditID:    id,
		ItemID:     itemID,
		CountedQty: *req.CountedQty,
		ActorID:    shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "update audit item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) closeAudit(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, "close audit", h.service.CloseAudit)
}

func (h *Handler) cancelAudit(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, "cancel audit", h.service.CancelAudit)
}

func (h *Handler) finish(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, int64, int64, int64) (Audit, error)) {
	id, err := httpx.PathInt64(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tenantID, _ := shared.TenantFromContext(r.Context())
	audit, err := fn(r.Context(), tenantID, id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, audit)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrItemNotFound):
		httpx.RespondError(w, httpx.Classify(httpx.ErrNotFound, err))
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidCount):
		httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, err))
	case errors.Is(err, ErrAuditClosed):
		httpx.RespondError(w, httpx.Classify(httpx.ErrConflict, err))
	case errors.Is(err, ErrNoActiveProducts):
		httpx.RespondError(w, httpx.Classify(httpx.ErrUnprocessable, err))
	default:
		mapped := inventory.ClassifyError(err)
		if !errors.Is(mapped, httpx.ErrValidation) && !errors.Is(mapped, httpx.ErrUnprocessable) && !errors.Is(mapped, httpx.ErrDuplicate) {
			h.logger.Error("stock audit request failed", slog.String("op", op), slog.Any("error", err))
		}
		httpx.RespondError(w, mapped)
	}
}
