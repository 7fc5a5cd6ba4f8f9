package procurement_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func newTestRouter(f fixture) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithActor(shared.ContextWithTenant(req.Context(), tenant), 5)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	procurement.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc).MountRoutes(r)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerOrderLifecycle(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f)

	rr := doRequest(t, h, http.MethodPost, "/orders", `{
		"supplier_id": 7,
		"items": [{"product_id": 100, "quantity": "10", "unit_price": "2.5", "tax_rate": "0.11"}]
	}`, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var po procurement.PurchaseOrder
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &po))
	require.Equal(t, procurement.POStatusDraft, po.Status)

	receiptPath := fmt.Sprintf("/orders/%d/receipts", po.ID)
	receipt := `{"warehouse_id": 10, "lines": [{"product_id": 100, "quantity": "10"}]}`

	rr = doRequest(t, h, http.MethodPost, receiptPath, receipt, nil)
	require.Equal(t, http.StatusConflict, rr.Code, "draft orders are not receivable")

	rr = doRequest(t, h, http.MethodPost, fmt.Sprintf("/orders/%d/submit", po.ID), "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	headers := map[string]string{"Idempotency-Key": "rcv-1"}
	rr = doRequest(t, h, http.MethodPost, receiptPath, receipt, headers)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var result procurement.ReceiptResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Equal(t, procurement.POStatusReceived, result.OrderStatus)
	require.True(t, d("27.75").Equal(result.Payable.Total))

	rr = doRequest(t, h, http.MethodPost, receiptPath, receipt, headers)
	require.Equal(t, http.StatusConflict, rr.Code, "replayed idempotency key")

	rr = doRequest(t, h, http.MethodPost, fmt.Sprintf("/orders/%d/cancel", po.ID), "", nil)
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandlerErrorMapping(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f)
	po := f.orderedPO(t)

	cases := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{
			name:   "unknown order",
			path:   "/orders/9999/receipts",
			body:   `{"warehouse_id": 10, "lines": [{"product_id": 100, "quantity": "1"}]}`,
			status: http.StatusNotFound,
		},
		{
			name:   "product not on order",
			path:   fmt.Sprintf("/orders/%d/receipts", po.ID),
			body:   `{"warehouse_id": 10, "lines": [{"product_id": 999, "quantity": "1"}]}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "missing lines",
			path:   fmt.Sprintf("/orders/%d/receipts", po.ID),
			body:   `{"warehouse_id": 10, "lines": []}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "bad id",
			path:   "/orders/abc/receipts",
			body:   `{}`,
			status: http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, h, http.MethodPost, tc.path, tc.body, nil)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
		})
	}

	rr := doRequest(t, h, http.MethodGet, fmt.Sprintf("/orders/%d", po.ID), "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}
