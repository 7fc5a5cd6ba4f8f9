package stockaudit_test

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

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/stockaudit"
)

func newTestRouter(f fixture) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithActor(shared.ContextWithTenant(req.Context(), tenant), clerk)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	stockaudit.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc).MountRoutes(r)
	return r
}

func call(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerAuditFlow(t *testing.T) {
	f := newFixture(t, apple)
	f.stock(t, apple, "20", "5", now.AddDate(0, 0, -3))
	h := newTestRouter(f)

	rr := call(t, h, http.MethodPost, "/", `{"warehouse_id": 10}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var audit stockaudit.Audit
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &audit))
	require.Len(t, audit.Items, 1)
	require.True(t, d("20").Equal(audit.Items[0].SystemStock))

	itemPath := fmt.Sprintf("/%d/items/%d", audit.ID, audit.Items[0].ID)
	rr = call(t, h, http.MethodPut, itemPath, `{"counted_qty": "-1"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = call(t, h, http.MethodPut, itemPath, `{}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = call(t, h, http.MethodPut, itemPath, `{"counted_qty": "18"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = call(t, h, http.MethodPost, fmt.Sprintf("/%d/close", audit.ID), "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &audit))
	require.Equal(t, stockaudit.StatusCompleted, audit.Status)
	require.True(t, d("-2").Equal(audit.TotalVariance))
	require.True(t, d("-10").Equal(audit.VarianceCost))

	rr = call(t, h, http.MethodPut, itemPath, `{"counted_qty": "20"}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = call(t, h, http.MethodGet, "/9999", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerCreateWithoutProducts(t *testing.T) {
	f := newFixture(t)
	rr := call(t, newTestRouter(f), http.MethodPost, "/", `{"warehouse_id": 10}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}
