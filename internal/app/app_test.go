package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type pingStub struct{ err error }

func (p pingStub) Ping(context.Context) error { return p.err }

func testConfig() *Config {
	return &Config{AppEnv: "test", AppRateLimit: 1000}
}

func TestHealthz(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ok := NewRouter(RouterParams{Logger: logger, Config: testConfig(), Database: pingStub{}})
	rr := httptest.NewRecorder()
	ok.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	down := NewRouter(RouterParams{Logger: logger, Config: testConfig(), Database: pingStub{err: errors.New("down")}})
	rr = httptest.NewRecorder()
	down.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRequireTenant(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RequireTenant)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := shared.TenantFromContext(r.Context())
		require.True(t, ok)
		require.Equal(t, int64(42), tenantID)
		require.Equal(t, int64(7), shared.ActorFromContext(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name   string
		tenant string
		user   string
		status int
	}{
		{name: "missing tenant", status: http.StatusUnauthorized},
		{name: "non numeric tenant", tenant: "abc", status: http.StatusUnauthorized},
		{name: "bad user", tenant: "42", user: "-1", status: http.StatusBadRequest},
		{name: "ok", tenant: "42", user: "7", status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.tenant != "" {
				req.Header.Set(HeaderTenantID, tc.tenant)
			}
			if tc.user != "" {
				req.Header.Set(HeaderUserID, tc.user)
			}
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			require.Equal(t, tc.status, rr.Code)
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("DUE_SOON_DAYS", "5")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 5, cfg.DueSoonDays)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	require.True(t, cfg.KafkaEnabled())
	require.False(t, cfg.IsProduction())

	t.Setenv("DUE_SOON_DAYS", "-1")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}
