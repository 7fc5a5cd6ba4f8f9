package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type refresherStub struct {
	asOf    time.Time
	changed int
	err     error
}

func (r *refresherStub) RefreshStatuses(_ context.Context, now time.Time) (int, error) {
	r.asOf = now
	return r.changed, r.err
}

type cleanerStub struct {
	olderThan time.Duration
	removed   int64
}

func (c *cleanerStub) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	c.olderThan = olderThan
	return c.removed, nil
}

type valuationStub struct {
	tenantID int64
	rows     []inventory.Valuation
}

func (v *valuationStub) Valuation(_ context.Context, tenantID int64) ([]inventory.Valuation, error) {
	v.tenantID = tenantID
	return v.rows, nil
}

func TestPayableRefreshUsesClockWhenPayloadEmpty(t *testing.T) {
	now := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	stub := &refresherStub{changed: 3}
	job := NewPayableRefreshJob(stub, quietLogger, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.WithClock(func() time.Time { return now })

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskPayableStatusRefresh, nil)))
	require.True(t, stub.asOf.Equal(now))

	pinned := now.AddDate(0, 0, 10)
	task, err := NewPayableRefreshTask(pinned)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.True(t, stub.asOf.Equal(pinned))
}

func TestPayableRefreshPropagatesError(t *testing.T) {
	boom := errors.New("db down")
	job := NewPayableRefreshJob(&refresherStub{err: boom}, quietLogger, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskPayableStatusRefresh, nil)), boom)
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	job := NewPayableRefreshJob(&refresherStub{}, quietLogger, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskPayableStatusRefresh, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	stub := &cleanerStub{removed: 4}
	job := NewIdempotencyCleanupJob(stub, quietLogger, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, DefaultIdempotencyRetention, stub.olderThan)

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, stub.olderThan)
}

func TestInventoryValuationStoresSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisSnapshotStore(client, time.Hour)

	source := &valuationStub{rows: []inventory.Valuation{
		{TenantID: 7, WarehouseID: 1, Quantity: decimal.NewFromInt(10), Value: decimal.RequireFromString("125.50")},
		{TenantID: 7, WarehouseID: 2, Quantity: decimal.NewFromInt(4), Value: decimal.NewFromInt(40)},
	}}
	now := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)
	job := NewInventoryValuationJob(source, store, quietLogger, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.WithClock(func() time.Time { return now })

	task, err := NewInventoryValuationTask(7)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, int64(7), source.tenantID)

	snapshot, found, err := store.LatestValuation(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, snapshot.Quantity.Equal(decimal.NewFromInt(14)))
	require.True(t, snapshot.Value.Equal(decimal.RequireFromString("165.5")))
	require.Len(t, snapshot.Warehouses, 2)
	require.True(t, snapshot.TakenAt.Equal(now))
	require.Greater(t, mr.TTL("odyssey:stock:valuation:7"), time.Duration(0))

	_, found, err = store.LatestValuation(context.Background(), 8)
	require.NoError(t, err)
	require.False(t, found)
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, quietLogger).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":0}`, rr.Body.String())
}
