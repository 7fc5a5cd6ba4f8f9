package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

// ValuationSource reports stock value per warehouse.
type ValuationSource interface {
	Valuation(ctx context.Context, tenantID int64) ([]inventory.Valuation, error)
}

// ValuationSnapshot is the stored result of one valuation run.
type ValuationSnapshot struct {
	TenantID   int64                 `json:"tenant_id"`
	TakenAt    time.Time             `json:"taken_at"`
	Quantity   decimal.Decimal       `json:"quantity"`
	Value      decimal.Decimal       `json:"value"`
	Warehouses []inventory.Valuation `json:"warehouses"`
}

// SnapshotStore persists valuation snapshots.
type SnapshotStore interface {
	SaveValuation(ctx context.Context, snapshot ValuationSnapshot) error
}

// InventoryValuationJob sums remaining batch value at FIFO cost and stores the snapshot.
type InventoryValuationJob struct {
	Source  ValuationSource
	Store   SnapshotStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewInventoryValuationJob constructs the job handler.
func NewInventoryValuationJob(source ValuationSource, store SnapshotStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *InventoryValuationJob {
	return &InventoryValuationJob{Source: source, Store: store, Logger: logger, Metrics: metrics}
}

// Handle executes the valuation.
func (j *InventoryValuationJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Source == nil || j.Store == nil {
		return errors.New("inventory valuation: dependencies not configured")
	}
	var payload InventoryValuationPayload
	if err := decodePayload(task, &payload); err != nil {
		return err
	}

	tracker := j.metrics().Track(TaskInventoryValuation)
	rows, err := j.Source.Valuation(ctx, payload.TenantID)
	if err != nil {
		j.log().Error("compute valuation", slog.Int64("tenant_id", payload.TenantID), slog.Any("error", err))
		return tracker.End(err)
	}
	snapshot := BuildValuationSnapshot(payload.TenantID, j.now(), rows)
	if err := j.Store.SaveValuation(ctx, snapshot); err != nil {
		j.log().Error("store valuation", slog.Int64("tenant_id", payload.TenantID), slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddProcessed(TaskInventoryValuation, len(rows))
	j.log().Info("inventory valuation stored",
		slog.Int64("tenant_id", payload.TenantID),
		slog.Int("warehouses", len(rows)),
		slog.String("value", snapshot.Value.StringFixed(2)),
	)
	return tracker.End(nil)
}

// BuildValuationSnapshot totals per-warehouse rows.
func BuildValuationSnapshot(tenantID int64, at time.Time, rows []inventory.Valuation) ValuationSnapshot {
	snapshot := ValuationSnapshot{
		TenantID:   tenantID,
		TakenAt:    at,
		Quantity:   decimal.Zero,
		Value:      decimal.Zero,
		Warehouses: rows,
	}
	for _, row := range rows {
		snapshot.Quantity = snapshot.Quantity.Add(row.Quantity)
		snapshot.Value = snapshot.Value.Add(row.Value)
	}
	return snapshot
}

func (j *InventoryValuationJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *InventoryValuationJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInventoryValuation))
	}
	return slog.Default().With(slog.String("job", TaskInventoryValuation))
}

func (j *InventoryValuationJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *InventoryValuationJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}

// RedisSnapshotStore keeps the latest snapshot per scope in redis.
type RedisSnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSnapshotStore constructs the store. A zero ttl keeps snapshots for two days.
func NewRedisSnapshotStore(client *redis.Client, ttl time.Duration) *RedisSnapshotStore {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &RedisSnapshotStore{client: client, ttl: ttl}
}

func valuationKey(tenantID int64) string {
	if tenantID == 0 {
		return "odyssey:stock:valuation:all"
	}
	return fmt.Sprintf("odyssey:stock:valuation:%d", tenantID)
}

// SaveValuation overwrites the latest snapshot for the scope.
func (s *RedisSnapshotStore) SaveValuation(ctx context.Context, snapshot ValuationSnapshot) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, valuationKey(snapshot.TenantID), body, s.ttl).Err()
}

// LatestValuation returns the stored snapshot; found is false when none exists.
func (s *RedisSnapshotStore) LatestValuation(ctx context.Context, tenantID int64) (ValuationSnapshot, bool, error) {
	body, err := s.client.Get(ctx, valuationKey(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ValuationSnapshot{}, false, nil
	}
	if err != nil {
		return ValuationSnapshot{}, false, err
	}
	var snapshot ValuationSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return ValuationSnapshot{}, false, err
	}
	return snapshot, true, nil
}
