package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPayableStatusRefresh recomputes DUE_SOON/OVERDUE flags of unpaid payables.
	TaskPayableStatusRefresh = "ap:status_refresh"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
	// TaskInventoryValuation stores a stock valuation snapshot.
	TaskInventoryValuation = "inventory:valuation"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// PayableRefreshPayload optionally pins the evaluation instant.
type PayableRefreshPayload struct {
	AsOf time.Time `json:"as_of,omitempty"`
}

// IdempotencyCleanupPayload configures the retention window.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// InventoryValuationPayload scopes a snapshot; TenantID 0 covers every tenant.
type InventoryValuationPayload struct {
	TenantID int64 `json:"tenant_id"`
}

// NewPayableRefreshTask builds the payable status refresh task.
func NewPayableRefreshTask(asOf time.Time) (*asynq.Task, error) {
	return newTask(TaskPayableStatusRefresh, PayableRefreshPayload{AsOf: asOf})
}

// NewIdempotencyCleanupTask builds the cleanup task for keys older than retention.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{RetentionHours: int(retention.Hours())})
}

// NewInventoryValuationTask builds the valuation snapshot task.
func NewInventoryValuationTask(tenantID int64) (*asynq.Task, error) {
	return newTask(TaskInventoryValuation, InventoryValuationPayload{TenantID: tenantID})
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault)), nil
}

// decodePayload tolerates an empty body so cron entries may omit one.
func decodePayload(task *asynq.Task, dst any) error {
	if len(task.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(task.Payload(), dst); err != nil {
		return asynq.SkipRetry
	}
	return nil
}
