package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

// PayableRefresher recomputes payable statuses as of an instant.
type PayableRefresher interface {
	RefreshStatuses(ctx context.Context, now time.Time) (int, error)
}

// PayableRefreshJob moves unpaid payables between CURRENT, DUE_SOON and OVERDUE as time passes.
type PayableRefreshJob struct {
	Service PayableRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewPayableRefreshJob constructs the job handler.
func NewPayableRefreshJob(service PayableRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *PayableRefreshJob {
	return &PayableRefreshJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes the refresh.
func (j *PayableRefreshJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("payable refresh: dependencies not configured")
	}
	var payload PayableRefreshPayload
	if err := decodePayload(task, &payload); err != nil {
		return err
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = j.now()
	}

	tracker := j.metrics().Track(TaskPayableStatusRefresh)
	changed, err := j.Service.RefreshStatuses(ctx, asOf)
	if err != nil {
		j.log().Error("refresh payable statuses", slog.Time("as_of", asOf), slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddProcessed(TaskPayableStatusRefresh, changed)
	j.log().Info("payable statuses refreshed", slog.Time("as_of", asOf), slog.Int("changed", changed))
	return tracker.End(nil)
}

func (j *PayableRefreshJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PayableRefreshJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPayableStatusRefresh))
	}
	return slog.Default().With(slog.String("job", TaskPayableStatusRefresh))
}

func (j *PayableRefreshJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *PayableRefreshJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
