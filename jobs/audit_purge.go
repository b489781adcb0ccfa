package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/unigate/unigate/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// AuditPurger removes audit entries older than a retention window.
type AuditPurger interface {
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// AuditPurgeJob enforces audit log retention.
type AuditPurgeJob struct {
	Purger    AuditPurger
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewAuditPurgeJob wires dependencies for the purge handler.
func NewAuditPurgeJob(purger AuditPurger, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPurgeJob {
	return &AuditPurgeJob{Purger: purger, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handle processes TaskAuditPurge tasks.
func (j *AuditPurgeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Purger == nil {
		return errors.New("audit purge: handler not configured")
	}
	var payload AuditPurgePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("audit purge: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	retention := payload.Retention()
	if retention == 0 {
		retention = j.Retention
	}

	tracker := j.metrics().Track(TaskAuditPurge)
	deleted, err := j.Purger.PurgeOlderThan(ctx, retention)
	if err = tracker.End(err); err != nil {
		j.logger().Error("audit purge failed", slog.Duration("retention", retention), slog.Any("error", err))
		return err
	}
	j.metrics().AddPurged(deleted)
	j.logger().Info("audit purge completed", slog.Duration("retention", retention), slog.Int64("deleted", deleted))
	return nil
}

func (j *AuditPurgeJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AuditPurgeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
