package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/unigate/unigate/internal/jobs"
	"github.com/unigate/unigate/internal/semester"
)

// SemesterRefresher reloads the cached running semester.
type SemesterRefresher interface {
	RefreshCurrent(ctx context.Context) (semester.Semester, error)
}

// SemesterRefreshJob keeps the current-semester cache warm across term
// boundaries.
type SemesterRefreshJob struct {
	Refresher SemesterRefresher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewSemesterRefreshJob wires dependencies for the refresh handler.
func NewSemesterRefreshJob(refresher SemesterRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *SemesterRefreshJob {
	return &SemesterRefreshJob{Refresher: refresher, Logger: logger, Metrics: metrics}
}

// Handle processes TaskSemesterCacheRefresh tasks. Having no running
// semester is a normal state between terms.
func (j *SemesterRefreshJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Refresher == nil {
		return errors.New("semester refresh: handler not configured")
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}

	tracker := metrics.Track(TaskSemesterCacheRefresh)
	sem, err := j.Refresher.RefreshCurrent(ctx)
	if errors.Is(err, semester.ErrNoCurrentSemester) {
		logger.Info("no semester running")
		return tracker.End(nil)
	}
	if err = tracker.End(err); err != nil {
		logger.Error("semester refresh failed", slog.Any("error", err))
		return err
	}
	logger.Info("semester cache refreshed", slog.String("semester_id", sem.ID))
	return nil
}
