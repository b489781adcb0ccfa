package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditPurge deletes audit entries past the retention window.
	TaskAuditPurge = "audit:purge"
	// TaskSemesterCacheRefresh reloads the cached running semester.
	TaskSemesterCacheRefresh = "semester:cache_refresh"
)

// AuditPurgePayload optionally overrides the configured retention.
type AuditPurgePayload struct {
	RetentionSeconds int64 `json:"retention_seconds,omitempty"`
}

// Retention returns the override, or zero when none was given.
func (p AuditPurgePayload) Retention() time.Duration {
	if p.RetentionSeconds <= 0 {
		return 0
	}
	return time.Duration(p.RetentionSeconds) * time.Second
}

// NewAuditPurgeTask builds an audit retention task. A zero retention uses
// the worker's configured window.
func NewAuditPurgeTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(AuditPurgePayload{RetentionSeconds: int64(retention / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPurge, data), nil
}

// NewSemesterCacheRefreshTask builds a semester cache refresh task.
func NewSemesterCacheRefreshTask() *asynq.Task {
	return asynq.NewTask(TaskSemesterCacheRefresh, nil)
}
