package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/unigate/unigate/internal/jobs"
	"github.com/unigate/unigate/internal/semester"
)

type fakePurger struct {
	retention time.Duration
	deleted   int64
	err       error
}

func (f *fakePurger) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	f.retention = retention
	return f.deleted, f.err
}

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func TestAuditPurgeUsesConfiguredRetention(t *testing.T) {
	purger := &fakePurger{deleted: 12}
	job := NewAuditPurgeJob(purger, 90*24*time.Hour, nil, testMetrics())

	task, err := NewAuditPurgeTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 90*24*time.Hour, purger.retention)
}

func TestAuditPurgePayloadOverride(t *testing.T) {
	purger := &fakePurger{}
	job := NewAuditPurgeJob(purger, 90*24*time.Hour, nil, testMetrics())

	task, err := NewAuditPurgeTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 48*time.Hour, purger.retention)
}

func TestAuditPurgeErrors(t *testing.T) {
	boom := errors.New("database down")
	job := NewAuditPurgeJob(&fakePurger{err: boom}, time.Hour, nil, testMetrics())
	task, err := NewAuditPurgeTask(0)
	require.NoError(t, err)
	assert.ErrorIs(t, job.Handle(context.Background(), task), boom)

	bad := asynq.NewTask(TaskAuditPurge, []byte("{"))
	assert.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)

	var unset *AuditPurgeJob
	assert.Error(t, unset.Handle(context.Background(), task))
}

type fakeRefresher struct {
	sem   semester.Semester
	err   error
	calls int
}

func (f *fakeRefresher) RefreshCurrent(ctx context.Context) (semester.Semester, error) {
	f.calls++
	return f.sem, f.err
}

func TestSemesterRefresh(t *testing.T) {
	ok := &fakeRefresher{sem: semester.Semester{ID: "2024-FALL"}}
	job := NewSemesterRefreshJob(ok, nil, testMetrics())
	require.NoError(t, job.Handle(context.Background(), NewSemesterCacheRefreshTask()))
	assert.Equal(t, 1, ok.calls)

	idle := &fakeRefresher{err: semester.ErrNoCurrentSemester}
	require.NoError(t, NewSemesterRefreshJob(idle, nil, testMetrics()).Handle(context.Background(), NewSemesterCacheRefreshTask()))

	boom := errors.New("redis down")
	failing := &fakeRefresher{err: boom}
	assert.ErrorIs(t, NewSemesterRefreshJob(failing, nil, testMetrics()).Handle(context.Background(), NewSemesterCacheRefreshTask()), boom)
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func TestJobsHealth(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Route("/jobs", h.MountRoutes)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
		return rr
	}

	rr := serve(NewHandler(fakeInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 4}}, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queue":"default","pending":4}`, rr.Body.String())

	rr = serve(NewHandler(fakeInspector{err: errors.New("no redis")}, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serve(NewHandler(nil, nil))
	assert.JSONEq(t, `{"queue":"default","pending":0}`, rr.Body.String())
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
}

func (r *recordingEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	r.opts = append(r.opts, opts)
	return &asynq.TaskInfo{ID: "t-1", Type: task.Type(), Queue: QueueDefault}, nil
}

func (r *recordingEnqueuer) Close() error { return nil }

func TestClientEnqueuesTasks(t *testing.T) {
	rec := &recordingEnqueuer{}
	client := &Client{client: rec}
	ctx := context.Background()

	info, err := client.EnqueueAuditPurge(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TaskAuditPurge, info.Type)

	_, err = client.EnqueueSemesterCacheRefresh(ctx)
	require.NoError(t, err)

	require.Len(t, rec.tasks, 2)
	assert.Equal(t, TaskAuditPurge, rec.tasks[0].Type())
	assert.JSONEq(t, `{"retention_seconds":2592000}`, string(rec.tasks[0].Payload()))
	assert.Equal(t, TaskSemesterCacheRefresh, rec.tasks[1].Type())
	assert.NotEmpty(t, rec.opts[0])
	require.NoError(t, client.Close())
}
