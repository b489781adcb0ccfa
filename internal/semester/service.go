package semester

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/unigate/unigate/internal/shared"
)

// Repository persists semesters.
type Repository interface {
	CurrentLoader
	Create(ctx context.Context, s Semester) error
	Get(ctx context.Context, id string) (Semester, error)
	List(ctx context.Context, f Filter) ([]Semester, int, error)
	Update(ctx context.Context, s Semester) error
	Delete(ctx context.Context, id string) (Semester, error)
}

// RefreshScheduler queues a reload of the running semester on the worker.
type RefreshScheduler interface {
	EnqueueSemesterCacheRefresh(ctx context.Context) (*asynq.TaskInfo, error)
}

// Service manages the semester calendar.
type Service struct {
	repo      Repository
	cache     *CurrentCache
	now       func() time.Time
	logger    *slog.Logger
	scheduler RefreshScheduler
}

// ServiceOption customises Service.
type ServiceOption func(*Service)

// WithRefreshScheduler warms the shared cache in the background after every
// write.
func WithRefreshScheduler(rs RefreshScheduler) ServiceOption {
	return func(s *Service) { s.scheduler = rs }
}

// NewService wires the repository and the current-semester cache. A nil
// cache reads through to the repository on every call.
func NewService(repo Repository, cache *CurrentCache, now func() time.Time, logger *slog.Logger, opts ...ServiceOption) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, cache: cache, now: now, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new semester.
func (s *Service) Create(ctx context.Context, in NewSemester) (Semester, error) {
	if err := in.Schedule.Validate(); err != nil {
		return Semester{}, err
	}
	now := s.now()
	sem := Semester{
		ID:        strings.TrimSpace(in.ID),
		Name:      strings.TrimSpace(in.Name),
		Schedule:  in.Schedule,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, sem); err != nil {
		return Semester{}, err
	}
	s.afterWrite(ctx)
	return sem, nil
}

// Get returns one semester.
func (s *Service) Get(ctx context.Context, id string) (Semester, error) {
	return s.repo.Get(ctx, id)
}

// List returns a filtered page of semesters.
func (s *Service) List(ctx context.Context, f Filter) (ListResult, error) {
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return ListResult{}, err
	}
	if items == nil {
		items = []Semester{}
	}
	return ListResult{Pagination: shared.NewPagination(f.Page, total), Semesters: items}, nil
}

// Update applies a partial change and revalidates the schedule.
func (s *Service) Update(ctx context.Context, id string, in Update) (Semester, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Semester{}, err
	}
	next := in.Apply(current)
	next.Name = strings.TrimSpace(next.Name)
	if err := next.Schedule.Validate(); err != nil {
		return Semester{}, err
	}
	next.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, next); err != nil {
		return Semester{}, err
	}
	s.afterWrite(ctx)
	return next, nil
}

// Delete removes a semester and returns what was removed.
func (s *Service) Delete(ctx context.Context, id string) (Semester, error) {
	sem, err := s.repo.Delete(ctx, id)
	if err != nil {
		return Semester{}, err
	}
	s.afterWrite(ctx)
	return sem, nil
}

// Current returns the semester running now.
func (s *Service) Current(ctx context.Context) (Semester, error) {
	if s.cache == nil {
		return s.repo.Current(ctx, s.now())
	}
	return s.cache.Current(ctx)
}

// RefreshCurrent drops the cached value and loads it again. It never
// schedules a refresh itself, since the refresh job calls it.
func (s *Service) RefreshCurrent(ctx context.Context) (Semester, error) {
	s.invalidate(ctx)
	return s.Current(ctx)
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("semester cache invalidation failed", slog.Any("error", err))
	}
}

// afterWrite invalidates the cache and asks the worker to warm it again.
// Enqueue failures only cost a cold read on the next request.
func (s *Service) afterWrite(ctx context.Context) {
	s.invalidate(ctx)
	if s.scheduler == nil {
		return
	}
	if _, err := s.scheduler.EnqueueSemesterCacheRefresh(ctx); err != nil {
		s.logger.Warn("semester cache refresh enqueue failed", slog.Any("error", err))
	}
}
