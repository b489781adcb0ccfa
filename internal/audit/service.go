package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unigate/unigate/internal/shared"
)

// ErrEntryNotFound is returned for an unknown audit ID.
var ErrEntryNotFound = shared.NewError(shared.ErrNotFound, "Audit log not found")

// Repository exposes the read and retention side of the audit store.
type Repository interface {
	List(ctx context.Context, f Filters) ([]Entry, int, error)
	Get(ctx context.Context, id uuid.UUID) (Entry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service answers audit queries and enforces retention.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs the audit query service.
func NewService(repo Repository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, now: now}
}

// List returns a filtered page of entries.
func (s *Service) List(ctx context.Context, f Filters) (Page, error) {
	if s.repo == nil {
		return Page{}, fmt.Errorf("audit: repository not configured")
	}
	if f.Page.Page <= 0 {
		f.Page.Page = 1
	}
	if f.Page.Limit <= 0 {
		f.Page.Limit = 10
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return Page{}, fmt.Errorf("%w: to must not be before from", shared.ErrValidation)
	}
	entries, total, err := s.repo.List(ctx, f)
	if err != nil {
		return Page{}, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return Page{Pagination: shared.NewPagination(f.Page, total), Logs: entries}, nil
}

// Get loads one entry by ID.
func (s *Service) Get(ctx context.Context, rawID string) (Entry, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return Entry{}, ErrEntryNotFound
	}
	return s.repo.Get(ctx, id)
}

// DeleteBefore purges entries older than cutoff. A cutoff in the future is
// rejected so a typo cannot wipe the whole log.
func (s *Service) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, fmt.Errorf("%w: cutoff date required", shared.ErrValidation)
	}
	if cutoff.After(s.now()) {
		return 0, fmt.Errorf("%w: cutoff date must be in the past", shared.ErrValidation)
	}
	return s.repo.DeleteBefore(ctx, cutoff)
}

// PurgeOlderThan applies a retention window relative to now.
func (s *Service) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", shared.ErrValidation)
	}
	return s.repo.DeleteBefore(ctx, s.now().Add(-retention))
}
