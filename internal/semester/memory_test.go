package semester

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryRepo struct {
	mu          sync.Mutex
	items       map[string]Semester
	currentHits int
	err         error
}

func newMemoryRepo(items ...Semester) *memoryRepo {
	r := &memoryRepo{items: map[string]Semester{}}
	for _, s := range items {
		r.items[s.ID] = s
	}
	return r
}

func (r *memoryRepo) Create(ctx context.Context, s Semester) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[s.ID]; ok {
		return ErrSemesterExists
	}
	r.items[s.ID] = s
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id string) (Semester, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	if !ok {
		return Semester{}, ErrSemesterNotFound
	}
	return s, nil
}

func (r *memoryRepo) List(ctx context.Context, f Filter) ([]Semester, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Semester
	for _, s := range r.items {
		if f.Name != "" && !strings.Contains(strings.ToLower(s.Name), strings.ToLower(f.Name)) {
			continue
		}
		if f.ActiveAt != nil && !s.RunningAt(*f.ActiveAt) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Schedule.StartDate.After(out[j].Schedule.StartDate) })
	total := len(out)
	start := f.Page.Offset()
	if start > total {
		start = total
	}
	end := start + f.Page.Limit
	if end > total {
		end = total
	}
	return out[start:end], total, nil
}

func (r *memoryRepo) Update(ctx context.Context, s Semester) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[s.ID]; !ok {
		return ErrSemesterNotFound
	}
	r.items[s.ID] = s
	return nil
}

func (r *memoryRepo) Delete(ctx context.Context, id string) (Semester, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	if !ok {
		return Semester{}, ErrSemesterNotFound
	}
	delete(r.items, id)
	return s, nil
}

func (r *memoryRepo) Current(ctx context.Context, at time.Time) (Semester, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentHits++
	if r.err != nil {
		return Semester{}, r.err
	}
	var best *Semester
	for _, s := range r.items {
		s := s
		if !s.RunningAt(at) {
			continue
		}
		if best == nil || s.Schedule.StartDate.After(best.Schedule.StartDate) {
			best = &s
		}
	}
	if best == nil {
		return Semester{}, ErrNoCurrentSemester
	}
	return *best, nil
}

func (r *memoryRepo) hits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentHits
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fall2024() Semester {
	return Semester{
		ID:   "2024-FALL",
		Name: "Fall 2024",
		Schedule: Schedule{
			StartDate:             day(2024, 9, 1),
			EndDate:               day(2025, 1, 31),
			EnrollmentStartDate:   day(2024, 8, 1),
			EnrollmentEndDate:     day(2024, 9, 15),
			MidtermExamsStartDate: day(2024, 11, 1),
			MidtermExamsEndDate:   day(2024, 11, 10),
			FinalExamsStartDate:   day(2025, 1, 10),
			FinalExamsEndDate:     day(2025, 1, 25),
		},
	}
}

func spring2025() Semester {
	return Semester{
		ID:   "2025-SPRING",
		Name: "Spring 2025",
		Schedule: Schedule{
			StartDate:             day(2025, 2, 15),
			EndDate:               day(2025, 6, 30),
			EnrollmentStartDate:   day(2025, 1, 15),
			EnrollmentEndDate:     day(2025, 2, 28),
			MidtermExamsStartDate: day(2025, 4, 1),
			MidtermExamsEndDate:   day(2025, 4, 10),
			FinalExamsStartDate:   day(2025, 6, 10),
			FinalExamsEndDate:     day(2025, 6, 25),
		},
	}
}
