// Package semester manages the academic calendar and the cached answer to
// "which semester is running now".
package semester

import (
	"fmt"
	"time"

	"github.com/unigate/unigate/internal/shared"
)

var (
	ErrSemesterNotFound  = shared.NewError(shared.ErrNotFound, "Semester not found")
	ErrNoCurrentSemester = shared.NewError(shared.ErrNotFound, "No semester is currently running")
	ErrSemesterExists    = shared.NewError(shared.ErrValidation, "Semester with this ID already exists")
	ErrInvalidSchedule   = shared.NewError(shared.ErrValidation, "Invalid date range")
)

// Schedule holds the four windows of a semester. Each window starts
// strictly before it ends.
type Schedule struct {
	StartDate             time.Time `json:"startDate"`
	EndDate               time.Time `json:"endDate"`
	EnrollmentStartDate   time.Time `json:"enrollmentStartDate"`
	EnrollmentEndDate     time.Time `json:"enrollmentEndDate"`
	MidtermExamsStartDate time.Time `json:"midtermExamsStartDate"`
	MidtermExamsEndDate   time.Time `json:"midtermExamsEndDate"`
	FinalExamsStartDate   time.Time `json:"finalExamsStartDate"`
	FinalExamsEndDate     time.Time `json:"finalExamsEndDate"`
}

// Validate reports the first window whose start is not before its end.
func (s Schedule) Validate() error {
	windows := []struct {
		label      string
		start, end time.Time
	}{
		{"start date must be before end date", s.StartDate, s.EndDate},
		{"enrollment start date must be before enrollment end date", s.EnrollmentStartDate, s.EnrollmentEndDate},
		{"midterm exams start date must be before midterm exams end date", s.MidtermExamsStartDate, s.MidtermExamsEndDate},
		{"final exams start date must be before final exams end date", s.FinalExamsStartDate, s.FinalExamsEndDate},
	}
	for _, w := range windows {
		if w.start.IsZero() || w.end.IsZero() || !w.start.Before(w.end) {
			return fmt.Errorf("%w: %s", ErrInvalidSchedule, w.label)
		}
	}
	return nil
}

// Semester is one academic term.
type Semester struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Schedule  Schedule  `json:"schedule"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RunningAt reports whether t falls inside the semester, both ends included.
func (s Semester) RunningAt(t time.Time) bool {
	return !t.Before(s.Schedule.StartDate) && !t.After(s.Schedule.EndDate)
}

// EnrollmentOpenAt reports whether t falls inside the enrollment window.
func (s Semester) EnrollmentOpenAt(t time.Time) bool {
	return !t.Before(s.Schedule.EnrollmentStartDate) && !t.After(s.Schedule.EnrollmentEndDate)
}

// NewSemester is the input for Create.
type NewSemester struct {
	ID       string   `json:"id" validate:"required,max=64"`
	Name     string   `json:"name" validate:"required,max=200"`
	Schedule Schedule `json:"schedule"`
}

// Update carries optional replacements. Nil fields keep their value.
type Update struct {
	Name                  *string    `json:"name" validate:"omitempty,max=200"`
	StartDate             *time.Time `json:"startDate"`
	EndDate               *time.Time `json:"endDate"`
	EnrollmentStartDate   *time.Time `json:"enrollmentStartDate"`
	EnrollmentEndDate     *time.Time `json:"enrollmentEndDate"`
	MidtermExamsStartDate *time.Time `json:"midtermExamsStartDate"`
	MidtermExamsEndDate   *time.Time `json:"midtermExamsEndDate"`
	FinalExamsStartDate   *time.Time `json:"finalExamsStartDate"`
	FinalExamsEndDate     *time.Time `json:"finalExamsEndDate"`
}

// Apply merges u into s.
func (u Update) Apply(s Semester) Semester {
	if u.Name != nil {
		s.Name = *u.Name
	}
	set := func(dst *time.Time, src *time.Time) {
		if src != nil {
			*dst = *src
		}
	}
	set(&s.Schedule.StartDate, u.StartDate)
	set(&s.Schedule.EndDate, u.EndDate)
	set(&s.Schedule.EnrollmentStartDate, u.EnrollmentStartDate)
	set(&s.Schedule.EnrollmentEndDate, u.EnrollmentEndDate)
	set(&s.Schedule.MidtermExamsStartDate, u.MidtermExamsStartDate)
	set(&s.Schedule.MidtermExamsEndDate, u.MidtermExamsEndDate)
	set(&s.Schedule.FinalExamsStartDate, u.FinalExamsStartDate)
	set(&s.Schedule.FinalExamsEndDate, u.FinalExamsEndDate)
	return s
}

// Filter narrows a semester listing.
type Filter struct {
	Name     string
	ActiveAt *time.Time
	Page     shared.PageRequest
}

// ListResult is a page of semesters.
type ListResult struct {
	Pagination shared.Pagination `json:"pagination"`
	Semesters  []Semester        `json:"semesters"`
}
