package identity

import (
	"time"

	"github.com/unigate/unigate/internal/shared"
)

// Position is one employment period of an employee.
type Position struct {
	ID           int64       `json:"id"`
	Title        shared.Role `json:"title"`
	DepartmentID string      `json:"departmentId"`
	StartDate    time.Time   `json:"startDate"`
	EndDate      *time.Time  `json:"endDate,omitempty"`
}

// Open reports whether the position has not been closed.
func (p Position) Open() bool {
	return p.EndDate == nil
}

// ActiveAt reports whether t falls in [StartDate, EndDate).
func (p Position) ActiveAt(t time.Time) bool {
	if p.StartDate.After(t) {
		return false
	}
	return p.EndDate == nil || t.Before(*p.EndDate)
}

// User is either a student or an employee. Positions is empty for students.
type User struct {
	ID           string          `json:"id"`
	Kind         shared.UserKind `json:"userKind"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	PasswordHash string          `json:"-"`
	Deleted      bool            `json:"deleted"`
	Positions    []Position      `json:"positions,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// CurrentRole derives the effective role at t. Students always hold the
// student role; an employee holds the title of the position active at t,
// or no role at all.
func (u User) CurrentRole(at time.Time) (shared.Role, bool) {
	if u.Kind == shared.KindStudent {
		return shared.RoleStudent, true
	}
	for _, p := range u.Positions {
		if p.ActiveAt(at) {
			return p.Title, true
		}
	}
	return "", false
}

// OpenPosition returns the position without an end date, if any.
func (u User) OpenPosition() (Position, bool) {
	for _, p := range u.Positions {
		if p.Open() {
			return p, true
		}
	}
	return Position{}, false
}

// NewStudent is the input for registering a student.
type NewStudent struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// NewEmployee is the input for registering an employee with a first position.
type NewEmployee struct {
	Name         string `json:"name" validate:"required,max=200"`
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required,min=8,max=72"`
	Title        string `json:"title" validate:"required"`
	DepartmentID string `json:"departmentId"`
}

// NewPosition is the input for moving an employee to a new title.
type NewPosition struct {
	Title        string `json:"title" validate:"required"`
	DepartmentID string `json:"departmentId"`
}
