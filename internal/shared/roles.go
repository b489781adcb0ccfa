package shared

import (
	"fmt"
	"strings"
)

// UserKind discriminates the two user variants.
type UserKind string

const (
	KindStudent  UserKind = "Student"
	KindEmployee UserKind = "Employee"
)

// ParseUserKind validates a kind read from storage or token claims.
func ParseUserKind(raw string) (UserKind, error) {
	switch UserKind(raw) {
	case KindStudent, KindEmployee:
		return UserKind(raw), nil
	}
	return "", fmt.Errorf("%w: unknown user kind %q", ErrValidation, raw)
}

// IDPrefix is the letter that starts generated IDs of this kind.
func (k UserKind) IDPrefix() string {
	if k == KindEmployee {
		return "E"
	}
	return "S"
}

// Role is a member of the closed set of university roles. Employee roles
// are position titles; students share a single fixed role.
type Role string

const (
	RoleDeanOfAdmissionRegistration     Role = "Dean of Admission and Registration"
	RoleEmployeeOfAdmissionRegistration Role = "Employee of Admission and Registration"
	RoleHeadOfAdmissionRegistration     Role = "Head of Admission and Registration"
	RoleInstructor                      Role = "Instructor"
	RoleUniversityPresident             Role = "University President"
	RoleDeanOfAcademicAffairs           Role = "Dean of Academic Affairs"
	RoleEmployeeOfAcademicAffairs       Role = "Employee of Academic Affairs"
	RoleHeadOfHumanResources            Role = "Head of Human Resources"
	RoleHRManager                       Role = "HR Manager"
	RoleHROfficer                       Role = "HR Officer"
	RoleSoftwareEngineer                Role = "Software Engineer"
	RoleAdmin                           Role = "Admin"

	RoleStudent Role = "Student"
)

var employeeRoles = []Role{
	RoleDeanOfAdmissionRegistration,
	RoleEmployeeOfAdmissionRegistration,
	RoleHeadOfAdmissionRegistration,
	RoleInstructor,
	RoleUniversityPresident,
	RoleDeanOfAcademicAffairs,
	RoleEmployeeOfAcademicAffairs,
	RoleHeadOfHumanResources,
	RoleHRManager,
	RoleHROfficer,
	RoleSoftwareEngineer,
	RoleAdmin,
}

// IsEmployeeRole reports whether r is a valid position title.
func (r Role) IsEmployeeRole() bool {
	for _, candidate := range employeeRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// Valid reports whether r belongs to the closed role set.
func (r Role) Valid() bool {
	return r == RoleStudent || r.IsEmployeeRole()
}

// IsAdmin compares case-insensitively, matching how admin checks have
// always been made against stored titles.
func (r Role) IsAdmin() bool {
	return strings.EqualFold(string(r), string(RoleAdmin))
}

// ParseRole validates a role name.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.TrimSpace(raw))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, raw)
	}
	return r, nil
}

// ContainsRole reports whether r is in roles.
func ContainsRole(roles []Role, r Role) bool {
	for _, candidate := range roles {
		if candidate == r {
			return true
		}
	}
	return false
}
