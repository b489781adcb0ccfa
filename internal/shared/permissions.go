package shared

import "fmt"

// PermissionName identifies a dynamically grantable capability.
type PermissionName string

const (
	PermCreateCourse    PermissionName = "CREATE_COURSE"
	PermUpdateCourse    PermissionName = "UPDATE_COURSE"
	PermDeleteCourse    PermissionName = "DELETE_COURSE"
	PermDeleteEmployee  PermissionName = "DELETE_EMPLOYEE"
	PermDeleteStudent   PermissionName = "DELETE_STUDENT"
	PermManageSemesters PermissionName = "MANAGE_SEMESTERS"
	PermViewAuditLogs   PermissionName = "VIEW_AUDIT_LOGS"
)

// PermissionNames returns the closed permission set.
func PermissionNames() []PermissionName {
	return []PermissionName{
		PermCreateCourse,
		PermUpdateCourse,
		PermDeleteCourse,
		PermDeleteEmployee,
		PermDeleteStudent,
		PermManageSemesters,
		PermViewAuditLogs,
	}
}

// Valid reports whether n is part of the closed set.
func (n PermissionName) Valid() bool {
	for _, candidate := range PermissionNames() {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParsePermissionName validates a permission identifier.
func ParsePermissionName(raw string) (PermissionName, error) {
	n := PermissionName(raw)
	if !n.Valid() {
		return "", fmt.Errorf("%w: unknown permission %q", ErrValidation, raw)
	}
	return n, nil
}
