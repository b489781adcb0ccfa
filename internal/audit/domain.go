package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/unigate/unigate/internal/shared"
)

// Actions recorded by the service.
const (
	ActionAccessDenied              = "ACCESS_DENIED"
	ActionAccessGranted             = "ACCESS_GRANTED"
	ActionEnsureEmployeeSelfAccess  = "ENSURE_EMPLOYEE_SELF_ACCESS"
	ActionCreatePermission          = "CREATE_PERMISSION"
	ActionDeletePermission          = "DELETE_PERMISSION"
	ActionActivatePermission        = "ACTIVATE_PERMISSION"
	ActionGrantPermission           = "GRANT_PERMISSION"
	ActionRevokePermission          = "REVOKE_PERMISSION"
	ActionAddGranter                = "ADD_GRANTER"
	ActionRemoveGranter             = "REMOVE_GRANTER"
	ActionAddPossibleForRole        = "ADD_POSSIBLE_FOR_ROLE"
	ActionRemovePossibleForRole     = "REMOVE_POSSIBLE_FOR_ROLE"
	ActionAddPossibleGranterRole    = "ADD_POSSIBLE_GRANTER_ROLE"
	ActionRemovePossibleGranterRole = "REMOVE_POSSIBLE_GRANTER_ROLE"
	ActionLogin                     = "LOGIN"
	ActionChangePassword            = "CHANGE_PASSWORD"
	ActionForgotPassword            = "FORGOT_PASSWORD"
	ActionResetPassword             = "RESET_PASSWORD"
	ActionUpdateStudentContact      = "UPDATE_STUDENT_CONTACT"
	ActionCreateStudent             = "CREATE_STUDENT"
	ActionCreateEmployee            = "CREATE_EMPLOYEE"
	ActionDeleteStudent             = "DELETE_STUDENT"
	ActionDeleteEmployee            = "DELETE_EMPLOYEE"
	ActionAddPosition               = "ADD_POSITION"
	ActionEndPosition               = "END_POSITION"
	ActionCreateSemester            = "CREATE_SEMESTER"
	ActionUpdateSemester            = "UPDATE_SEMESTER"
	ActionDeleteSemester            = "DELETE_SEMESTER"
	ActionPurgeAuditLogs            = "PURGE_AUDIT_LOGS"
)

const (
	maxErrorLength = 500
	maxDataBytes   = 2000
)

// Entry is one audit record.
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	Action    string          `json:"action"`
	Status    int             `json:"status"`
	UserID    string          `json:"userId"`
	UserKind  shared.UserKind `json:"userKind"`
	Error     string          `json:"error,omitempty"`
	Data      map[string]any  `json:"data,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ForPrincipal starts an entry attributed to p.
func ForPrincipal(p shared.Principal, action string, status int) Entry {
	return Entry{Action: action, Status: status, UserID: p.ID, UserKind: p.Kind}
}

// Filters narrows an audit listing.
type Filters struct {
	Action   string
	Status   int
	UserID   string
	UserKind string
	From     time.Time
	To       time.Time
	Page     shared.PageRequest
}

// Page is a slice of entries with paging metadata.
type Page struct {
	Pagination shared.Pagination `json:"pagination"`
	Logs       []Entry           `json:"logs"`
}
