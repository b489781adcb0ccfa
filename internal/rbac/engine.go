package rbac

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/unigate/unigate/internal/identity"
	"github.com/unigate/unigate/internal/permissions"
	"github.com/unigate/unigate/internal/shared"
)

var (
	ErrInsufficientPermissions = shared.NewError(shared.ErrAuthorization, "Access denied: insufficient permissions")
	ErrCallerNotFound          = shared.NewError(shared.ErrNotFound, "User not found")
)

// Via names the rule that produced a decision.
type Via string

const (
	ViaRole       Via = "role"
	ViaPermission Via = "permission"
	ViaNone       Via = "none"
)

// Decision is the outcome of one authorization check.
type Decision struct {
	Allowed bool
	Via     Via
	// Reason is set on denial and wraps a taxonomy class.
	Reason error
}

// GrantSource loads a user's grants with their permission definitions.
type GrantSource interface {
	GrantsForUser(ctx context.Context, userID string) ([]permissions.ResolvedGrant, error)
}

// UserFinder confirms the caller still exists.
type UserFinder interface {
	FindUser(ctx context.Context, id string) (identity.User, error)
}

// Engine decides whether a caller may proceed. The caller's role is taken
// from the principal as issued in the token and is never re-derived here;
// only grants are re-read on every check.
type Engine struct {
	grants GrantSource
	users  UserFinder
	now    func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine(grants GrantSource, users UserFinder, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{grants: grants, users: users, now: now}
}

// Decide evaluates the static role list first and the dynamic grants second.
// A non-nil error means the check itself failed and the request must be
// rejected as a system error.
func (e *Engine) Decide(ctx context.Context, p shared.Principal, allowed []shared.Role, required shared.PermissionName) (Decision, error) {
	if shared.ContainsRole(allowed, p.Role) {
		return Decision{Allowed: true, Via: ViaRole}, nil
	}
	if required == "" {
		return Decision{Via: ViaNone, Reason: ErrInsufficientPermissions}, nil
	}
	if e.users != nil {
		if _, err := e.users.FindUser(ctx, p.ID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return Decision{Via: ViaNone, Reason: ErrCallerNotFound}, nil
			}
			return Decision{}, fmt.Errorf("rbac: load caller: %w", err)
		}
	}
	grants, err := e.grants.GrantsForUser(ctx, p.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("rbac: load grants: %w", err)
	}
	now := e.now()
	for _, g := range grants {
		if satisfies(g, required, p.Role, now) {
			return Decision{Allowed: true, Via: ViaPermission}, nil
		}
	}
	return Decision{Via: ViaPermission, Reason: ErrInsufficientPermissions}, nil
}

// satisfies applies the grant rule: the permission must exist and not be
// deleted, the name must match, now must be inside the grant window and the
// caller's role must still be eligible for the permission.
func satisfies(g permissions.ResolvedGrant, required shared.PermissionName, role shared.Role, now time.Time) bool {
	if g.Permission == nil || g.Permission.Deleted {
		return false
	}
	if g.Permission.Name != required {
		return false
	}
	if !g.ActiveAt(now) {
		return false
	}
	return shared.ContainsRole(g.Permission.PossibleForRoles, role)
}

// Status maps a denial to its HTTP status.
func (d Decision) Status() int {
	if d.Allowed {
		return http.StatusOK
	}
	if errors.Is(d.Reason, shared.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusForbidden
}
