package permissions

import (
	"time"

	"github.com/google/uuid"

	"github.com/unigate/unigate/internal/shared"
)

// Permission is the canonical definition of a grantable capability.
// UsersWithPermission is derived from the grants table on read and is never
// written directly.
type Permission struct {
	ID                   uuid.UUID             `json:"id"`
	Name                 shared.PermissionName `json:"name"`
	Owner                shared.Role           `json:"owner"`
	PossibleForRoles     []shared.Role         `json:"possibleForRoles"`
	PossibleGranterRoles []shared.Role         `json:"possibleGranterRoles"`
	Granters             []string              `json:"granter"`
	UsersWithPermission  []string              `json:"usersWithPermission"`
	Deleted              bool                  `json:"deleted"`
	CreatedAt            time.Time             `json:"createdAt"`
	UpdatedAt            time.Time             `json:"updatedAt"`
}

// IsGranter reports whether userID has been delegated grant authority.
func (p Permission) IsGranter(userID string) bool {
	for _, id := range p.Granters {
		if id == userID {
			return true
		}
	}
	return false
}

// CanAdminister reports whether the caller may grant or revoke: the owner
// role always can, delegates can by ID.
func (p Permission) CanAdminister(caller shared.Principal) bool {
	return caller.Role == p.Owner || p.IsGranter(caller.ID)
}

// Grant records that UserID holds a permission.
type Grant struct {
	PermissionID uuid.UUID  `json:"permissionId"`
	UserID       string     `json:"userId"`
	GrantedBy    string     `json:"grantedBy"`
	StartDate    time.Time  `json:"startDate"`
	EndDate      *time.Time `json:"endDate,omitempty"`
}

// ActiveAt reports whether StartDate <= t and, when set, t <= EndDate.
func (g Grant) ActiveAt(t time.Time) bool {
	if g.StartDate.After(t) {
		return false
	}
	return g.EndDate == nil || !g.EndDate.Before(t)
}

// ResolvedGrant pairs a grant with its permission definition. Permission is
// nil when the definition no longer exists.
type ResolvedGrant struct {
	Grant
	Permission *Permission
}

// Filter narrows a permission listing. The slice fields match when the
// permission shares at least one element with the list.
type Filter struct {
	Name                 string
	Owner                shared.Role
	Deleted              *bool
	Granters             []string
	PossibleForRoles     []shared.Role
	PossibleGranterRoles []shared.Role
	UsersWithPermission  []string
	Page                 shared.PageRequest
}

// Matches applies the any-of list filters to p. Name, owner and deleted are
// left to the caller.
func (f Filter) Matches(p Permission) bool {
	return anyString(p.Granters, f.Granters) &&
		anyRole(p.PossibleForRoles, f.PossibleForRoles) &&
		anyRole(p.PossibleGranterRoles, f.PossibleGranterRoles) &&
		anyString(p.UsersWithPermission, f.UsersWithPermission)
}

func anyString(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

func anyRole(have, want []shared.Role) bool {
	if len(want) == 0 {
		return true
	}
	for _, h := range have {
		if shared.ContainsRole(want, h) {
			return true
		}
	}
	return false
}

// ListResult is a page of permissions.
type ListResult struct {
	Pagination  shared.Pagination `json:"pagination"`
	Permissions []Permission      `json:"permissions"`
}

// NewPermission is the input for Create.
type NewPermission struct {
	Name                 string   `json:"name" validate:"required"`
	Owner                string   `json:"owner" validate:"required"`
	PossibleForRoles     []string `json:"possibleForRoles"`
	PossibleGranterRoles []string `json:"possibleGranterRoles"`
}
