// Package permissions is the registry of dynamically grantable permissions,
// their delegation rules and the grants that users hold.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unigate/unigate/internal/identity"
	"github.com/unigate/unigate/internal/shared"
)

// Repository persists permission definitions and grants.
type Repository interface {
	Create(ctx context.Context, p Permission) error
	Get(ctx context.Context, id uuid.UUID) (Permission, error)
	List(ctx context.Context, f Filter) ([]Permission, int, error)
	GrantsForUser(ctx context.Context, userID string) ([]ResolvedGrant, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository holds the writes of one mutation. LockPermission must block
// concurrent mutations of the same permission until commit.
type TxRepository interface {
	LockPermission(ctx context.Context, id uuid.UUID) (Permission, error)
	SetDeleted(ctx context.Context, id uuid.UUID, deleted bool, at time.Time) error
	SetPossibleForRoles(ctx context.Context, id uuid.UUID, roles []shared.Role, at time.Time) error
	SetPossibleGranterRoles(ctx context.Context, id uuid.UUID, roles []shared.Role, at time.Time) error
	AddGranter(ctx context.Context, id uuid.UUID, userID string, at time.Time) error
	RemoveGranter(ctx context.Context, id uuid.UUID, userID string) error
	FindGrant(ctx context.Context, id uuid.UUID, userID string) (Grant, bool, error)
	InsertGrant(ctx context.Context, g Grant) error
	DeleteGrant(ctx context.Context, id uuid.UUID, userID string) error
}

// UserDirectory resolves grant targets and delegates.
type UserDirectory interface {
	FindUser(ctx context.Context, id string) (identity.User, error)
}

// Service enforces the registry rules.
type Service struct {
	repo  Repository
	users UserDirectory
	now   func() time.Time
}

// NewService constructs the registry service.
func NewService(repo Repository, users UserDirectory, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, users: users, now: now}
}

// Create defines a new permission. Only the system admin may call it.
func (s *Service) Create(ctx context.Context, caller shared.Principal, in NewPermission) (Permission, error) {
	if !caller.Role.IsAdmin() {
		return Permission{}, ErrAdminOnly
	}
	name, err := shared.ParsePermissionName(strings.TrimSpace(in.Name))
	if err != nil {
		return Permission{}, ErrDuplicateOrInvalidName
	}
	owner, err := shared.ParseRole(in.Owner)
	if err != nil {
		return Permission{}, err
	}
	possibleFor, err := parseRoleSet(in.PossibleForRoles)
	if err != nil {
		return Permission{}, err
	}
	possibleGranters, err := parseRoleSet(in.PossibleGranterRoles)
	if err != nil {
		return Permission{}, err
	}
	for _, r := range possibleGranters {
		if !r.IsEmployeeRole() {
			return Permission{}, ErrGranterRoleNotEmployee
		}
	}
	now := s.now()
	p := Permission{
		ID:                   uuid.New(),
		Name:                 name,
		Owner:                owner,
		PossibleForRoles:     possibleFor,
		PossibleGranterRoles: possibleGranters,
		Granters:             []string{},
		UsersWithPermission:  []string{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return Permission{}, err
	}
	return p, nil
}

// Get returns a permission to the admin, its owner role or one of its granters.
func (s *Service) Get(ctx context.Context, caller shared.Principal, id uuid.UUID) (Permission, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	if !caller.Role.IsAdmin() && !p.CanAdminister(caller) {
		return Permission{}, ErrNotOwner
	}
	return p, nil
}

// List pages through permissions. Callers other than the admin only see
// permissions their role owns.
func (s *Service) List(ctx context.Context, caller shared.Principal, f Filter) (ListResult, error) {
	if !caller.Role.IsAdmin() {
		f.Owner = caller.Role
	}
	if f.Page.Page <= 0 {
		f.Page.Page = 1
	}
	if f.Page.Limit <= 0 {
		f.Page.Limit = 10
	}
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return ListResult{}, err
	}
	if items == nil {
		items = []Permission{}
	}
	return ListResult{Pagination: shared.NewPagination(f.Page, total), Permissions: items}, nil
}

// Delete soft-deletes a permission. Existing grants are kept.
func (s *Service) Delete(ctx context.Context, caller shared.Principal, id uuid.UUID) error {
	if !caller.Role.IsAdmin() {
		return ErrAdminOnly
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.LockPermission(ctx, id)
		if err != nil {
			return err
		}
		if p.Deleted {
			return ErrAlreadyDeleted
		}
		return tx.SetDeleted(ctx, id, true, s.now())
	})
}

// Activate restores a soft-deleted permission with its grants.
func (s *Service) Activate(ctx context.Context, caller shared.Principal, id uuid.UUID) (Permission, error) {
	if !caller.Role.IsAdmin() {
		return Permission{}, ErrAdminOnly
	}
	var out Permission
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.LockPermission(ctx, id)
		if err != nil {
			return err
		}
		if !p.Deleted {
			return ErrNotDeleted
		}
		if err := tx.SetDeleted(ctx, id, false, s.now()); err != nil {
			return err
		}
		p.Deleted = false
		out = p
		return nil
	})
	return out, err
}

// AddPossibleForRole makes role eligible to receive grants.
func (s *Service) AddPossibleForRole(ctx context.Context, caller shared.Principal, id uuid.UUID, rawRole string) (Permission, error) {
	role, err := shared.ParseRole(rawRole)
	if err != nil {
		return Permission{}, err
	}
	return s.mutateOwned(ctx, caller, id, func(ctx context.Context, tx TxRepository, p *Permission) error {
		if shared.ContainsRole(p.PossibleForRoles, role) {
			return ErrRoleAlreadyPresent
		}
		p.PossibleForRoles = append(p.PossibleForRoles, role)
		return tx.SetPossibleForRoles(ctx, id, p.PossibleForRoles, s.now())
	})
}

// RemovePossibleForRole withdraws eligibility. Grants already held by users
// of that role stop satisfying checks but are not deleted.
func (s *Service) RemovePossibleForRole(ctx context.Context, caller shared.Principal, id uuid.UUID, rawRole string) (Permission, error) {
	role, err := shared.ParseRole(rawRole)
	if err != nil {
		return Permission{}, err
	}
	return s.mutateOwned(ctx, caller, id, func(ctx context.Context, tx TxRepository, p *Permission) error {
		next, ok := removeRole(p.PossibleForRoles, role)
		if !ok {
			return ErrRoleNotPresent
		}
		p.PossibleForRoles = next
		return tx.SetPossibleForRoles(ctx, id, next, s.now())
	})
}

// AddPossibleGranterRole makes an employee role eligible for delegation.
func (s *Service) AddPossibleGranterRole(ctx context.Context, caller shared.Principal, id uuid.UUID, rawRole string) (Permission, error) {
	role, err := shared.ParseRole(rawRole)
	if err != nil {
		return Permission{}, err
	}
	if !role.IsEmployeeRole() {
		return Permission{}, ErrGranterRoleNotEmployee
	}
	return s.mutateOwned(ctx, caller, id, func(ctx context.Context, tx TxRepository, p *Permission) error {
		if shared.ContainsRole(p.PossibleGranterRoles, role) {
			return ErrRoleAlreadyPresent
		}
		p.PossibleGranterRoles = append(p.PossibleGranterRoles, role)
		return tx.SetPossibleGranterRoles(ctx, id, p.PossibleGranterRoles, s.now())
	})
}

// RemovePossibleGranterRole withdraws delegation eligibility for role.
func (s *Service) RemovePossibleGranterRole(ctx context.Context, caller shared.Principal, id uuid.UUID, rawRole string) (Permission, error) {
	role, err := shared.ParseRole(rawRole)
	if err != nil {
		return Permission{}, err
	}
	return s.mutateOwned(ctx, caller, id, func(ctx context.Context, tx TxRepository, p *Permission) error {
		next, ok := removeRole(p.PossibleGranterRoles, role)
		if !ok {
			return ErrRoleNotPresent
		}
		p.PossibleGranterRoles = next
		return tx.SetPossibleGranterRoles(ctx, id, next, s.now())
	})
}

// AddGranter delegates grant/revoke authority to an employee whose current
// role is in PossibleGranterRoles.
func (s *Service) AddGranter(ctx context.Context, caller shared.Principal, id uuid.UUID, targetID string) (Permission, error) {
	return s.mutateOwned(ctx, caller, id, func(ctx context.Context, tx TxRepository, p *Permission) error {
		target, err := s.findTarget(ctx, targetID)
		if err != nil {
			return err
		}
		if target.Kind != shared.KindEmployee {
			return ErrGranterNotEmployee
		}
		role, ok := target.CurrentRole(s.now())
		if !ok || !shared.ContainsRole(p.PossibleGranterRoles, role) {
			return ErrNotEligible
		}
		if p.IsGranter(target.ID) {
			return ErrAlreadyGranter
		}
		if err := tx.AddGranter(ctx, id, target.ID, s.now()); err != nil {
			return err
		}
		p.Granters = append(p.Granters, target.ID)
		return nil
	})
}

// RemoveGranter withdraws delegated authority.
func (s *Service) RemoveGranter(ctx context.Context, caller shared.Principal, id uuid.UUID, targetID string) (Permission, error) {
	return s.mutateOwned(ctx, caller, id, func(ctx context.Context, tx TxRepository, p *Permission) error {
		if !p.IsGranter(targetID) {
			return ErrNotAGranter
		}
		if err := tx.RemoveGranter(ctx, id, targetID); err != nil {
			return err
		}
		p.Granters = removeString(p.Granters, targetID)
		return nil
	})
}

// Grant gives targetID the permission. Checks run in a fixed order: the
// permission must exist, the target must not already hold it, the caller
// must be the owner role or a delegate, and the target's current role must
// be eligible. The grant row is the only write.
func (s *Service) Grant(ctx context.Context, caller shared.Principal, id uuid.UUID, targetID string, endDate *time.Time) (Grant, error) {
	now := s.now()
	if endDate != nil && !endDate.After(now) {
		return Grant{}, ErrEndDateInPast
	}
	var out Grant
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.LockPermission(ctx, id)
		if err != nil {
			return err
		}
		if p.Deleted {
			return ErrPermissionNotFound
		}
		target, err := s.findTarget(ctx, targetID)
		if err != nil {
			return err
		}
		_, held, err := tx.FindGrant(ctx, id, target.ID)
		if err != nil {
			return err
		}
		if held {
			return ErrAlreadyGranted
		}
		if !p.CanAdminister(caller) {
			return ErrNotAuthorized
		}
		role, ok := target.CurrentRole(now)
		if !ok || !shared.ContainsRole(p.PossibleForRoles, role) {
			return ErrRoleNotEligible
		}
		out = Grant{PermissionID: id, UserID: target.ID, GrantedBy: caller.ID, StartDate: now, EndDate: endDate}
		return tx.InsertGrant(ctx, out)
	})
	if err != nil {
		return Grant{}, err
	}
	return out, nil
}

// Revoke removes targetID's grant. Authority follows the same rule as Grant.
func (s *Service) Revoke(ctx context.Context, caller shared.Principal, id uuid.UUID, targetID string) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.LockPermission(ctx, id)
		if err != nil {
			return err
		}
		if !p.CanAdminister(caller) {
			return ErrNotAuthorized
		}
		_, held, err := tx.FindGrant(ctx, id, targetID)
		if err != nil {
			return err
		}
		if !held {
			return ErrNotGranted
		}
		return tx.DeleteGrant(ctx, id, targetID)
	})
}

// GrantsForUser returns every grant the user holds with its definition.
func (s *Service) GrantsForUser(ctx context.Context, userID string) ([]ResolvedGrant, error) {
	return s.repo.GrantsForUser(ctx, userID)
}

func (s *Service) mutateOwned(ctx context.Context, caller shared.Principal, id uuid.UUID, fn func(context.Context, TxRepository, *Permission) error) (Permission, error) {
	var out Permission
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.LockPermission(ctx, id)
		if err != nil {
			return err
		}
		if p.Deleted {
			return ErrPermissionNotFound
		}
		if caller.Role != p.Owner {
			return ErrNotOwner
		}
		if err := fn(ctx, tx, &p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func (s *Service) findTarget(ctx context.Context, id string) (identity.User, error) {
	if s.users == nil {
		return identity.User{}, fmt.Errorf("permissions: user directory not configured")
	}
	user, err := s.users.FindUser(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return identity.User{}, ErrTargetNotFound
		}
		return identity.User{}, err
	}
	return user, nil
}

func parseRoleSet(raw []string) ([]shared.Role, error) {
	out := make([]shared.Role, 0, len(raw))
	for _, r := range raw {
		role, err := shared.ParseRole(r)
		if err != nil {
			return nil, err
		}
		if !shared.ContainsRole(out, role) {
			out = append(out, role)
		}
	}
	return out, nil
}

func removeRole(roles []shared.Role, role shared.Role) ([]shared.Role, bool) {
	out := make([]shared.Role, 0, len(roles))
	found := false
	for _, r := range roles {
		if r == role {
			found = true
			continue
		}
		out = append(out, r)
	}
	return out, found
}

func removeString(values []string, v string) []string {
	out := make([]string, 0, len(values))
	for _, candidate := range values {
		if candidate != v {
			out = append(out, candidate)
		}
	}
	return out
}
