package rbac

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unigate/unigate/internal/audit"
	"github.com/unigate/unigate/internal/identity"
	"github.com/unigate/unigate/internal/permissions"
	"github.com/unigate/unigate/internal/shared"
)

var errBackend = errors.New("connection reset")

type stubGrants struct {
	byUser map[string][]permissions.ResolvedGrant
	err    error
	calls  int
}

func (s *stubGrants) GrantsForUser(ctx context.Context, userID string) ([]permissions.ResolvedGrant, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.byUser[userID], nil
}

type stubUsers struct {
	users map[string]identity.User
	err   error
}

func (s *stubUsers) FindUser(ctx context.Context, id string) (identity.User, error) {
	if s.err != nil {
		return identity.User{}, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return identity.User{}, identity.ErrUserNotFound
	}
	return u, nil
}

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingSink) Record(ctx context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingSink) all() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

var testNow = time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

func createCourse(forRoles ...shared.Role) *permissions.Permission {
	return &permissions.Permission{
		ID:               uuid.New(),
		Name:             shared.PermCreateCourse,
		Owner:            shared.RoleDeanOfAcademicAffairs,
		PossibleForRoles: forRoles,
	}
}

func grantOf(p *permissions.Permission, userID string, start time.Time, end *time.Time) permissions.ResolvedGrant {
	var id uuid.UUID
	if p != nil {
		id = p.ID
	}
	return permissions.ResolvedGrant{
		Grant:      permissions.Grant{PermissionID: id, UserID: userID, StartDate: start, EndDate: end},
		Permission: p,
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func instructor(id string) shared.Principal {
	return shared.Principal{ID: id, Role: shared.RoleInstructor, Kind: shared.KindEmployee}
}

func knownUsers(ids ...string) *stubUsers {
	users := make(map[string]identity.User, len(ids))
	for _, id := range ids {
		users[id] = identity.User{ID: id, Kind: shared.KindEmployee}
	}
	return &stubUsers{users: users}
}
