package permissions

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unigate/unigate/internal/identity"
	"github.com/unigate/unigate/internal/shared"
)

type grantKey struct {
	permissionID uuid.UUID
	userID       string
}

type memoryRepo struct {
	perms  map[uuid.UUID]Permission
	grants map[grantKey]Grant
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{perms: make(map[uuid.UUID]Permission), grants: make(map[grantKey]Grant)}
}

// WithTx restores the previous state when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	perms := make(map[uuid.UUID]Permission, len(r.perms))
	for k, v := range r.perms {
		v.Granters = append([]string(nil), v.Granters...)
		v.PossibleForRoles = append([]shared.Role(nil), v.PossibleForRoles...)
		v.PossibleGranterRoles = append([]shared.Role(nil), v.PossibleGranterRoles...)
		perms[k] = v
	}
	grants := make(map[grantKey]Grant, len(r.grants))
	for k, v := range r.grants {
		grants[k] = v
	}
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.perms, r.grants = perms, grants
		return err
	}
	return nil
}

func (r *memoryRepo) Create(ctx context.Context, p Permission) error {
	for _, existing := range r.perms {
		if existing.Name == p.Name {
			return ErrDuplicateOrInvalidName
		}
	}
	r.perms[p.ID] = p
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id uuid.UUID) (Permission, error) {
	p, ok := r.perms[id]
	if !ok {
		return Permission{}, ErrPermissionNotFound
	}
	p.UsersWithPermission = r.holders(id)
	return p, nil
}

func (r *memoryRepo) List(ctx context.Context, f Filter) ([]Permission, int, error) {
	var matched []Permission
	for _, p := range r.perms {
		if f.Name != "" && !strings.Contains(strings.ToLower(string(p.Name)), strings.ToLower(f.Name)) {
			continue
		}
		if f.Owner != "" && p.Owner != f.Owner {
			continue
		}
		if f.Deleted != nil && p.Deleted != *f.Deleted {
			continue
		}
		p.UsersWithPermission = r.holders(p.ID)
		if !f.Matches(p) {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	total := len(matched)
	start := f.Page.Offset()
	if start > total {
		return nil, total, nil
	}
	end := start + f.Page.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *memoryRepo) GrantsForUser(ctx context.Context, userID string) ([]ResolvedGrant, error) {
	var out []ResolvedGrant
	for k, g := range r.grants {
		if k.userID != userID {
			continue
		}
		rg := ResolvedGrant{Grant: g}
		if p, ok := r.perms[k.permissionID]; ok {
			rg.Permission = &p
		}
		out = append(out, rg)
	}
	return out, nil
}

func (r *memoryRepo) holders(id uuid.UUID) []string {
	out := []string{}
	for k := range r.grants {
		if k.permissionID == id {
			out = append(out, k.userID)
		}
	}
	sort.Strings(out)
	return out
}

func (t *memoryTx) LockPermission(ctx context.Context, id uuid.UUID) (Permission, error) {
	return t.repo.Get(ctx, id)
}

func (t *memoryTx) SetDeleted(ctx context.Context, id uuid.UUID, deleted bool, at time.Time) error {
	p := t.repo.perms[id]
	p.Deleted = deleted
	p.UpdatedAt = at
	t.repo.perms[id] = p
	return nil
}

func (t *memoryTx) SetPossibleForRoles(ctx context.Context, id uuid.UUID, roles []shared.Role, at time.Time) error {
	p := t.repo.perms[id]
	p.PossibleForRoles = append([]shared.Role(nil), roles...)
	t.repo.perms[id] = p
	return nil
}

func (t *memoryTx) SetPossibleGranterRoles(ctx context.Context, id uuid.UUID, roles []shared.Role, at time.Time) error {
	p := t.repo.perms[id]
	p.PossibleGranterRoles = append([]shared.Role(nil), roles...)
	t.repo.perms[id] = p
	return nil
}

func (t *memoryTx) AddGranter(ctx context.Context, id uuid.UUID, userID string, at time.Time) error {
	p := t.repo.perms[id]
	p.Granters = append(p.Granters, userID)
	t.repo.perms[id] = p
	return nil
}

func (t *memoryTx) RemoveGranter(ctx context.Context, id uuid.UUID, userID string) error {
	p := t.repo.perms[id]
	p.Granters = removeString(p.Granters, userID)
	t.repo.perms[id] = p
	return nil
}

func (t *memoryTx) FindGrant(ctx context.Context, id uuid.UUID, userID string) (Grant, bool, error) {
	g, ok := t.repo.grants[grantKey{id, userID}]
	return g, ok, nil
}

func (t *memoryTx) InsertGrant(ctx context.Context, g Grant) error {
	t.repo.grants[grantKey{g.PermissionID, g.UserID}] = g
	return nil
}

func (t *memoryTx) DeleteGrant(ctx context.Context, id uuid.UUID, userID string) error {
	delete(t.repo.grants, grantKey{id, userID})
	return nil
}

type memoryUsers map[string]identity.User

func (m memoryUsers) FindUser(ctx context.Context, id string) (identity.User, error) {
	u, ok := m[id]
	if !ok {
		return identity.User{}, identity.ErrUserNotFound
	}
	return u, nil
}

func employee(id string, title shared.Role, since time.Time) identity.User {
	return identity.User{
		ID:        id,
		Kind:      shared.KindEmployee,
		Positions: []identity.Position{{ID: 1, Title: title, StartDate: since}},
	}
}

func student(id string) identity.User {
	return identity.User{ID: id, Kind: shared.KindStudent}
}
