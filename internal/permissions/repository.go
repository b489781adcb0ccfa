package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unigate/unigate/internal/platform/db"
	"github.com/unigate/unigate/internal/shared"
)

// PGRepository stores the registry in Postgres. Grants live only in
// permission_grants; the holder list of a permission and the grant list of
// a user are two queries over that table.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres-backed registry store.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type pgTx struct {
	tx pgx.Tx
}

const selectPermission = `SELECT id, name, owner, possible_for_roles, possible_granter_roles, deleted, created_at, updated_at FROM permissions`

// WithTx wraps callback in repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

// Create inserts a definition; a second definition of the same name fails.
func (r *PGRepository) Create(ctx context.Context, p Permission) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO permissions (id, name, owner, possible_for_roles, possible_granter_roles, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)`, p.ID, string(p.Name), string(p.Owner), rolesToText(p.PossibleForRoles), rolesToText(p.PossibleGranterRoles), p.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateOrInvalidName
		}
		return fmt.Errorf("permissions: create: %w", err)
	}
	return nil
}

// Get loads a definition with its granters and current holders.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (Permission, error) {
	return loadPermission(ctx, r.pool, selectPermission+" WHERE id = $1", id)
}

// List pages through definitions.
func (r *PGRepository) List(ctx context.Context, f Filter) ([]Permission, int, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Name != "" {
		args = append(args, "%"+f.Name+"%")
		clauses = append(clauses, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if f.Owner != "" {
		args = append(args, string(f.Owner))
		clauses = append(clauses, fmt.Sprintf("owner = $%d", len(args)))
	}
	if f.Deleted != nil {
		args = append(args, *f.Deleted)
		clauses = append(clauses, fmt.Sprintf("deleted = $%d", len(args)))
	}
	if len(f.PossibleForRoles) > 0 {
		args = append(args, rolesToText(f.PossibleForRoles))
		clauses = append(clauses, fmt.Sprintf("possible_for_roles && $%d", len(args)))
	}
	if len(f.PossibleGranterRoles) > 0 {
		args = append(args, rolesToText(f.PossibleGranterRoles))
		clauses = append(clauses, fmt.Sprintf("possible_granter_roles && $%d", len(args)))
	}
	if len(f.Granters) > 0 {
		args = append(args, f.Granters)
		clauses = append(clauses, fmt.Sprintf("EXISTS (SELECT 1 FROM permission_granters pg WHERE pg.permission_id = permissions.id AND pg.user_id = ANY($%d))", len(args)))
	}
	if len(f.UsersWithPermission) > 0 {
		args = append(args, f.UsersWithPermission)
		clauses = append(clauses, fmt.Sprintf("EXISTS (SELECT 1 FROM permission_grants g WHERE g.permission_id = permissions.id AND g.user_id = ANY($%d))", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM permissions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("permissions: count: %w", err)
	}
	args = append(args, f.Page.Limit, f.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf("%s%s ORDER BY name LIMIT $%d OFFSET $%d", selectPermission, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("permissions: list: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanPermission)
	if err != nil {
		return nil, 0, fmt.Errorf("permissions: list: %w", err)
	}
	for i := range items {
		if err := attachRelations(ctx, r.pool, &items[i]); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

// GrantsForUser joins the user's grants with their definitions.
func (r *PGRepository) GrantsForUser(ctx context.Context, userID string) ([]ResolvedGrant, error) {
	rows, err := r.pool.Query(ctx, `SELECT g.permission_id, g.user_id, g.granted_by, g.start_date, g.end_date,
       p.id, p.name, p.owner, p.possible_for_roles, p.deleted
FROM permission_grants g
LEFT JOIN permissions p ON p.id = g.permission_id
WHERE g.user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("permissions: grants for user: %w", err)
	}
	defer rows.Close()
	var out []ResolvedGrant
	for rows.Next() {
		var (
			rg          ResolvedGrant
			pid         *uuid.UUID
			name, owner *string
			possibleFor []string
			deleted     *bool
		)
		if err := rows.Scan(&rg.PermissionID, &rg.UserID, &rg.GrantedBy, &rg.StartDate, &rg.EndDate, &pid, &name, &owner, &possibleFor, &deleted); err != nil {
			return nil, fmt.Errorf("permissions: scan grant: %w", err)
		}
		if pid != nil {
			rg.Permission = &Permission{
				ID:               *pid,
				Name:             shared.PermissionName(deref(name)),
				Owner:            shared.Role(deref(owner)),
				PossibleForRoles: textToRoles(possibleFor),
				Deleted:          deleted != nil && *deleted,
			}
		}
		out = append(out, rg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("permissions: grants for user: %w", err)
	}
	return out, nil
}

// LockPermission selects the row FOR UPDATE.
func (t *pgTx) LockPermission(ctx context.Context, id uuid.UUID) (Permission, error) {
	return loadPermission(ctx, t.tx, selectPermission+" WHERE id = $1 FOR UPDATE", id)
}

func (t *pgTx) SetDeleted(ctx context.Context, id uuid.UUID, deleted bool, at time.Time) error {
	return t.exec(ctx, "set deleted", `UPDATE permissions SET deleted = $2, updated_at = $3 WHERE id = $1`, id, deleted, at)
}

func (t *pgTx) SetPossibleForRoles(ctx context.Context, id uuid.UUID, roles []shared.Role, at time.Time) error {
	return t.exec(ctx, "set possible for roles", `UPDATE permissions SET possible_for_roles = $2, updated_at = $3 WHERE id = $1`, id, rolesToText(roles), at)
}

func (t *pgTx) SetPossibleGranterRoles(ctx context.Context, id uuid.UUID, roles []shared.Role, at time.Time) error {
	return t.exec(ctx, "set possible granter roles", `UPDATE permissions SET possible_granter_roles = $2, updated_at = $3 WHERE id = $1`, id, rolesToText(roles), at)
}

func (t *pgTx) AddGranter(ctx context.Context, id uuid.UUID, userID string, at time.Time) error {
	return t.exec(ctx, "add granter", `INSERT INTO permission_granters (permission_id, user_id, added_at) VALUES ($1, $2, $3)`, id, userID, at)
}

func (t *pgTx) RemoveGranter(ctx context.Context, id uuid.UUID, userID string) error {
	return t.exec(ctx, "remove granter", `DELETE FROM permission_granters WHERE permission_id = $1 AND user_id = $2`, id, userID)
}

func (t *pgTx) FindGrant(ctx context.Context, id uuid.UUID, userID string) (Grant, bool, error) {
	var g Grant
	err := t.tx.QueryRow(ctx, `SELECT permission_id, user_id, granted_by, start_date, end_date
FROM permission_grants WHERE permission_id = $1 AND user_id = $2`, id, userID).
		Scan(&g.PermissionID, &g.UserID, &g.GrantedBy, &g.StartDate, &g.EndDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return Grant{}, false, nil
	}
	if err != nil {
		return Grant{}, false, fmt.Errorf("permissions: find grant: %w", err)
	}
	return g, true, nil
}

func (t *pgTx) InsertGrant(ctx context.Context, g Grant) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO permission_grants (permission_id, user_id, granted_by, start_date, end_date)
VALUES ($1, $2, $3, $4, $5)`, g.PermissionID, g.UserID, g.GrantedBy, g.StartDate, g.EndDate)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrAlreadyGranted
		}
		return fmt.Errorf("permissions: insert grant: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteGrant(ctx context.Context, id uuid.UUID, userID string) error {
	return t.exec(ctx, "delete grant", `DELETE FROM permission_grants WHERE permission_id = $1 AND user_id = $2`, id, userID)
}

func (t *pgTx) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("permissions: %s: %w", op, err)
	}
	return nil
}

func loadPermission(ctx context.Context, q db.Querier, query string, id uuid.UUID) (Permission, error) {
	rows, err := q.Query(ctx, query, id)
	if err != nil {
		return Permission{}, fmt.Errorf("permissions: get: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPermission)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrPermissionNotFound
		}
		return Permission{}, fmt.Errorf("permissions: get: %w", err)
	}
	if err := attachRelations(ctx, q, &p); err != nil {
		return Permission{}, err
	}
	return p, nil
}

func scanPermission(row pgx.CollectableRow) (Permission, error) {
	var (
		p                         Permission
		name, owner               string
		possibleFor, possibleGrnt []string
	)
	if err := row.Scan(&p.ID, &name, &owner, &possibleFor, &possibleGrnt, &p.Deleted, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Permission{}, err
	}
	p.Name = shared.PermissionName(name)
	p.Owner = shared.Role(owner)
	p.PossibleForRoles = textToRoles(possibleFor)
	p.PossibleGranterRoles = textToRoles(possibleGrnt)
	return p, nil
}

func attachRelations(ctx context.Context, q db.Querier, p *Permission) error {
	granters, err := collectIDs(ctx, q, `SELECT user_id FROM permission_granters WHERE permission_id = $1 ORDER BY added_at`, p.ID)
	if err != nil {
		return fmt.Errorf("permissions: granters: %w", err)
	}
	holders, err := collectIDs(ctx, q, `SELECT user_id FROM permission_grants WHERE permission_id = $1 ORDER BY start_date`, p.ID)
	if err != nil {
		return fmt.Errorf("permissions: holders: %w", err)
	}
	p.Granters = granters
	p.UsersWithPermission = holders
	return nil
}

func collectIDs(ctx context.Context, q db.Querier, query string, id uuid.UUID) ([]string, error) {
	rows, err := q.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func rolesToText(roles []shared.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func textToRoles(values []string) []shared.Role {
	out := make([]shared.Role, len(values))
	for i, v := range values {
		out[i] = shared.Role(v)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
