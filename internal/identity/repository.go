package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unigate/unigate/internal/platform/db"
	"github.com/unigate/unigate/internal/shared"
)

// PGRepository stores users in Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres-backed repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type pgTx struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

const selectUser = `SELECT id, kind, name, email, password_hash, deleted, created_at, updated_at FROM users WHERE id = $1`

// FindUser loads a non-deleted user with positions.
func (r *PGRepository) FindUser(ctx context.Context, id string) (User, error) {
	user, err := loadUser(ctx, r.pool, selectUser, id)
	if err != nil {
		return User{}, err
	}
	if user.Deleted {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// Exists ignores the deleted flag.
func (r *PGRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("identity: exists: %w", err)
	}
	return exists, nil
}

// UpdatePassword stores a new hash.
func (r *PGRepository) UpdatePassword(ctx context.Context, id, hash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1 AND NOT deleted`, id, hash)
	if err != nil {
		return fmt.Errorf("identity: update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateEmail replaces the contact email of a live user.
func (r *PGRepository) UpdateEmail(ctx context.Context, id, email string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET email = $2, updated_at = NOW() WHERE id = $1 AND NOT deleted`, id, email)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("identity: update email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetResetToken stores the hash of a password reset token, replacing any
// earlier one.
func (r *PGRepository) SetResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET reset_token_hash = $2, reset_token_expires = $3 WHERE id = $1 AND NOT deleted`, id, tokenHash, expires)
	if err != nil {
		return fmt.Errorf("identity: set reset token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ResetPassword redeems an unexpired reset token of a user of kind, stores
// the new hash and clears the token in one statement.
func (r *PGRepository) ResetPassword(ctx context.Context, kind shared.UserKind, tokenHash, passwordHash string, now time.Time) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `UPDATE users
SET password_hash = $3, reset_token_hash = NULL, reset_token_expires = NULL, updated_at = $4
WHERE reset_token_hash = $1 AND kind = $2 AND reset_token_expires > $4 AND NOT deleted
RETURNING id`, tokenHash, string(kind), passwordHash, now).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrResetTokenInvalid
		}
		return "", fmt.Errorf("identity: reset password: %w", err)
	}
	return id, nil
}

// SoftDelete flags the user as deleted.
func (r *PGRepository) SoftDelete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET deleted = TRUE, updated_at = NOW() WHERE id = $1 AND NOT deleted`, id)
	if err != nil {
		return fmt.Errorf("identity: soft delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// NextSequence increments and returns the named counter, creating it at 1.
func (t *pgTx) NextSequence(ctx context.Context, counter string) (int, error) {
	var seq int
	err := t.tx.QueryRow(ctx, `INSERT INTO id_counters (name, seq) VALUES ($1, 1)
ON CONFLICT (name) DO UPDATE SET seq = id_counters.seq + 1
RETURNING seq`, counter).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("identity: next sequence: %w", err)
	}
	return seq, nil
}

// InsertUser stores a new user row.
func (t *pgTx) InsertUser(ctx context.Context, u User) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO users (id, kind, name, email, password_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)`, u.ID, string(u.Kind), u.Name, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("identity: insert user: %w", err)
	}
	return nil
}

// LockUser loads a user row FOR UPDATE so concurrent position changes serialise.
func (t *pgTx) LockUser(ctx context.Context, id string) (User, error) {
	user, err := loadUser(ctx, t.tx, selectUser+" FOR UPDATE", id)
	if err != nil {
		return User{}, err
	}
	if user.Deleted {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// ClosePosition sets the end date of an open position.
func (t *pgTx) ClosePosition(ctx context.Context, positionID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE positions SET end_date = $2 WHERE id = $1 AND end_date IS NULL`, positionID, at)
	if err != nil {
		return fmt.Errorf("identity: close position: %w", err)
	}
	return nil
}

// InsertPosition stores a position and returns its ID.
func (t *pgTx) InsertPosition(ctx context.Context, employeeID string, p Position) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO positions (employee_id, title, department_id, start_date, end_date)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, employeeID, string(p.Title), p.DepartmentID, p.StartDate, p.EndDate).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("identity: insert position: %w", err)
	}
	return id, nil
}

func loadUser(ctx context.Context, q db.Querier, query, id string) (User, error) {
	var (
		u    User
		kind string
	)
	err := q.QueryRow(ctx, query, id).Scan(&u.ID, &kind, &u.Name, &u.Email, &u.PasswordHash, &u.Deleted, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("identity: find user: %w", err)
	}
	u.Kind = shared.UserKind(kind)
	rows, err := q.Query(ctx, `SELECT id, title, department_id, start_date, end_date FROM positions
WHERE employee_id = $1 ORDER BY start_date`, id)
	if err != nil {
		return User{}, fmt.Errorf("identity: list positions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p     Position
			title string
		)
		if err := rows.Scan(&p.ID, &title, &p.DepartmentID, &p.StartDate, &p.EndDate); err != nil {
			return User{}, fmt.Errorf("identity: scan position: %w", err)
		}
		p.Title = shared.Role(title)
		u.Positions = append(u.Positions, p)
	}
	if err := rows.Err(); err != nil {
		return User{}, fmt.Errorf("identity: list positions: %w", err)
	}
	return u, nil
}
