package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unigate/unigate/internal/shared"
)

// PGStore keeps audit entries in the audit_logs table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Postgres store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Insert persists one entry.
func (s *PGStore) Insert(ctx context.Context, e Entry) error {
	var data []byte
	if e.Data != nil {
		encoded, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("audit: encode data: %w", err)
		}
		data = encoded
	}
	var errText *string
	if e.Error != "" {
		errText = &e.Error
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO audit_logs (id, action, status, user_id, user_kind, error, data, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, e.ID, e.Action, e.Status, e.UserID, string(e.UserKind), errText, data, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// List returns one page of entries matching f, newest first, plus the total.
func (s *PGStore) List(ctx context.Context, f Filters) ([]Entry, int, error) {
	where, args := buildWhere(f)
	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("audit: count: %w", err)
	}
	args = append(args, f.Page.Limit, f.Page.Offset())
	query := fmt.Sprintf(`SELECT id, action, status, user_id, user_kind, COALESCE(error, ''), data, created_at FROM audit_logs%s
ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("audit: list: %w", err)
	}
	return entries, total, nil
}

// Get loads one entry.
func (s *PGStore) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, action, status, user_id, user_kind, COALESCE(error, ''), data, created_at
FROM audit_logs WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	return e, err
}

// DeleteBefore removes entries created before cutoff.
func (s *PGStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: delete before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e    Entry
		kind string
		data []byte
	)
	if err := row.Scan(&e.ID, &e.Action, &e.Status, &e.UserID, &kind, &e.Error, &data, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("audit: scan: %w", err)
	}
	e.UserKind = shared.UserKind(kind)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return Entry{}, fmt.Errorf("audit: decode data: %w", err)
		}
	}
	return e, nil
}

func buildWhere(f Filters) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Status != 0 {
		add("status = $%d", f.Status)
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.UserKind != "" {
		add("user_kind = $%d", f.UserKind)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
