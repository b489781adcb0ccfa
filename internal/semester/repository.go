package semester

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unigate/unigate/internal/platform/db"
)

// PGRepository stores semesters in Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres-backed repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const semesterColumns = `id, name, start_date, end_date, enrollment_start_date, enrollment_end_date,
midterm_exams_start_date, midterm_exams_end_date, final_exams_start_date, final_exams_end_date,
created_at, updated_at`

// Create inserts a semester; a duplicate ID is reported as ErrSemesterExists.
func (r *PGRepository) Create(ctx context.Context, s Semester) error {
	sc := s.Schedule
	_, err := r.pool.Exec(ctx, `INSERT INTO semesters (`+semesterColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		s.ID, s.Name, sc.StartDate, sc.EndDate, sc.EnrollmentStartDate, sc.EnrollmentEndDate,
		sc.MidtermExamsStartDate, sc.MidtermExamsEndDate, sc.FinalExamsStartDate, sc.FinalExamsEndDate, s.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrSemesterExists
		}
		return fmt.Errorf("semester: insert: %w", err)
	}
	return nil
}

// Get loads one semester.
func (r *PGRepository) Get(ctx context.Context, id string) (Semester, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+semesterColumns+` FROM semesters WHERE id = $1`, id)
	s, err := scanSemester(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Semester{}, ErrSemesterNotFound
	}
	return s, err
}

// List pages through semesters, newest first.
func (r *PGRepository) List(ctx context.Context, f Filter) ([]Semester, int, error) {
	var (
		clauses []string
		args    []any
	)
	if name := strings.TrimSpace(f.Name); name != "" {
		args = append(args, "%"+name+"%")
		clauses = append(clauses, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if f.ActiveAt != nil {
		args = append(args, *f.ActiveAt)
		clauses = append(clauses, fmt.Sprintf("start_date <= $%d AND end_date >= $%d", len(args), len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM semesters`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("semester: count: %w", err)
	}
	args = append(args, f.Page.Limit, f.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM semesters%s ORDER BY start_date DESC LIMIT $%d OFFSET $%d`,
		semesterColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("semester: list: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Semester, error) {
		return scanSemester(row)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("semester: list: %w", err)
	}
	return items, total, nil
}

// Update replaces name and schedule of an existing semester.
func (r *PGRepository) Update(ctx context.Context, s Semester) error {
	sc := s.Schedule
	tag, err := r.pool.Exec(ctx, `UPDATE semesters SET name = $2, start_date = $3, end_date = $4,
enrollment_start_date = $5, enrollment_end_date = $6, midterm_exams_start_date = $7,
midterm_exams_end_date = $8, final_exams_start_date = $9, final_exams_end_date = $10, updated_at = $11
WHERE id = $1`,
		s.ID, s.Name, sc.StartDate, sc.EndDate, sc.EnrollmentStartDate, sc.EnrollmentEndDate,
		sc.MidtermExamsStartDate, sc.MidtermExamsEndDate, sc.FinalExamsStartDate, sc.FinalExamsEndDate, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("semester: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSemesterNotFound
	}
	return nil
}

// Delete removes a semester and returns what was removed.
func (r *PGRepository) Delete(ctx context.Context, id string) (Semester, error) {
	row := r.pool.QueryRow(ctx, `DELETE FROM semesters WHERE id = $1 RETURNING `+semesterColumns, id)
	s, err := scanSemester(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Semester{}, ErrSemesterNotFound
	}
	return s, err
}

// Current returns the semester running at t. When windows overlap the one
// that started last wins.
func (r *PGRepository) Current(ctx context.Context, at time.Time) (Semester, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+semesterColumns+` FROM semesters
WHERE start_date <= $1 AND end_date >= $1 ORDER BY start_date DESC LIMIT 1`, at)
	s, err := scanSemester(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Semester{}, ErrNoCurrentSemester
	}
	return s, err
}

func scanSemester(row pgx.Row) (Semester, error) {
	var s Semester
	sc := &s.Schedule
	err := row.Scan(&s.ID, &s.Name, &sc.StartDate, &sc.EndDate, &sc.EnrollmentStartDate, &sc.EnrollmentEndDate,
		&sc.MidtermExamsStartDate, &sc.MidtermExamsEndDate, &sc.FinalExamsStartDate, &sc.FinalExamsEndDate,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Semester{}, err
		}
		return Semester{}, fmt.Errorf("semester: scan: %w", err)
	}
	return s, nil
}
