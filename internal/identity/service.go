package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/unigate/unigate/internal/shared"
)

// Repository persists users and positions.
type Repository interface {
	FindUser(ctx context.Context, id string) (User, error)
	Exists(ctx context.Context, id string) (bool, error)
	UpdatePassword(ctx context.Context, id, hash string) error
	UpdateEmail(ctx context.Context, id, email string) error
	SetResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error
	ResetPassword(ctx context.Context, kind shared.UserKind, tokenHash, passwordHash string, now time.Time) (string, error)
	SoftDelete(ctx context.Context, id string) error
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the writes that must commit together.
type TxRepository interface {
	NextSequence(ctx context.Context, counter string) (int, error)
	InsertUser(ctx context.Context, u User) error
	LockUser(ctx context.Context, id string) (User, error)
	ClosePosition(ctx context.Context, positionID int64, at time.Time) error
	InsertPosition(ctx context.Context, employeeID string, p Position) (int64, error)
}

const defaultResetTokenTTL = 10 * time.Minute

// Service implements the identity store operations.
type Service struct {
	repo       Repository
	now        func() time.Time
	bcryptCost int
	resetTTL   time.Duration
}

// Option customises Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBcryptCost overrides the hashing cost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// WithResetTokenTTL sets how long a password reset token stays valid.
func WithResetTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// NewService constructs the identity service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now, bcryptCost: bcrypt.DefaultCost, resetTTL: defaultResetTokenTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateStudent registers a student with a generated S-prefixed ID.
func (s *Service) CreateStudent(ctx context.Context, in NewStudent) (User, error) {
	hash, err := s.hash(in.Password)
	if err != nil {
		return User{}, err
	}
	now := s.now()
	user := User{
		Kind:         shared.KindStudent,
		Name:         strings.TrimSpace(in.Name),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := s.nextID(ctx, tx, shared.KindStudent, now)
		if err != nil {
			return err
		}
		user.ID = id
		return tx.InsertUser(ctx, user)
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// CreateEmployee registers an employee together with their first position.
func (s *Service) CreateEmployee(ctx context.Context, in NewEmployee) (User, error) {
	title, err := parseTitle(in.Title)
	if err != nil {
		return User{}, err
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return User{}, err
	}
	now := s.now()
	user := User{
		Kind:         shared.KindEmployee,
		Name:         strings.TrimSpace(in.Name),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	pos := Position{Title: title, DepartmentID: in.DepartmentID, StartDate: now}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := s.nextID(ctx, tx, shared.KindEmployee, now)
		if err != nil {
			return err
		}
		user.ID = id
		if err := tx.InsertUser(ctx, user); err != nil {
			return err
		}
		pos.ID, err = tx.InsertPosition(ctx, id, pos)
		return err
	})
	if err != nil {
		return User{}, err
	}
	user.Positions = []Position{pos}
	return user, nil
}

// FindUser returns a non-deleted user.
func (s *Service) FindUser(ctx context.Context, id string) (User, error) {
	return s.repo.FindUser(ctx, id)
}

// Exists reports whether any record, deleted or not, carries id.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	return s.repo.Exists(ctx, id)
}

// CurrentRole derives the user's effective role now. The second result is
// false for an employee without an active position.
func (s *Service) CurrentRole(ctx context.Context, id string) (shared.Role, bool, error) {
	user, err := s.repo.FindUser(ctx, id)
	if err != nil {
		return "", false, err
	}
	role, ok := user.CurrentRole(s.now())
	return role, ok, nil
}

// AddPosition moves an employee to a new title. Any open position is closed
// at the same instant inside the same transaction, so at most one position
// is ever open.
func (s *Service) AddPosition(ctx context.Context, employeeID string, in NewPosition) (Position, error) {
	title, err := parseTitle(in.Title)
	if err != nil {
		return Position{}, err
	}
	now := s.now()
	pos := Position{Title: title, DepartmentID: in.DepartmentID, StartDate: now}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		user, err := tx.LockUser(ctx, employeeID)
		if err != nil {
			return err
		}
		if user.Kind != shared.KindEmployee {
			return ErrNotEmployee
		}
		if open, ok := user.OpenPosition(); ok {
			if err := tx.ClosePosition(ctx, open.ID, now); err != nil {
				return err
			}
		}
		pos.ID, err = tx.InsertPosition(ctx, employeeID, pos)
		return err
	})
	if err != nil {
		return Position{}, err
	}
	return pos, nil
}

// EndPosition closes the employee's open position, leaving them without a role.
func (s *Service) EndPosition(ctx context.Context, employeeID string) error {
	now := s.now()
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		user, err := tx.LockUser(ctx, employeeID)
		if err != nil {
			return err
		}
		if user.Kind != shared.KindEmployee {
			return ErrNotEmployee
		}
		open, ok := user.OpenPosition()
		if !ok {
			return ErrNoOpenPosition
		}
		return tx.ClosePosition(ctx, open.ID, now)
	})
}

// SoftDelete marks a user of the given kind as deleted.
func (s *Service) SoftDelete(ctx context.Context, id string, kind shared.UserKind) error {
	user, err := s.repo.FindUser(ctx, id)
	if err != nil {
		return err
	}
	if user.Kind != kind {
		return ErrKindMismatch
	}
	return s.repo.SoftDelete(ctx, id)
}

// VerifyPassword compares a plaintext password with the stored hash.
func VerifyPassword(u User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, id, current, next string) error {
	user, err := s.repo.FindUser(ctx, id)
	if err != nil {
		return err
	}
	if !VerifyPassword(user, current) {
		return ErrWrongPassword
	}
	hash, err := s.hash(next)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, id, hash)
}

// UpdateEmail changes a user's contact email.
func (s *Service) UpdateEmail(ctx context.Context, id, email string) (User, error) {
	if err := s.repo.UpdateEmail(ctx, id, strings.TrimSpace(email)); err != nil {
		return User{}, err
	}
	return s.repo.FindUser(ctx, id)
}

// IssueResetToken creates a password reset token for a user of kind. Only
// its SHA-256 hash is stored; the raw token is returned once.
func (s *Service) IssueResetToken(ctx context.Context, kind shared.UserKind, id string) (string, error) {
	user, err := s.repo.FindUser(ctx, id)
	if err != nil {
		return "", err
	}
	if user.Kind != kind {
		return "", ErrUserNotFound
	}
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("identity: reset token: %w", err)
	}
	token := hex.EncodeToString(raw)
	if err := s.repo.SetResetToken(ctx, user.ID, HashResetToken(token), s.now().Add(s.resetTTL)); err != nil {
		return "", err
	}
	return token, nil
}

// ResetPassword redeems a reset token and returns the ID of the user whose
// password changed. Tokens are single use.
func (s *Service) ResetPassword(ctx context.Context, kind shared.UserKind, token, next string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrResetTokenInvalid
	}
	hash, err := s.hash(next)
	if err != nil {
		return "", err
	}
	return s.repo.ResetPassword(ctx, kind, HashResetToken(token), hash, s.now())
}

// HashResetToken is the stored form of a reset token.
func HashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *Service) hash(password string) (string, error) {
	if len(password) < 8 {
		return "", ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password too long", shared.ErrValidation)
		}
		return "", fmt.Errorf("identity: hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) nextID(ctx context.Context, tx TxRepository, kind shared.UserKind, now time.Time) (string, error) {
	seq, err := tx.NextSequence(ctx, CounterName(kind, now.Year()))
	if err != nil {
		return "", err
	}
	return FormatID(kind, now.Year(), seq), nil
}

// CounterName is the per-year sequence key for kind.
func CounterName(kind shared.UserKind, year int) string {
	return fmt.Sprintf("%s-%d", strings.ToLower(string(kind)), year)
}

// FormatID renders the kind prefix, year and a four-digit sequence.
func FormatID(kind shared.UserKind, year, seq int) string {
	return fmt.Sprintf("%s%d%04d", kind.IDPrefix(), year, seq)
}

func parseTitle(raw string) (shared.Role, error) {
	role := shared.Role(strings.TrimSpace(raw))
	if !role.IsEmployeeRole() {
		return "", ErrInvalidTitle
	}
	return role, nil
}
