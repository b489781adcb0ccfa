// Package auth authenticates students and employees and turns bearer tokens
// back into request principals.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/unigate/unigate/internal/identity"
	"github.com/unigate/unigate/internal/shared"
	"github.com/unigate/unigate/internal/token"
)

var (
	// ErrNoActivePosition is returned when an employee has no current title.
	ErrNoActivePosition = shared.NewError(shared.ErrAuthentication, "No active position in the system")
	// ErrRefreshInvalid covers every refresh token that cannot be redeemed.
	ErrRefreshInvalid = shared.NewError(shared.ErrAuthentication, "Invalid or expired refresh token")

	errResetUnavailable = errors.New("auth: password reset not configured")
)

// Users is the part of the identity store authentication needs.
type Users interface {
	FindUser(ctx context.Context, id string) (identity.User, error)
	Exists(ctx context.Context, id string) (bool, error)
	ChangePassword(ctx context.Context, id, current, next string) error
}

// Tokens issues and verifies signed tokens.
type Tokens interface {
	IssueAccessToken(p shared.Principal) (string, error)
	IssueRefreshToken(p shared.Principal) (string, error)
	Verify(raw string, kind token.Kind) (*token.Claims, error)
}

// PasswordResets issues and redeems single-use password reset tokens.
type PasswordResets interface {
	IssueResetToken(ctx context.Context, kind shared.UserKind, id string) (string, error)
	ResetPassword(ctx context.Context, kind shared.UserKind, token, next string) (string, error)
}

// Session is the pair of tokens returned by a successful login.
type Session struct {
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	User         identity.User `json:"user"`
}

// Service wraps authentication business rules.
type Service struct {
	users  Users
	tokens Tokens
	resets PasswordResets
	now    func() time.Time
}

// ServiceOption customises Service.
type ServiceOption func(*Service)

// WithPasswordResets enables the forgot and reset password flow.
func WithPasswordResets(resets PasswordResets) ServiceOption {
	return func(s *Service) { s.resets = resets }
}

// NewService constructs a new Service.
func NewService(users Users, tokens Tokens, now func() time.Time, opts ...ServiceOption) *Service {
	if now == nil {
		now = time.Now
	}
	s := &Service{users: users, tokens: tokens, now: now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login checks credentials for a user of the given kind and issues both
// tokens. The role is derived once here and frozen into the claims.
func (s *Service) Login(ctx context.Context, kind shared.UserKind, rawID, password string) (Session, error) {
	id := NormalizeID(kind, rawID)
	user, err := s.users.FindUser(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Session{}, shared.ErrInvalidCredentials
		}
		return Session{}, err
	}
	if user.Kind != kind || !identity.VerifyPassword(user, password) {
		return Session{}, shared.ErrInvalidCredentials
	}
	role, ok := user.CurrentRole(s.now())
	if !ok {
		return Session{}, ErrNoActivePosition
	}
	principal := shared.Principal{ID: user.ID, Role: role, Kind: user.Kind}
	access, err := s.tokens.IssueAccessToken(principal)
	if err != nil {
		return Session{}, err
	}
	refresh, err := s.tokens.IssueRefreshToken(principal)
	if err != nil {
		return Session{}, err
	}
	user.Positions = nil
	return Session{AccessToken: access, RefreshToken: refresh, User: user}, nil
}

// Refresh redeems a refresh token for a new access token carrying the same
// claims. Only the subject's existence is checked; deletion and role
// changes are not.
func (s *Service) Refresh(ctx context.Context, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", shared.NewError(shared.ErrAuthentication, "No refresh token provided")
	}
	claims, err := s.tokens.Verify(raw, token.Refresh)
	if err != nil {
		return "", ErrRefreshInvalid
	}
	exists, err := s.users.Exists(ctx, claims.UserID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", identity.ErrUserNotFound
	}
	return s.tokens.IssueAccessToken(claims.Principal())
}

// ChangePassword replaces the caller's password.
func (s *Service) ChangePassword(ctx context.Context, caller shared.Principal, current, next string) error {
	return s.users.ChangePassword(ctx, caller.ID, current, next)
}

// ForgotPassword issues a reset token for the user of kind identified by
// rawID, which may omit its prefix.
func (s *Service) ForgotPassword(ctx context.Context, kind shared.UserKind, rawID string) (string, error) {
	if s.resets == nil {
		return "", errResetUnavailable
	}
	return s.resets.IssueResetToken(ctx, kind, NormalizeID(kind, rawID))
}

// ResetPassword redeems a reset token and returns the affected user ID.
func (s *Service) ResetPassword(ctx context.Context, kind shared.UserKind, token, next string) (string, error) {
	if s.resets == nil {
		return "", errResetUnavailable
	}
	return s.resets.ResetPassword(ctx, kind, token, next)
}

// Authenticate turns a raw access token into the request principal.
func (s *Service) Authenticate(raw string) (shared.Principal, error) {
	claims, err := s.tokens.Verify(raw, token.Access)
	if err != nil {
		return shared.Principal{}, err
	}
	return claims.Principal(), nil
}

// NormalizeID accepts an ID with or without its kind prefix.
func NormalizeID(kind shared.UserKind, raw string) string {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if id == "" || strings.HasPrefix(id, kind.IDPrefix()) {
		return id
	}
	return kind.IDPrefix() + id
}
