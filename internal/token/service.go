// Package token issues and verifies the signed access and refresh tokens
// that carry a caller's identity between requests.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/unigate/unigate/internal/shared"
)

// Kind selects which secret and lifetime a token uses.
type Kind int

const (
	Access Kind = iota
	Refresh
)

func (k Kind) String() string {
	if k == Refresh {
		return "refresh"
	}
	return "access"
}

var (
	// ErrTokenInvalid is returned for a bad signature, algorithm or payload.
	ErrTokenInvalid = shared.NewError(shared.ErrAuthentication, "invalid token")
	// ErrTokenExpired is returned once the expiry has passed.
	ErrTokenExpired = shared.NewError(shared.ErrAuthentication, "token expired")
	// ErrTokenPayload is a validly signed token with missing or unknown claims.
	ErrTokenPayload = shared.NewError(ErrTokenInvalid, "invalid token payload")
)

// Claims is the frozen identity snapshot carried by every token.
type Claims struct {
	UserID   string          `json:"id"`
	Role     shared.Role     `json:"role"`
	UserKind shared.UserKind `json:"userKind"`
	jwt.RegisteredClaims
}

// Principal converts verified claims into the request caller.
func (c *Claims) Principal() shared.Principal {
	return shared.Principal{ID: c.UserID, Role: c.Role, Kind: c.UserKind}
}

// Config carries secrets and lifetimes for both token kinds.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// Service signs and verifies HS256 tokens.
type Service struct {
	cfg Config
	now func() time.Time
}

// NewService validates cfg. Access and refresh secrets must both be set and
// must differ so one kind can never be replayed as the other.
func NewService(cfg Config, now func() time.Time) (*Service, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token: access and refresh secrets are required")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("token: access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: lifetimes must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &Service{cfg: cfg, now: now}, nil
}

// IssueAccessToken signs a short-lived token for p.
func (s *Service) IssueAccessToken(p shared.Principal) (string, error) {
	return s.issue(p, Access)
}

// IssueRefreshToken signs a long-lived token for p.
func (s *Service) IssueRefreshToken(p shared.Principal) (string, error) {
	return s.issue(p, Refresh)
}

func (s *Service) issue(p shared.Principal, kind Kind) (string, error) {
	if p.ID == "" || p.Role == "" || p.Kind == "" {
		return "", fmt.Errorf("token: incomplete principal for %s token", kind)
	}
	now := s.now()
	claims := Claims{
		UserID:   p.ID,
		Role:     p.Role,
		UserKind: p.Kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl(kind))),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret(kind))
	if err != nil {
		return "", fmt.Errorf("token: sign %s: %w", kind, err)
	}
	return signed, nil
}

// Verify checks signature and expiry using the secret for kind.
func (s *Service) Verify(raw string, kind Kind) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret(kind), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.UserID == "" || !claims.Role.Valid() {
		return nil, ErrTokenPayload
	}
	if _, err := shared.ParseUserKind(string(claims.UserKind)); err != nil {
		return nil, ErrTokenPayload
	}
	return claims, nil
}

func (s *Service) secret(kind Kind) []byte {
	if kind == Refresh {
		return s.cfg.RefreshSecret
	}
	return s.cfg.AccessSecret
}

func (s *Service) ttl(kind Kind) time.Duration {
	if kind == Refresh {
		return s.cfg.RefreshTTL
	}
	return s.cfg.AccessTTL
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return ErrTokenInvalid
}
