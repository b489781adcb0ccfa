package auth

import (
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5/request"

	"github.com/unigate/unigate/internal/platform/httpx"
	"github.com/unigate/unigate/internal/shared"
	"github.com/unigate/unigate/internal/token"
)

// Middleware requires a valid access token in the Authorization header
// and stores its principal in the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := request.BearerExtractor{}.ExtractToken(r)
		if err != nil || raw == "" {
			httpx.Message(w, http.StatusUnauthorized, "No token provided")
			return
		}
		principal, err := s.Authenticate(raw)
		if err != nil {
			if errors.Is(err, token.ErrTokenPayload) {
				httpx.Message(w, http.StatusUnauthorized, "Invalid token payload")
				return
			}
			httpx.Message(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
	})
}
