package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unigate/unigate/internal/audit"
	"github.com/unigate/unigate/internal/platform/httpx"
	"github.com/unigate/unigate/internal/shared"
)

const accessDenied = "Access denied"

// RequireSelf only lets callers act on the subject named by the route
// parameter param when it is their own ID.
func (m Middleware) RequireSelf(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.Message(w, http.StatusUnauthorized, "Invalid token payload")
				return
			}
			if chi.URLParam(r, param) != caller.ID {
				httpx.Message(w, http.StatusForbidden, accessDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSelfOrEmployee passes every employee through and restricts
// students to their own record.
func (m Middleware) RequireSelfOrEmployee(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.Message(w, http.StatusUnauthorized, "Invalid token payload")
				return
			}
			if caller.Kind == shared.KindEmployee || chi.URLParam(r, param) == caller.ID {
				next.ServeHTTP(w, r)
				return
			}
			httpx.Message(w, http.StatusForbidden, accessDenied)
		})
	}
}

// RequireEmployeeSelf requires an employee acting on their own record.
// Denials are audited.
func (m Middleware) RequireEmployeeSelf(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.Message(w, http.StatusUnauthorized, "Invalid token payload")
				return
			}
			if caller.Kind == shared.KindEmployee && chi.URLParam(r, param) == caller.ID {
				next.ServeHTTP(w, r)
				return
			}
			if m.Audit != nil {
				entry := audit.ForPrincipal(caller, audit.ActionEnsureEmployeeSelfAccess, http.StatusForbidden)
				entry.Error = accessDenied
				entry.Data = map[string]any{"requestedId": chi.URLParam(r, param)}
				m.Audit.Record(r.Context(), entry)
			}
			httpx.Message(w, http.StatusForbidden, accessDenied)
		})
	}
}
