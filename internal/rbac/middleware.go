package rbac

import (
	"log/slog"
	"net/http"

	"github.com/unigate/unigate/internal/audit"
	"github.com/unigate/unigate/internal/observability"
	"github.com/unigate/unigate/internal/platform/httpx"
	"github.com/unigate/unigate/internal/shared"
)

// Middleware wires authorization checks for HTTP handlers. It expects the
// authentication middleware to have stored the caller in the context.
type Middleware struct {
	Engine  *Engine
	Audit   audit.Sink
	Logger  *slog.Logger
	Metrics *observability.Metrics
	// AuditAllowed also records successful checks.
	AuditAllowed bool
}

// AuthorizeRoleOrPermission lets the caller through if their role is in
// roles, or if they hold an active grant of perm. Pass an empty perm for a
// pure role check. Denials and failures are audited.
func (m Middleware) AuthorizeRoleOrPermission(roles []shared.Role, perm shared.PermissionName) func(http.Handler) http.Handler {
	allowed := append([]shared.Role(nil), roles...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.Message(w, http.StatusUnauthorized, "Invalid token payload")
				return
			}
			decision, err := m.Engine.Decide(r.Context(), caller, allowed, perm)
			if err != nil {
				m.logger().Error("authorization check failed", slog.String("user_id", caller.ID), slog.Any("error", err))
				m.Metrics.ObserveDecision("error", string(ViaNone))
				m.record(r, caller, audit.ActionAccessDenied, http.StatusInternalServerError, err.Error(), allowed, perm)
				httpx.Message(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			if !decision.Allowed {
				status := decision.Status()
				m.Metrics.ObserveDecision("deny", string(decision.Via))
				m.record(r, caller, audit.ActionAccessDenied, status, decision.Reason.Error(), allowed, perm)
				httpx.Message(w, status, decision.Reason.Error())
				return
			}
			m.Metrics.ObserveDecision("allow", string(decision.Via))
			if m.AuditAllowed {
				m.record(r, caller, audit.ActionAccessGranted, http.StatusOK, "", allowed, perm)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoles is AuthorizeRoleOrPermission without a dynamic permission.
func (m Middleware) RequireRoles(roles ...shared.Role) func(http.Handler) http.Handler {
	return m.AuthorizeRoleOrPermission(roles, "")
}

func (m Middleware) record(r *http.Request, caller shared.Principal, action string, status int, errText string, roles []shared.Role, perm shared.PermissionName) {
	if m.Audit == nil {
		return
	}
	entry := audit.ForPrincipal(caller, action, status)
	entry.Error = errText
	entry.Data = map[string]any{
		"allowedRoles":           roles,
		"requiredPermissionName": perm,
		"path":                   r.URL.Path,
		"method":                 r.Method,
	}
	m.Audit.Record(r.Context(), entry)
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
