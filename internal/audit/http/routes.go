package audithttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/unigate/unigate/internal/platform/httpx"
	"github.com/unigate/unigate/internal/shared"
)

const rateLimit = 10
const rateWindow = time.Minute

// maxRetentionDays keeps scheduled retention windows within ten years.
const maxRetentionDays = 3650

// MountRoutes registers the audit log endpoints. Reads are open to the
// admin and holders of VIEW_AUDIT_LOGS; purging is admin only and rate limited.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Message(w, http.StatusTooManyRequests, "Too many requests")
		}),
	)
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.AuthorizeRoleOrPermission([]shared.Role{shared.RoleAdmin}, shared.PermViewAuditLogs))
		gr.Get("/", h.handleList)
		gr.Get("/{id}", h.handleGet)
	})
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.RequireRoles(shared.RoleAdmin))
		gr.Use(limiter)
		gr.Delete("/", h.handlePurge)
		gr.Post("/purge-jobs", h.handleSchedulePurge)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if caller, ok := shared.PrincipalFromContext(r.Context()); ok && caller.ID != "" {
		return "user:" + caller.ID, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
