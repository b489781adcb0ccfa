package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	audithttp "github.com/unigate/unigate/internal/audit/http"
	"github.com/unigate/unigate/internal/auth"
	identityhttp "github.com/unigate/unigate/internal/identity/http"
	"github.com/unigate/unigate/internal/observability"
	permissionshttp "github.com/unigate/unigate/internal/permissions/http"
	"github.com/unigate/unigate/internal/platform/httpx"
	"github.com/unigate/unigate/internal/semester"
	"github.com/unigate/unigate/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	// Authenticate turns a bearer token into a request principal.
	Authenticate func(http.Handler) http.Handler

	AuthHandler        *auth.Handler
	IdentityHandler    *identityhttp.Handler
	PermissionsHandler *permissionshttp.Handler
	AuditHandler       *audithttp.Handler
	SemesterHandler    *semester.Handler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Message(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Message(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if params.AuthHandler != nil {
			r.Route("/auth", params.AuthHandler.MountRoutes)
		}
		r.Group(func(r chi.Router) {
			if params.Authenticate != nil {
				r.Use(params.Authenticate)
			}
			if params.IdentityHandler != nil {
				r.Route("/students", params.IdentityHandler.MountStudentRoutes)
				r.Route("/employees", params.IdentityHandler.MountEmployeeRoutes)
			}
			if params.PermissionsHandler != nil {
				r.Route("/permissions", params.PermissionsHandler.MountRoutes)
			}
			if params.SemesterHandler != nil {
				r.Route("/semesters", params.SemesterHandler.MountRoutes)
			}
			if params.AuditHandler != nil {
				r.Route("/audit-logs", params.AuditHandler.MountRoutes)
			}
		})
	})

	return r
}
