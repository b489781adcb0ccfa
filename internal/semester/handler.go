package semester

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/unigate/unigate/internal/audit"
	"github.com/unigate/unigate/internal/platform/httpx"
	"github.com/unigate/unigate/internal/rbac"
	"github.com/unigate/unigate/internal/shared"
)

// Handler exposes the semester calendar over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
	audit    audit.Sink
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate, rbac rbac.Middleware, sink audit.Sink) *Handler {
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Handler{logger: logger, service: service, validate: validate, rbac: rbac, audit: sink}
}

// MountRoutes registers /semesters routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/current", h.current)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.AuthorizeRoleOrPermission(
			[]shared.Role{shared.RoleDeanOfAdmissionRegistration}, shared.PermManageSemesters,
		))
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{semesterID}", h.get)
		r.Patch("/{semesterID}", h.update)
		r.Delete("/{semesterID}", h.delete)
	})
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	sem, err := h.service.Current(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sem)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := shared.ParsePageRequest(q)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	f := Filter{Name: strings.TrimSpace(q.Get("name")), Page: page}
	if raw := q.Get("activeAt"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.RespondError(w, h.logger, fmt.Errorf("%w: activeAt must be an RFC3339 timestamp", shared.ErrValidation))
			return
		}
		f.ActiveAt = &at
	}
	res, err := h.service.List(r.Context(), f)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in NewSemester
	if err := httpx.DecodeJSON(r, h.validate, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	sem, err := h.service.Create(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.record(r, audit.ActionCreateSemester, http.StatusCreated, sem.ID)
	httpx.JSON(w, http.StatusCreated, sem)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	sem, err := h.service.Get(r.Context(), chi.URLParam(r, "semesterID"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sem)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var in Update
	if err := httpx.DecodeJSON(r, h.validate, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	sem, err := h.service.Update(r.Context(), chi.URLParam(r, "semesterID"), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.record(r, audit.ActionUpdateSemester, http.StatusOK, sem.ID)
	httpx.JSON(w, http.StatusOK, sem)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	sem, err := h.service.Delete(r.Context(), chi.URLParam(r, "semesterID"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.record(r, audit.ActionDeleteSemester, http.StatusOK, sem.ID)
	httpx.Message(w, http.StatusOK, "Semester deleted")
}

func (h *Handler) record(r *http.Request, action string, status int, semesterID string) {
	caller, _ := shared.PrincipalFromContext(r.Context())
	entry := audit.ForPrincipal(caller, action, status)
	entry.Data = map[string]any{"semesterId": semesterID}
	h.audit.Record(r.Context(), entry)
}
