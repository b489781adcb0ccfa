// Package identityhttp serves student and employee records over JSON.
package identityhttp

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/unigate/unigate/internal/audit"
	"github.com/unigate/unigate/internal/identity"
	"github.com/unigate/unigate/internal/platform/httpx"
	"github.com/unigate/unigate/internal/rbac"
	"github.com/unigate/unigate/internal/shared"
)

var (
	studentAdministrators = []shared.Role{
		shared.RoleDeanOfAdmissionRegistration,
		shared.RoleEmployeeOfAdmissionRegistration,
		shared.RoleHeadOfAdmissionRegistration,
		shared.RoleUniversityPresident,
	}
	employeeAdministrators = []shared.Role{
		shared.RoleHeadOfHumanResources,
		shared.RoleHRManager,
		shared.RoleHROfficer,
	}
)

// Handler exposes student and employee records.
type Handler struct {
	logger   *slog.Logger
	service  *identity.Service
	validate *validator.Validate
	rbac     rbac.Middleware
	audit    audit.Sink
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *identity.Service, validate *validator.Validate, rbac rbac.Middleware, sink audit.Sink) *Handler {
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Handler{logger: logger, service: service, validate: validate, rbac: rbac, audit: sink}
}

// MountStudentRoutes registers /students routes.
func (h *Handler) MountStudentRoutes(r chi.Router) {
	r.With(h.rbac.RequireRoles(studentAdministrators...)).Post("/", h.createStudent)
	r.With(h.rbac.RequireSelfOrEmployee("userID")).Get("/{userID}", h.getStudent)
	r.With(h.rbac.RequireSelf("userID")).Patch("/{userID}/contact", h.updateStudentContact)
	r.With(h.rbac.AuthorizeRoleOrPermission(
		[]shared.Role{shared.RoleDeanOfAdmissionRegistration}, shared.PermDeleteStudent,
	)).Delete("/{userID}", h.deleteStudent)
}

// MountEmployeeRoutes registers /employees routes.
func (h *Handler) MountEmployeeRoutes(r chi.Router) {
	r.With(h.rbac.RequireRoles(employeeAdministrators...)).Post("/", h.createEmployee)
	r.With(h.rbac.RequireEmployeeSelf("userID")).Get("/{userID}", h.getEmployee)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRoles(shared.RoleHeadOfHumanResources))
		r.Post("/{userID}/positions", h.addPosition)
		r.Patch("/{userID}/positions/end", h.endPosition)
	})
	r.With(h.rbac.AuthorizeRoleOrPermission(
		[]shared.Role{shared.RoleHeadOfHumanResources}, shared.PermDeleteEmployee,
	)).Delete("/{userID}", h.deleteEmployee)
}

func (h *Handler) createStudent(w http.ResponseWriter, r *http.Request) {
	var in identity.NewStudent
	if err := httpx.DecodeJSON(r, h.validate, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	user, err := h.service.CreateStudent(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.record(r, audit.ActionCreateStudent, http.StatusCreated, map[string]any{"studentId": user.ID})
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) createEmployee(w http.ResponseWriter, r *http.Request) {
	var in identity.NewEmployee
	if err := httpx.DecodeJSON(r, h.validate, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	user, err := h.service.CreateEmployee(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.record(r, audit.ActionCreateEmployee, http.StatusCreated, map[string]any{
		"employeeId": user.ID,
		"title":      in.Title,
	})
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) getStudent(w http.ResponseWriter, r *http.Request) {
	h.getOfKind(w, r, shared.KindStudent)
}

func (h *Handler) getEmployee(w http.ResponseWriter, r *http.Request) {
	h.getOfKind(w, r, shared.KindEmployee)
}

func (h *Handler) getOfKind(w http.ResponseWriter, r *http.Request, kind shared.UserKind) {
	user, err := h.service.FindUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if user.Kind != kind {
		httpx.RespondError(w, h.logger, identity.ErrUserNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

type contactRequest struct {
	Email string `json:"email" validate:"required,email,max=320"`
}

// updateStudentContact lets a student change their own contact email.
func (h *Handler) updateStudentContact(w http.ResponseWriter, r *http.Request) {
	var in contactRequest
	if err := httpx.DecodeJSON(r, h.validate, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	id := chi.URLParam(r, "userID")
	current, err := h.service.FindUser(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if current.Kind != shared.KindStudent {
		httpx.RespondError(w, h.logger, identity.ErrUserNotFound)
		return
	}
	user, err := h.service.UpdateEmail(r.Context(), id, in.Email)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.record(r, audit.ActionUpdateStudentContact, http.StatusOK, map[string]any{"studentId": id})
	httpx.JSON(w, http.StatusOK, map[string]any{
		"message": "Student contact details updated successfully",
		"student": user,
	})
}

func (h *Handler) addPosition(w http.ResponseWriter, r *http.Request) {
	var in identity.NewPosition
	if err := httpx.DecodeJSON(r, h.validate, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	employeeID := chi.URLParam(r, "userID")
	pos, err := h.service.AddPosition(r.Context(), employeeID, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.record(r, audit.ActionAddPosition, http.StatusCreated, map[string]any{
		"employeeId": employeeID,
		"title":      pos.Title,
	})
	httpx.JSON(w, http.StatusCreated, pos)
}

func (h *Handler) endPosition(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "userID")
	if err := h.service.EndPosition(r.Context(), employeeID); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.record(r, audit.ActionEndPosition, http.StatusOK, map[string]any{"employeeId": employeeID})
	httpx.Message(w, http.StatusOK, "Position ended")
}

func (h *Handler) deleteStudent(w http.ResponseWriter, r *http.Request) {
	h.deleteOfKind(w, r, shared.KindStudent, audit.ActionDeleteStudent, "Student deleted")
}

func (h *Handler) deleteEmployee(w http.ResponseWriter, r *http.Request) {
	h.deleteOfKind(w, r, shared.KindEmployee, audit.ActionDeleteEmployee, "Employee deleted")
}

func (h *Handler) deleteOfKind(w http.ResponseWriter, r *http.Request, kind shared.UserKind, action, msg string) {
	id := chi.URLParam(r, "userID")
	if err := h.service.SoftDelete(r.Context(), id, kind); err != nil {
		if errors.Is(err, identity.ErrKindMismatch) {
			err = identity.ErrUserNotFound
		}
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.record(r, action, http.StatusOK, map[string]any{"userId": id})
	httpx.Message(w, http.StatusOK, msg)
}

func (h *Handler) record(r *http.Request, action string, status int, data map[string]any) {
	caller, _ := shared.PrincipalFromContext(r.Context())
	entry := audit.ForPrincipal(caller, action, status)
	entry.Data = data
	h.audit.Record(r.Context(), entry)
}
