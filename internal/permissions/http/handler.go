// Package permissionshttp exposes the permission registry over JSON.
package permissionshttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/unigate/unigate/internal/audit"
	"github.com/unigate/unigate/internal/permissions"
	"github.com/unigate/unigate/internal/platform/httpx"
	"github.com/unigate/unigate/internal/rbac"
	"github.com/unigate/unigate/internal/shared"
)

// Handler serves /permissions. Authorization beyond "is authenticated" is
// enforced by the registry itself, except for the admin-only lifecycle routes.
type Handler struct {
	logger   *slog.Logger
	service  *permissions.Service
	validate *validator.Validate
	rbac     rbac.Middleware
	audit    audit.Sink
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *permissions.Service, validate *validator.Validate, rbac rbac.Middleware, sink audit.Sink) *Handler {
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Handler{logger: logger, service: service, validate: validate, rbac: rbac, audit: sink}
}

type grantRequest struct {
	TargetUserID      string     `json:"targetUserId" validate:"required"`
	PermissionEndDate *time.Time `json:"permissionEndDate"`
}

type targetRequest struct {
	TargetUserID string `json:"targetUserId" validate:"required"`
}

type roleRequest struct {
	Role string `json:"role" validate:"required"`
}

// MountRoutes registers permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRoles(shared.RoleAdmin))
		r.Post("/", h.create)
		r.Delete("/{id}", h.delete)
		r.Patch("/{id}/activate", h.activate)
	})
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/{id}/grant", h.grant)
	r.Delete("/{id}/revoke", h.revoke)
	r.Post("/{id}/granters", h.addGranter)
	r.Delete("/{id}/granters/{userID}", h.removeGranter)
	r.Post("/{id}/possible-for-roles", h.addPossibleForRole)
	r.Delete("/{id}/possible-for-roles/{role}", h.removePossibleForRole)
	r.Post("/{id}/possible-granter-roles", h.addPossibleGranterRole)
	r.Delete("/{id}/possible-granter-roles/{role}", h.removePossibleGranterRole)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in permissions.NewPermission
	if err := httpx.DecodeJSON(r, h.validate, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	caller, _ := shared.PrincipalFromContext(r.Context())
	p, err := h.service.Create(r.Context(), caller, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.record(r, audit.ActionCreatePermission, http.StatusCreated, "", map[string]any{
		"permissionId": p.ID,
		"name":         p.Name,
		"owner":        p.Owner,
	})
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, err := shared.ParsePageRequest(query)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	filter := permissions.Filter{
		Name:                 query.Get("name"),
		Owner:                shared.Role(query.Get("owner")),
		Granters:             splitList(query.Get("granter")),
		PossibleForRoles:     splitRoles(query.Get("possibleForRoles")),
		PossibleGranterRoles: splitRoles(query.Get("possibleGranterRoles")),
		UsersWithPermission:  splitList(query.Get("usersWithPermission")),
		Page:                 page,
	}
	if raw := query.Get("deleted"); raw != "" {
		deleted, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.RespondError(w, h.logger, fmt.Errorf("%w: deleted must be true or false", shared.ErrValidation))
			return
		}
		filter.Deleted = &deleted
	}
	caller, _ := shared.PrincipalFromContext(r.Context())
	result, err := h.service.List(r.Context(), caller, filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// splitList reads a comma separated query value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitRoles(raw string) []shared.Role {
	parts := splitList(raw)
	if len(parts) == 0 {
		return nil
	}
	out := make([]shared.Role, len(parts))
	for i, p := range parts {
		out[i] = shared.Role(p)
	}
	return out
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, caller shared.Principal, id uuid.UUID) {
		p, err := h.service.Get(ctx, caller, id)
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		httpx.JSON(w, http.StatusOK, p)
	})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, caller shared.Principal, id uuid.UUID) {
		if err := h.service.Delete(ctx, caller, id); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		h.record(r, audit.ActionDeletePermission, http.StatusOK, "", map[string]any{"permissionId": id})
		httpx.Message(w, http.StatusOK, "Permission deleted")
	})
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, caller shared.Principal, id uuid.UUID) {
		p, err := h.service.Activate(ctx, caller, id)
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		h.record(r, audit.ActionActivatePermission, http.StatusOK, "", map[string]any{"permissionId": id})
		httpx.JSON(w, http.StatusOK, p)
	})
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, caller shared.Principal, id uuid.UUID) {
		var in grantRequest
		if err := httpx.DecodeJSON(r, h.validate, &in); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		data := map[string]any{"permissionId": id, "targetUserId": in.TargetUserID}
		g, err := h.service.Grant(ctx, caller, id, in.TargetUserID, in.PermissionEndDate)
		if err != nil {
			h.recordFailure(r, audit.ActionGrantPermission, err, data)
			httpx.RespondError(w, h.logger, err)
			return
		}
		if g.EndDate != nil {
			data["endDate"] = g.EndDate
		}
		h.record(r, audit.ActionGrantPermission, http.StatusCreated, "", data)
		httpx.JSON(w, http.StatusCreated, g)
	})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, caller shared.Principal, id uuid.UUID) {
		var in targetRequest
		if err := httpx.DecodeJSON(r, h.validate, &in); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		data := map[string]any{"permissionId": id, "targetUserId": in.TargetUserID}
		if err := h.service.Revoke(ctx, caller, id, in.TargetUserID); err != nil {
			h.recordFailure(r, audit.ActionRevokePermission, err, data)
			httpx.RespondError(w, h.logger, err)
			return
		}
		h.record(r, audit.ActionRevokePermission, http.StatusOK, "", data)
		httpx.Message(w, http.StatusOK, "Permission revoked")
	})
}

func (h *Handler) addGranter(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, caller shared.Principal, id uuid.UUID) {
		var in targetRequest
		if err := httpx.DecodeJSON(r, h.validate, &in); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		p, err := h.service.AddGranter(ctx, caller, id, in.TargetUserID)
		h.respondMutation(w, r, audit.ActionAddGranter, p, err, map[string]any{"permissionId": id, "granterId": in.TargetUserID})
	})
}

func (h *Handler) removeGranter(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, caller shared.Principal, id uuid.UUID) {
		userID := chi.URLParam(r, "userID")
		p, err := h.service.RemoveGranter(ctx, caller, id, userID)
		h.respondMutation(w, r, audit.ActionRemoveGranter, p, err, map[string]any{"permissionId": id, "granterId": userID})
	})
}

func (h *Handler) addPossibleForRole(w http.ResponseWriter, r *http.Request) {
	h.withRoleBody(w, r, audit.ActionAddPossibleForRole, h.service.AddPossibleForRole)
}

func (h *Handler) removePossibleForRole(w http.ResponseWriter, r *http.Request) {
	h.withRoleParam(w, r, audit.ActionRemovePossibleForRole, h.service.RemovePossibleForRole)
}

func (h *Handler) addPossibleGranterRole(w http.ResponseWriter, r *http.Request) {
	h.withRoleBody(w, r, audit.ActionAddPossibleGranterRole, h.service.AddPossibleGranterRole)
}

func (h *Handler) removePossibleGranterRole(w http.ResponseWriter, r *http.Request) {
	h.withRoleParam(w, r, audit.ActionRemovePossibleGranterRole, h.service.RemovePossibleGranterRole)
}

type roleMutation func(ctx context.Context, caller shared.Principal, id uuid.UUID, role string) (permissions.Permission, error)

func (h *Handler) withRoleBody(w http.ResponseWriter, r *http.Request, action string, fn roleMutation) {
	h.withID(w, r, func(ctx context.Context, caller shared.Principal, id uuid.UUID) {
		var in roleRequest
		if err := httpx.DecodeJSON(r, h.validate, &in); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		p, err := fn(ctx, caller, id, in.Role)
		h.respondMutation(w, r, action, p, err, map[string]any{"permissionId": id, "role": in.Role})
	})
}

func (h *Handler) withRoleParam(w http.ResponseWriter, r *http.Request, action string, fn roleMutation) {
	h.withID(w, r, func(ctx context.Context, caller shared.Principal, id uuid.UUID) {
		role, err := url.PathUnescape(chi.URLParam(r, "role"))
		if err != nil {
			httpx.RespondError(w, h.logger, fmt.Errorf("%w: malformed role", shared.ErrValidation))
			return
		}
		p, err := fn(ctx, caller, id, role)
		h.respondMutation(w, r, action, p, err, map[string]any{"permissionId": id, "role": role})
	})
}

func (h *Handler) respondMutation(w http.ResponseWriter, r *http.Request, action string, p permissions.Permission, err error, data map[string]any) {
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.record(r, action, http.StatusOK, "", data)
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) withID(w http.ResponseWriter, r *http.Request, fn func(context.Context, shared.Principal, uuid.UUID)) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		httpx.RespondError(w, h.logger, permissions.ErrPermissionNotFound)
		return
	}
	caller, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Message(w, http.StatusUnauthorized, "Invalid token payload")
		return
	}
	fn(r.Context(), caller, id)
}

// recordFailure keeps the underlying error text, including for system
// failures the client only sees as a generic 500. The recorder truncates it.
func (h *Handler) recordFailure(r *http.Request, action string, err error, data map[string]any) {
	h.record(r, action, httpx.StatusFor(err), err.Error(), data)
}

func (h *Handler) record(r *http.Request, action string, status int, errText string, data map[string]any) {
	caller, _ := shared.PrincipalFromContext(r.Context())
	entry := audit.ForPrincipal(caller, action, status)
	entry.Error = errText
	entry.Data = data
	h.audit.Record(r.Context(), entry)
}
