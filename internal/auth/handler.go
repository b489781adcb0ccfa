package auth

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/unigate/unigate/internal/audit"
	"github.com/unigate/unigate/internal/platform/httpx"
	"github.com/unigate/unigate/internal/shared"
)

const loginRateLimit = 10

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	audit     audit.Sink

	resetBaseURL string
	exposeReset  bool
}

// HandlerOption customises Handler.
type HandlerOption func(*Handler)

// WithResetLinks sets the public base URL used to build reset links. When
// expose is true the link is returned in the forgot-password response,
// which stands in for email delivery outside production.
func WithResetLinks(baseURL string, expose bool) HandlerOption {
	return func(h *Handler) {
		h.resetBaseURL = strings.TrimRight(baseURL, "/")
		h.exposeReset = expose
	}
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate, sink audit.Sink, opts ...HandlerOption) *Handler {
	if validate == nil {
		validate = validator.New()
	}
	if sink == nil {
		sink = audit.Discard{}
	}
	h := &Handler{logger: logger, service: service, validator: validate, audit: sink}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(loginRateLimit, time.Minute))
		r.Post("/students/login", h.login(shared.KindStudent))
		r.Post("/employees/login", h.login(shared.KindEmployee))
		r.Post("/refresh-token", h.handleRefresh)
		r.Post("/students/forgot-password", h.forgotPassword(shared.KindStudent))
		r.Post("/employees/forgot-password", h.forgotPassword(shared.KindEmployee))
		r.Post("/students/reset-password/{token}", h.resetPassword(shared.KindStudent))
		r.Post("/employees/reset-password/{token}", h.resetPassword(shared.KindEmployee))
	})
	r.With(h.service.Middleware).Post("/change-password", h.handleChangePassword)
}

type loginRequest struct {
	ID       string `json:"id" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type forgotPasswordRequest struct {
	ID string `json:"id" validate:"required"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"newPassword" validate:"required,min=8,max=72"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=72"`
}

func (h *Handler) login(kind shared.UserKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in loginRequest
		if err := httpx.DecodeJSON(r, h.validator, &in); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		session, err := h.service.Login(r.Context(), kind, in.ID, in.Password)
		attempt := shared.Principal{ID: NormalizeID(kind, in.ID), Kind: kind}
		if err != nil {
			entry := audit.ForPrincipal(attempt, audit.ActionLogin, httpx.StatusFor(err))
			entry.Error = err.Error()
			h.audit.Record(r.Context(), entry)
			httpx.RespondError(w, h.logger, err)
			return
		}
		h.audit.Record(r.Context(), audit.ForPrincipal(attempt, audit.ActionLogin, http.StatusOK))
		httpx.JSON(w, http.StatusOK, map[string]any{
			"message":      "Login successful",
			"accessToken":  session.AccessToken,
			"refreshToken": session.RefreshToken,
			"user":         session.User,
		})
	}
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := httpx.DecodeJSON(r, nil, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	access, err := h.service.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"message":     "Access token refreshed",
		"accessToken": access,
	})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	caller, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Message(w, http.StatusUnauthorized, "Invalid token payload")
		return
	}
	var in changePasswordRequest
	if err := httpx.DecodeJSON(r, h.validator, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.service.ChangePassword(r.Context(), caller, in.CurrentPassword, in.NewPassword); err != nil {
		entry := audit.ForPrincipal(caller, audit.ActionChangePassword, httpx.StatusFor(err))
		entry.Error = err.Error()
		h.audit.Record(r.Context(), entry)
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.audit.Record(r.Context(), audit.ForPrincipal(caller, audit.ActionChangePassword, http.StatusOK))
	httpx.Message(w, http.StatusOK, "Password changed successfully")
}

func kindPath(kind shared.UserKind) string {
	if kind == shared.KindEmployee {
		return "employees"
	}
	return "students"
}

func (h *Handler) forgotPassword(kind shared.UserKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in forgotPasswordRequest
		if err := httpx.DecodeJSON(r, h.validator, &in); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		subject := shared.Principal{ID: NormalizeID(kind, in.ID), Kind: kind}
		token, err := h.service.ForgotPassword(r.Context(), kind, in.ID)
		if err != nil {
			entry := audit.ForPrincipal(subject, audit.ActionForgotPassword, httpx.StatusFor(err))
			entry.Error = err.Error()
			h.audit.Record(r.Context(), entry)
			httpx.RespondError(w, h.logger, err)
			return
		}
		h.audit.Record(r.Context(), audit.ForPrincipal(subject, audit.ActionForgotPassword, http.StatusOK))
		if !h.exposeReset {
			httpx.Message(w, http.StatusOK, "Password reset requested")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"message":  "Password reset",
			"resetUrl": h.resetBaseURL + "/auth/" + kindPath(kind) + "/reset-password/" + url.PathEscape(token),
		})
	}
}

func (h *Handler) resetPassword(kind shared.UserKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in resetPasswordRequest
		if err := httpx.DecodeJSON(r, h.validator, &in); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		id, err := h.service.ResetPassword(r.Context(), kind, chi.URLParam(r, "token"), in.NewPassword)
		if err != nil {
			entry := audit.ForPrincipal(shared.Principal{Kind: kind}, audit.ActionResetPassword, httpx.StatusFor(err))
			entry.Error = err.Error()
			h.audit.Record(r.Context(), entry)
			httpx.RespondError(w, h.logger, err)
			return
		}
		h.audit.Record(r.Context(), audit.ForPrincipal(shared.Principal{ID: id, Kind: kind}, audit.ActionResetPassword, http.StatusOK))
		httpx.Message(w, http.StatusOK, "Password reset successful")
	}
}
