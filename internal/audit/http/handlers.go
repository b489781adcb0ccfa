// Package audithttp serves the audit log to administrators.
package audithttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/unigate/unigate/internal/audit"
	"github.com/unigate/unigate/internal/platform/httpx"
	"github.com/unigate/unigate/internal/rbac"
	"github.com/unigate/unigate/internal/shared"
)

// QueryService defines the audit read and retention contract.
type QueryService interface {
	List(ctx context.Context, f audit.Filters) (audit.Page, error)
	Get(ctx context.Context, rawID string) (audit.Entry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeScheduler queues a retention run on the worker.
type PurgeScheduler interface {
	EnqueueAuditPurge(ctx context.Context, retention time.Duration) (*asynq.TaskInfo, error)
}

// Handler serves /audit-logs.
type Handler struct {
	logger    *slog.Logger
	service   QueryService
	rbac      rbac.Middleware
	audit     audit.Sink
	scheduler PurgeScheduler
}

// Option customises Handler.
type Option func(*Handler)

// WithPurgeScheduler enables POST /audit-logs/purge-jobs.
func WithPurgeScheduler(s PurgeScheduler) Option {
	return func(h *Handler) { h.scheduler = s }
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service QueryService, rbac rbac.Middleware, sink audit.Sink, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = audit.Discard{}
	}
	h := &Handler{logger: logger, service: service, rbac: rbac, audit: sink}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	page, err := h.service.List(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handlePurge(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("before"))
	if raw == "" {
		httpx.RespondError(w, h.logger, validationError("before is required"))
		return
	}
	cutoff, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		httpx.RespondError(w, h.logger, validationError("before must be an RFC3339 timestamp"))
		return
	}
	deleted, err := h.service.DeleteBefore(r.Context(), cutoff)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	caller, _ := shared.PrincipalFromContext(r.Context())
	entry := audit.ForPrincipal(caller, audit.ActionPurgeAuditLogs, http.StatusOK)
	entry.Data = map[string]any{"before": cutoff, "deletedCount": deleted}
	h.audit.Record(r.Context(), entry)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"message":      "Audit logs deleted",
		"deletedCount": deleted,
	})
}

// handleSchedulePurge hands retention to the worker. retentionDays is
// optional; without it the worker applies its configured retention.
func (h *Handler) handleSchedulePurge(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		httpx.Message(w, http.StatusServiceUnavailable, "Job queue unavailable")
		return
	}
	var retention time.Duration
	if raw := strings.TrimSpace(r.URL.Query().Get("retentionDays")); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 1 || days > maxRetentionDays {
			httpx.RespondError(w, h.logger, validationError(fmt.Sprintf("retentionDays must be between 1 and %d", maxRetentionDays)))
			return
		}
		retention = time.Duration(days) * 24 * time.Hour
	}
	info, err := h.scheduler.EnqueueAuditPurge(r.Context(), retention)
	if err != nil {
		h.logger.Error("enqueue audit purge", slog.Any("error", err))
		httpx.Message(w, http.StatusServiceUnavailable, "Job queue unavailable")
		return
	}
	caller, _ := shared.PrincipalFromContext(r.Context())
	entry := audit.ForPrincipal(caller, audit.ActionPurgeAuditLogs, http.StatusAccepted)
	entry.Data = map[string]any{"taskId": info.ID, "retention": retention.String()}
	h.audit.Record(r.Context(), entry)
	httpx.JSON(w, http.StatusAccepted, map[string]any{
		"message": "Audit purge scheduled",
		"taskId":  info.ID,
	})
}

func parseFilters(r *http.Request) (audit.Filters, error) {
	query := r.URL.Query()
	page, err := shared.ParsePageRequest(query)
	if err != nil {
		return audit.Filters{}, err
	}
	filters := audit.Filters{
		Action:   strings.TrimSpace(query.Get("action")),
		UserID:   strings.TrimSpace(query.Get("userId")),
		UserKind: strings.TrimSpace(query.Get("userKind")),
		Page:     page,
	}
	if filters.UserKind != "" {
		if _, err := shared.ParseUserKind(filters.UserKind); err != nil {
			return audit.Filters{}, err
		}
	}
	if v := strings.TrimSpace(query.Get("status")); v != "" {
		status, err := strconv.Atoi(v)
		if err != nil || status < 100 || status > 599 {
			return audit.Filters{}, validationError("status must be an HTTP status code")
		}
		filters.Status = status
	}
	if filters.From, err = parseTime(query.Get("from")); err != nil {
		return audit.Filters{}, validationError("from must be a date or RFC3339 timestamp")
	}
	if filters.To, err = parseTime(query.Get("to")); err != nil {
		return audit.Filters{}, validationError("to must be a date or RFC3339 timestamp")
	}
	return filters, nil
}

// parseTime accepts RFC3339 or a plain date.
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", shared.ErrValidation, msg)
}
