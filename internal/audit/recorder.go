package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sink accepts audit entries. Implementations never fail the caller.
type Sink interface {
	Record(ctx context.Context, e Entry)
}

// Store persists entries durably.
type Store interface {
	Insert(ctx context.Context, e Entry) error
}

// Publisher forwards encoded entries to an event stream.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Recorder writes entries to the store and, optionally, a publisher.
// Failures are logged and swallowed.
type Recorder struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
	timeout   time.Duration
}

// RecorderOption customises a Recorder.
type RecorderOption func(*Recorder)

// WithPublisher also sends every entry to p.
func WithPublisher(p Publisher) RecorderOption {
	return func(r *Recorder) { r.publisher = p }
}

// WithRecorderClock overrides the time source.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder constructs a Recorder.
func NewRecorder(store Store, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{store: store, logger: logger, now: time.Now, timeout: 3 * time.Second}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record normalises e and writes it. The write is detached from request
// cancellation so a client disconnect does not lose the entry.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil {
		return
	}
	e = r.normalise(e)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if r.store != nil {
		if err := r.store.Insert(ctx, e); err != nil {
			r.logger.Error("audit store failed", slog.String("action", e.Action), slog.String("user_id", e.UserID), slog.Any("error", err))
		}
	}
	if r.publisher != nil {
		payload, err := json.Marshal(e)
		if err != nil {
			r.logger.Error("audit encode failed", slog.String("action", e.Action), slog.Any("error", err))
			return
		}
		if err := r.publisher.Publish(ctx, e.UserID, payload); err != nil {
			r.logger.Error("audit publish failed", slog.String("action", e.Action), slog.Any("error", err))
		}
	}
}

func (r *Recorder) normalise(e Entry) Entry {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	if e.Status < 100 || e.Status > 599 {
		r.logger.Warn("audit status out of range", slog.String("action", e.Action), slog.Int("status", e.Status))
		e.Status = http.StatusInternalServerError
	}
	e.Error = truncate(e.Error, maxErrorLength)
	if e.Data != nil {
		encoded, err := json.Marshal(e.Data)
		if err != nil || len(encoded) > maxDataBytes {
			e.Data = map[string]any{"truncated": true}
		}
	}
	return e
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// Discard drops every entry.
type Discard struct{}

// Record implements Sink.
func (Discard) Record(context.Context, Entry) {}
