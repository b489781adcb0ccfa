package semester

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	currentCacheKey     = "semester:current"
	invalidationChannel = "semester.invalidate"
	defaultCacheTTL     = 7 * 24 * time.Hour
)

// CurrentLoader finds the semester running at a point in time.
type CurrentLoader interface {
	Current(ctx context.Context, at time.Time) (Semester, error)
}

// CurrentCache is a read-through cache for the running semester. A local
// copy serves most reads; Redis, when configured, shares the value across
// instances and carries invalidation broadcasts. Entries live until the TTL
// passes, the cached semester ends, or Invalidate is called.
type CurrentCache struct {
	loader CurrentLoader
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	local *cachedSemester
	// gen advances on every invalidation. A load that started under an
	// older generation returns its value but does not cache it.
	gen uint64
}

type cachedSemester struct {
	semester Semester
	expires  time.Time
}

// CacheOption customises CurrentCache.
type CacheOption func(*CurrentCache)

// WithRedis shares cached values and invalidations through client.
func WithRedis(client *redis.Client) CacheOption {
	return func(c *CurrentCache) { c.client = client }
}

// WithCacheClock overrides the time source.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *CurrentCache) { c.now = now }
}

// WithCacheLogger sets the logger used for Redis failures.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *CurrentCache) { c.logger = logger }
}

// NewCurrentCache builds the cache. A non-positive ttl falls back to one week.
func NewCurrentCache(loader CurrentLoader, ttl time.Duration, opts ...CacheOption) *CurrentCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	c := &CurrentCache{loader: loader, ttl: ttl, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the running semester, loading it at most once per
// concurrent burst of misses.
func (c *CurrentCache) Current(ctx context.Context) (Semester, error) {
	now := c.now()
	if s, ok := c.fromLocal(now); ok {
		return s, nil
	}
	v, err, _ := c.group.Do(currentCacheKey, func() (any, error) {
		if s, ok := c.fromLocal(now); ok {
			return s, nil
		}
		gen := c.generation()
		if s, ok := c.fromRedis(ctx, now); ok {
			c.store(s, now, gen)
			return s, nil
		}
		s, err := c.loader.Current(ctx, now)
		if err != nil {
			return Semester{}, err
		}
		if c.store(s, now, gen) {
			c.toRedis(ctx, s, now)
		}
		return s, nil
	})
	if err != nil {
		return Semester{}, err
	}
	return v.(Semester), nil
}

// Invalidate drops the cached value here and, through Redis, on every peer.
func (c *CurrentCache) Invalidate(ctx context.Context) error {
	c.dropLocal()
	c.group.Forget(currentCacheKey)
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, currentCacheKey).Err(); err != nil {
		return err
	}
	return c.client.Publish(ctx, invalidationChannel, "1").Err()
}

// ListenForInvalidation drops the local copy whenever a peer invalidates.
// It blocks until ctx is cancelled.
func (c *CurrentCache) ListenForInvalidation(ctx context.Context) error {
	if c.client == nil {
		<-ctx.Done()
		return nil
	}
	pubsub := c.client.Subscribe(ctx, invalidationChannel)
	defer func() { _ = pubsub.Close() }()
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			c.dropLocal()
		}
	}
}

func (c *CurrentCache) fromLocal(now time.Time) (Semester, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.local == nil || !now.Before(c.local.expires) || !c.local.semester.RunningAt(now) {
		return Semester{}, false
	}
	return c.local.semester, true
}

func (c *CurrentCache) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// store keeps s unless an invalidation happened since gen was read.
func (c *CurrentCache) store(s Semester, now time.Time, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.local = &cachedSemester{semester: s, expires: c.expiry(s, now)}
	return true
}

func (c *CurrentCache) dropLocal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = nil
	c.gen++
}

// expiry caps the TTL at the end of the semester.
func (c *CurrentCache) expiry(s Semester, now time.Time) time.Time {
	expires := now.Add(c.ttl)
	if end := s.Schedule.EndDate.Add(time.Nanosecond); end.Before(expires) {
		expires = end
	}
	return expires
}

func (c *CurrentCache) fromRedis(ctx context.Context, now time.Time) (Semester, bool) {
	if c.client == nil {
		return Semester{}, false
	}
	payload, err := c.client.Get(ctx, currentCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("semester cache read failed", slog.Any("error", err))
		}
		return Semester{}, false
	}
	var s Semester
	if err := json.Unmarshal(payload, &s); err != nil {
		c.logger.Warn("semester cache payload invalid", slog.Any("error", err))
		return Semester{}, false
	}
	if !s.RunningAt(now) {
		return Semester{}, false
	}
	return s, true
}

func (c *CurrentCache) toRedis(ctx context.Context, s Semester, now time.Time) {
	if c.client == nil {
		return
	}
	payload, err := json.Marshal(s)
	if err != nil {
		c.logger.Warn("semester cache encode failed", slog.Any("error", err))
		return
	}
	ttl := c.expiry(s, now).Sub(now)
	if ttl <= 0 {
		return
	}
	if err := c.client.Set(ctx, currentCacheKey, payload, ttl).Err(); err != nil {
		c.logger.Warn("semester cache write failed", slog.Any("error", err))
	}
}
