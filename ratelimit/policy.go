// Package ratelimit remembers when an upstream asked callers to back off and
// refuses calls locally until that window has passed.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-smarthome/core"
)

// Key names one throttle bucket, for example the event gateway of a region.
type Key struct {
	Target string
	Bucket string
}

func (k Key) normalized() Key {
	return Key{
		Target: strings.ToLower(strings.TrimSpace(k.Target)),
		Bucket: strings.ToLower(strings.TrimSpace(k.Bucket)),
	}
}

// ResponseMeta is what a policy needs from an upstream reply.
type ResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
}

// Policy gates outbound calls on previously observed throttling.
type Policy interface {
	BeforeCall(ctx context.Context, key Key) error
	AfterCall(ctx context.Context, key Key, res ResponseMeta) error
}

// Window is the throttle state of one bucket. A zero Until means open.
type Window struct {
	Key        Key
	Until      time.Time
	Strikes    int
	LastStatus int
	UpdatedAt  time.Time
}

type WindowStore interface {
	Load(ctx context.Context, key Key) (Window, bool, error)
	Save(ctx context.Context, window Window) error
}

type ThrottledError struct {
	Key        Key
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: %s/%s throttled for %s", e.Key.Target, e.Key.Bucket, e.RetryAfter)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(map[string]any{
			"target":         e.Key.Target,
			"bucket":         e.Key.Bucket,
			"retry_after_ms": e.RetryAfter.Milliseconds(),
		})
}

// IsThrottled reports whether err is a local throttle rejection.
func IsThrottled(err error) bool {
	var throttled ThrottledError
	return errors.As(err, &throttled)
}

// GatewayThrottle opens a window after a 429 and closes it on the next
// accepted reply. The window follows Retry-After when the upstream sends
// one; otherwise it doubles per consecutive 429 from InitialBackoff up to
// MaxBackoff. Other failures leave the window alone.
type GatewayThrottle struct {
	Store          WindowStore
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewGatewayThrottle(store WindowStore) *GatewayThrottle {
	return &GatewayThrottle{
		Store:          store,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

func (g *GatewayThrottle) BeforeCall(ctx context.Context, key Key) error {
	if g == nil || g.Store == nil {
		return nil
	}
	window, found, err := g.Store.Load(ctx, key.normalized())
	if err != nil || !found {
		return err
	}
	if wait := window.Until.Sub(g.now()); wait > 0 {
		return ThrottledError{Key: window.Key, RetryAfter: wait}
	}
	return nil
}

func (g *GatewayThrottle) AfterCall(ctx context.Context, key Key, res ResponseMeta) error {
	if g == nil || g.Store == nil {
		return nil
	}
	key = key.normalized()
	window, _, err := g.Store.Load(ctx, key)
	if err != nil {
		return err
	}
	now := g.now()
	window.Key = key
	window.LastStatus = res.StatusCode
	window.UpdatedAt = now

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		window.Strikes++
		delay, ok := retryAfter(res, now)
		if !ok {
			delay = g.backoff(window.Strikes)
		}
		window.Until = now.Add(delay)
	case res.StatusCode >= http.StatusOK && res.StatusCode < http.StatusMultipleChoices:
		window.Strikes = 0
		window.Until = time.Time{}
	default:
		return nil
	}
	return g.Store.Save(ctx, window)
}

func (g *GatewayThrottle) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func (g *GatewayThrottle) backoff(strikes int) time.Duration {
	delay := g.InitialBackoff
	if delay <= 0 {
		delay = time.Second
	}
	ceiling := g.MaxBackoff
	if ceiling < delay {
		ceiling = delay
	}
	for i := 1; i < strikes && delay < ceiling; i++ {
		delay *= 2
	}
	return min(delay, ceiling)
}

// retryAfter reads the parsed hint first, then the raw header in seconds or
// HTTP-date form.
func retryAfter(res ResponseMeta, now time.Time) (time.Duration, bool) {
	if res.RetryAfter != nil && *res.RetryAfter > 0 {
		return *res.RetryAfter, true
	}
	var raw string
	for name, value := range res.Headers {
		if strings.EqualFold(strings.TrimSpace(name), "Retry-After") {
			raw = strings.TrimSpace(value)
			break
		}
	}
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, seconds > 0
	}
	if at, err := http.ParseTime(raw); err == nil && at.After(now) {
		return at.Sub(now), true
	}
	return 0, false
}

// MemoryWindowStore keeps windows for the life of the process.
type MemoryWindowStore struct {
	mu      sync.RWMutex
	windows map[Key]Window
}

func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: map[Key]Window{}}
}

func (s *MemoryWindowStore) Load(_ context.Context, key Key) (Window, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	window, ok := s.windows[key.normalized()]
	return window, ok, nil
}

func (s *MemoryWindowStore) Save(_ context.Context, window Window) error {
	window.Key = window.Key.normalized()
	s.mu.Lock()
	s.windows[window.Key] = window
	s.mu.Unlock()
	return nil
}

var (
	_ Policy      = (*GatewayThrottle)(nil)
	_ WindowStore = (*MemoryWindowStore)(nil)
)
