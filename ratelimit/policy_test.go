package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-smarthome/core"
)

var gatewayKey = Key{Target: "https://api.eu.amazonalexa.com/v3/events", Bucket: "events"}

func newTestThrottle(now *time.Time) (*GatewayThrottle, *MemoryWindowStore) {
	store := NewMemoryWindowStore()
	throttle := NewGatewayThrottle(store)
	throttle.Now = func() time.Time { return *now }
	return throttle, store
}

func TestGatewayThrottle_OpenWithoutHistory(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	throttle, _ := newTestThrottle(&now)
	if err := throttle.BeforeCall(context.Background(), gatewayKey); err != nil {
		t.Fatalf("expected open bucket, got %v", err)
	}
}

func TestGatewayThrottle_RetryAfterOpensWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	throttle, store := newTestThrottle(&now)
	ctx := context.Background()

	if err := throttle.AfterCall(ctx, gatewayKey, ResponseMeta{
		StatusCode: http.StatusTooManyRequests,
		Headers:    map[string]string{"retry-after": "10"},
	}); err != nil {
		t.Fatalf("after call: %v", err)
	}

	window, found, _ := store.Load(ctx, gatewayKey)
	if !found || window.Strikes != 1 || window.Until.Sub(now) != 10*time.Second {
		t.Fatalf("unexpected window %+v", window)
	}

	now = now.Add(4 * time.Second)
	err := throttle.BeforeCall(ctx, gatewayKey)
	if !IsThrottled(err) {
		t.Fatalf("expected throttled, got %v", err)
	}
	if core.HTTPStatus(err) != http.StatusTooManyRequests {
		t.Fatalf("expected 429 mapping, got %d", core.HTTPStatus(err))
	}
	mapped := err.(ThrottledError).ToServiceError()
	if mapped.TextCode != core.ErrorRateLimited || mapped.Metadata["retry_after_ms"] != int64(6000) {
		t.Fatalf("unexpected service error %+v", mapped)
	}

	now = now.Add(6 * time.Second)
	if err := throttle.BeforeCall(ctx, gatewayKey); err != nil {
		t.Fatalf("expected window to close, got %v", err)
	}
}

func TestGatewayThrottle_BackoffDoublesPerStrike(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	throttle, store := newTestThrottle(&now)
	throttle.InitialBackoff = 2 * time.Second
	throttle.MaxBackoff = 5 * time.Second
	ctx := context.Background()

	want := []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second}
	for i, delay := range want {
		if err := throttle.AfterCall(ctx, gatewayKey, ResponseMeta{StatusCode: http.StatusTooManyRequests}); err != nil {
			t.Fatalf("strike %d: %v", i+1, err)
		}
		window, _, _ := store.Load(ctx, gatewayKey)
		if got := window.Until.Sub(now); got != delay {
			t.Fatalf("strike %d: expected %s window, got %s", i+1, delay, got)
		}
	}
}

func TestGatewayThrottle_ParsedRetryAfterWins(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	throttle, store := newTestThrottle(&now)
	hint := 7 * time.Second

	if err := throttle.AfterCall(context.Background(), gatewayKey, ResponseMeta{
		StatusCode: http.StatusTooManyRequests,
		Headers:    map[string]string{"Retry-After": "90"},
		RetryAfter: &hint,
	}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	window, _, _ := store.Load(context.Background(), gatewayKey)
	if window.Until.Sub(now) != hint {
		t.Fatalf("expected parsed hint, got %s", window.Until.Sub(now))
	}
}

func TestGatewayThrottle_ServerErrorsLeaveWindowAlone(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	throttle, store := newTestThrottle(&now)
	ctx := context.Background()

	if err := throttle.AfterCall(ctx, gatewayKey, ResponseMeta{StatusCode: http.StatusServiceUnavailable}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	if _, found, _ := store.Load(ctx, gatewayKey); found {
		t.Fatalf("expected no window after 503")
	}
	if err := throttle.BeforeCall(ctx, gatewayKey); err != nil {
		t.Fatalf("expected open bucket, got %v", err)
	}
}

func TestGatewayThrottle_AcceptedReplyClosesWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	throttle, store := newTestThrottle(&now)
	ctx := context.Background()

	if err := store.Save(ctx, Window{Key: gatewayKey, Strikes: 3, Until: now.Add(10 * time.Second)}); err != nil {
		t.Fatalf("seed window: %v", err)
	}
	now = now.Add(12 * time.Second)
	if err := throttle.AfterCall(ctx, gatewayKey, ResponseMeta{StatusCode: http.StatusAccepted}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	window, _, _ := store.Load(ctx, gatewayKey)
	if window.Strikes != 0 || !window.Until.IsZero() || window.LastStatus != http.StatusAccepted {
		t.Fatalf("expected closed window, got %+v", window)
	}
}

func TestKeyNormalization(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	throttle, _ := newTestThrottle(&now)
	ctx := context.Background()

	if err := throttle.AfterCall(ctx, Key{Target: " HTTPS://API.EU.AMAZONALEXA.COM/v3/events ", Bucket: "Events"}, ResponseMeta{
		StatusCode: http.StatusTooManyRequests,
	}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	if err := throttle.BeforeCall(ctx, gatewayKey); !IsThrottled(err) {
		t.Fatalf("expected normalized key to share the window, got %v", err)
	}
}
