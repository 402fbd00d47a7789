package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-smarthome/core"
)

type countingRegistry struct {
	*core.MemoryEndpointRegistry

	mu        sync.Mutex
	getCalls  int
	findCalls int
	getErr    error
}

func newCountingRegistry() *countingRegistry {
	return &countingRegistry{MemoryEndpointRegistry: core.NewMemoryEndpointRegistry()}
}

func (r *countingRegistry) Get(ctx context.Context, endpointID string) (core.EndpointDescriptor, error) {
	r.mu.Lock()
	r.getCalls++
	getErr := r.getErr
	r.mu.Unlock()
	if getErr != nil {
		return core.EndpointDescriptor{}, getErr
	}
	return r.MemoryEndpointRegistry.Get(ctx, endpointID)
}

func (r *countingRegistry) FindByUser(ctx context.Context, userID string) ([]core.EndpointDescriptor, error) {
	r.mu.Lock()
	r.findCalls++
	r.mu.Unlock()
	return r.MemoryEndpointRegistry.FindByUser(ctx, userID)
}

func (r *countingRegistry) calls() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getCalls, r.findCalls
}

func TestCachedEndpointStore_GetMissFetchThenHit(t *testing.T) {
	ctx := context.Background()
	base := newCountingRegistry()
	if err := base.MemoryEndpointRegistry.Upsert(ctx, testDescriptor("e1", "u1")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store, err := NewCachedEndpointStore(base, newTestEndpointCacheService(t))
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}

	for i := 0; i < 2; i++ {
		endpoint, err := store.Get(ctx, "e1")
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if endpoint.UserID != "u1" {
			t.Fatalf("unexpected endpoint %+v", endpoint)
		}
	}
	if gets, _ := base.calls(); gets != 1 {
		t.Fatalf("expected one base get, got %d", gets)
	}
}

func TestCachedEndpointStore_UpsertInvalidatesEndpointAndUserKeys(t *testing.T) {
	ctx := context.Background()
	base := newCountingRegistry()
	store, err := NewCachedEndpointStore(base, newTestEndpointCacheService(t))
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}
	if err := store.Upsert(ctx, testDescriptor("e1", "u1")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if found, err := store.FindByUser(ctx, "u1"); err != nil || len(found) != 1 {
		t.Fatalf("find u1: %v %+v", err, found)
	}

	moved := testDescriptor("e1", "u2")
	moved.FriendlyName = "Renamed"
	if err := store.Upsert(ctx, moved); err != nil {
		t.Fatalf("upsert moved: %v", err)
	}

	found, err := store.FindByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("find u1 after move: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("expected stale user key to be dropped, got %+v", found)
	}
	endpoint, err := store.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if endpoint.FriendlyName != "Renamed" || endpoint.UserID != "u2" {
		t.Fatalf("expected fresh endpoint, got %+v", endpoint)
	}
}

func TestCachedEndpointStore_DeleteAllInvalidates(t *testing.T) {
	ctx := context.Background()
	base := newCountingRegistry()
	store, err := NewCachedEndpointStore(base, newTestEndpointCacheService(t))
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}
	for _, id := range []string{"e1", "e2"} {
		if err := store.Upsert(ctx, testDescriptor(id, "u1")); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
		if _, err := store.Get(ctx, id); err != nil {
			t.Fatalf("warm %s: %v", id, err)
		}
	}

	deleted, err := store.DeleteAll(ctx)
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("expected two deleted endpoints, got %d", len(deleted))
	}
	if _, err := store.Get(ctx, "e1"); !errors.Is(err, core.ErrEndpointNotFound) {
		t.Fatalf("expected not found after delete all, got %v", err)
	}
}

func TestCachedEndpointStore_PropagatesBaseErrors(t *testing.T) {
	base := newCountingRegistry()
	base.getErr = core.NewStorageError("endpoint get", errors.New("boom"))
	store, err := NewCachedEndpointStore(base, newTestEndpointCacheService(t))
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}
	if _, err := store.Get(context.Background(), "e1"); !core.IsStorageError(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestEndpointCacheKey_EscapesSegments(t *testing.T) {
	key, err := EndpointCacheKey("a/b c")
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	if key != "go-smarthome::endpoint::v1::a%2Fb%20c" {
		t.Fatalf("unexpected key %q", key)
	}
	if _, err := UserEndpointsCacheKey(" "); err == nil {
		t.Fatalf("expected empty user id error")
	}
}

func testDescriptor(endpointID, userID string) core.EndpointDescriptor {
	return core.EndpointDescriptor{
		EndpointID:        endpointID,
		UserID:            userID,
		FriendlyName:      "Blue Sample Endpoint",
		Description:       core.DefaultEndpointDescription,
		ManufacturerName:  core.DefaultManufacturerName,
		DisplayCategories: []string{core.DefaultDisplayCategory},
		Capabilities:      core.DefaultCapabilities(),
	}
}

func newTestEndpointCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
