package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-smarthome/core"
)

const (
	endpointCacheKeyPrefix     = "go-smarthome::endpoint::v1"
	userEndpointCacheKeyPrefix = "go-smarthome::user_endpoints::v1"
)

// CachedEndpointStore serves Get and FindByUser through a read-through cache
// and drops the affected keys on every write.
type CachedEndpointStore struct {
	base  core.EndpointRegistry
	cache repositorycache.CacheService
}

func NewCachedEndpointStore(
	base core.EndpointRegistry,
	cacheService repositorycache.CacheService,
) (*CachedEndpointStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base endpoint registry is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: endpoint cache service is required")
	}
	return &CachedEndpointStore{base: base, cache: cacheService}, nil
}

// EndpointCacheKey returns go-smarthome::endpoint::v1::<endpoint_id> with the
// id URL-path escaped.
func EndpointCacheKey(endpointID string) (string, error) {
	return cacheKey(endpointCacheKeyPrefix, "endpoint id", endpointID)
}

// UserEndpointsCacheKey returns go-smarthome::user_endpoints::v1::<user_id>.
func UserEndpointsCacheKey(userID string) (string, error) {
	return cacheKey(userEndpointCacheKeyPrefix, "user id", userID)
}

func cacheKey(prefix, label, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("sqlstore: %s is required for cache key", label)
	}
	return prefix + "::" + url.PathEscape(value), nil
}

func (s *CachedEndpointStore) Get(ctx context.Context, endpointID string) (core.EndpointDescriptor, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.EndpointDescriptor{}, fmt.Errorf("sqlstore: cached endpoint store is not configured")
	}
	key, err := EndpointCacheKey(endpointID)
	if err != nil {
		return core.EndpointDescriptor{}, core.ErrEndpointNotFound
	}
	endpoint, err := repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (core.EndpointDescriptor, error) {
		return s.base.Get(ctx, strings.TrimSpace(endpointID))
	})
	if err != nil {
		return core.EndpointDescriptor{}, err
	}
	return endpoint.Clone(), nil
}

func (s *CachedEndpointStore) FindByUser(ctx context.Context, userID string) ([]core.EndpointDescriptor, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached endpoint store is not configured")
	}
	key, err := UserEndpointsCacheKey(userID)
	if err != nil {
		return s.base.FindByUser(ctx, userID)
	}
	endpoints, err := repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) ([]core.EndpointDescriptor, error) {
		return s.base.FindByUser(ctx, strings.TrimSpace(userID))
	})
	if err != nil {
		return nil, err
	}
	return cloneDescriptors(endpoints), nil
}

func (s *CachedEndpointStore) List(ctx context.Context) ([]core.EndpointDescriptor, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached endpoint store is not configured")
	}
	return s.base.List(ctx)
}

func (s *CachedEndpointStore) Upsert(ctx context.Context, endpoint core.EndpointDescriptor) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached endpoint store is not configured")
	}
	previous, err := s.base.Get(ctx, endpoint.EndpointID)
	if err != nil && !errors.Is(err, core.ErrEndpointNotFound) {
		return err
	}
	if err := s.base.Upsert(ctx, endpoint); err != nil {
		return err
	}
	return s.invalidate(ctx, endpoint, previous)
}

func (s *CachedEndpointStore) Delete(ctx context.Context, endpointID string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached endpoint store is not configured")
	}
	previous, err := s.base.Get(ctx, endpointID)
	if err != nil && !errors.Is(err, core.ErrEndpointNotFound) {
		return err
	}
	if err := s.base.Delete(ctx, endpointID); err != nil {
		return err
	}
	return s.invalidate(ctx, core.EndpointDescriptor{EndpointID: endpointID}, previous)
}

func (s *CachedEndpointStore) DeleteAll(ctx context.Context) ([]core.EndpointDescriptor, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached endpoint store is not configured")
	}
	deleted, deleteErr := s.base.DeleteAll(ctx)
	var invalidateErr error
	for _, endpoint := range deleted {
		if err := s.invalidate(ctx, endpoint); err != nil {
			invalidateErr = errors.Join(invalidateErr, err)
		}
	}
	return deleted, errors.Join(deleteErr, invalidateErr)
}

func (s *CachedEndpointStore) invalidate(ctx context.Context, endpoints ...core.EndpointDescriptor) error {
	keys := map[string]struct{}{}
	for _, endpoint := range endpoints {
		if key, err := EndpointCacheKey(endpoint.EndpointID); err == nil {
			keys[key] = struct{}{}
		}
		if key, err := UserEndpointsCacheKey(endpoint.UserID); err == nil {
			keys[key] = struct{}{}
		}
	}
	for key := range keys {
		if err := s.cache.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func cloneDescriptors(in []core.EndpointDescriptor) []core.EndpointDescriptor {
	out := make([]core.EndpointDescriptor, 0, len(in))
	for _, endpoint := range in {
		out = append(out, endpoint.Clone())
	}
	return out
}

var _ core.EndpointRegistry = (*CachedEndpointStore)(nil)
