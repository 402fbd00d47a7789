package sqlstore

import (
	"fmt"
	"sync"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-smarthome/core"
)

// RepositoryFactory opens the endpoint, credential and outbox stores on one
// bun database. It satisfies core.RepositoryStoreFactory so a service
// builder can hand it a go-persistence-bun client, and core.StoreProvider
// once built.
type RepositoryFactory struct {
	mu    sync.Mutex
	db    *bun.DB
	cache repositorycache.CacheService

	registry    core.EndpointRegistry
	credentials *CredentialStore
	outbox      *OutboxStore
}

type FactoryOption func(*RepositoryFactory)

// WithEndpointCache serves endpoint reads through cacheService. Writes and
// deletes invalidate the cached entries.
func WithEndpointCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cache = cacheService
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	f := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	return buildFactory(client, opts)
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	return buildFactory(db, opts)
}

func buildFactory(source any, opts []FactoryOption) (*RepositoryFactory, error) {
	f := NewRepositoryFactory(opts...)
	if _, err := f.BuildStores(source); err != nil {
		return nil, err
	}
	return f, nil
}

// BuildStores accepts a *bun.DB or anything with a DB() *bun.DB method.
// Building twice returns the stores of the first call.
func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outbox != nil {
		return f, nil
	}
	if f.db == nil {
		db, err := bunDBOf(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}

	endpoints, err := NewEndpointStore(f.db)
	if err != nil {
		return nil, err
	}
	credentials, err := NewCredentialStore(f.db)
	if err != nil {
		return nil, err
	}
	outbox, err := NewOutboxStore(f.db)
	if err != nil {
		return nil, err
	}
	var registry core.EndpointRegistry = endpoints
	if f.cache != nil {
		cached, err := NewCachedEndpointStore(endpoints, f.cache)
		if err != nil {
			return nil, err
		}
		registry = cached
	}

	f.registry, f.credentials, f.outbox = registry, credentials, outbox
	return f, nil
}

// EndpointRegistry returns the cached registry when a cache was configured.
func (f *RepositoryFactory) EndpointRegistry() core.EndpointRegistry {
	if f == nil {
		return nil
	}
	return f.registry
}

func (f *RepositoryFactory) CredentialStore() core.CredentialStore {
	if f == nil || f.credentials == nil {
		return nil
	}
	return f.credentials
}

func (f *RepositoryFactory) OutboxStore() core.OutboxStore {
	if f == nil || f.outbox == nil {
		return nil
	}
	return f.outbox
}

// Outbox exposes the concrete outbox for status inspection.
func (f *RepositoryFactory) Outbox() *OutboxStore {
	if f == nil {
		return nil
	}
	return f.outbox
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func bunDBOf(source any) (*bun.DB, error) {
	switch typed := source.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		if db := typed.DB(); db != nil {
			return db, nil
		}
		return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", source)
	}
}
