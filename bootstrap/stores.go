package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-smarthome/core"
	smarthomemigrations "github.com/goliatone/go-smarthome/migrations"
	"github.com/goliatone/go-smarthome/store/dynamo"
	sqlstore "github.com/goliatone/go-smarthome/store/sql"
)

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-smarthome" }

// storeWiring is what a storage driver contributes to the service.
type storeWiring struct {
	options []core.Option
	close   func() error
}

func buildStores(ctx context.Context, cfg core.Config, opts Options) (storeWiring, error) {
	driver := strings.TrimSpace(cfg.Storage.Driver)
	switch driver {
	case "", core.StorageDriverMemory:
		return storeWiring{}, nil
	case core.StorageDriverSQLite, core.StorageDriverPostgres:
		return buildSQLStores(ctx, cfg, opts)
	case core.StorageDriverDynamoDB:
		return buildDynamoStores(ctx, cfg, opts)
	default:
		return storeWiring{}, fmt.Errorf("bootstrap: unsupported storage driver %q", driver)
	}
}

func buildSQLStores(ctx context.Context, cfg core.Config, opts Options) (storeWiring, error) {
	driver := cfg.Storage.Driver
	dsn := strings.TrimSpace(cfg.Storage.DSN)
	if dsn == "" {
		return storeWiring{}, fmt.Errorf("bootstrap: storage dsn is required for driver %s", driver)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return storeWiring{}, fmt.Errorf("bootstrap: open %s: %w", driver, err)
	}
	pcfg := persistenceConfig{driver: driver, server: dsn}
	var client *persistence.Client
	if driver == core.StorageDriverSQLite {
		sqlDB.SetMaxOpenConns(1)
		client, err = persistence.New(pcfg, sqlDB, sqlitedialect.New())
	} else {
		client, err = persistence.New(pcfg, sqlDB, pgdialect.New())
	}
	if err != nil {
		_ = sqlDB.Close()
		return storeWiring{}, fmt.Errorf("bootstrap: persistence client: %w", err)
	}
	closeClient := func() error { return client.Close() }

	if opts.Migrate {
		if err := migrate(ctx, client, driver); err != nil {
			_ = closeClient()
			return storeWiring{}, err
		}
	}

	var factoryOpts []sqlstore.FactoryOption
	if cfg.Storage.CacheTTL > 0 {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = cfg.Storage.CacheTTL
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			_ = closeClient()
			return storeWiring{}, fmt.Errorf("bootstrap: endpoint cache: %w", err)
		}
		factoryOpts = append(factoryOpts, sqlstore.WithEndpointCache(cacheService))
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, factoryOpts...)
	if err != nil {
		_ = closeClient()
		return storeWiring{}, err
	}
	return storeWiring{
		options: []core.Option{
			core.WithPersistenceClient(client),
			core.WithRepositoryFactory(factory),
		},
		close: closeClient,
	}, nil
}

func migrate(ctx context.Context, client *persistence.Client, driver string) error {
	_, err := smarthomemigrations.Apply(ctx, driver, func(_ context.Context, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	})
	if err != nil {
		return fmt.Errorf("bootstrap: register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("bootstrap: migrate: %w", err)
	}
	return nil
}

func buildDynamoStores(ctx context.Context, cfg core.Config, opts Options) (storeWiring, error) {
	client := opts.DynamoClient
	if client == nil {
		loaded, err := dynamo.NewClient(ctx)
		if err != nil {
			return storeWiring{}, err
		}
		client = loaded
	}
	stores, err := dynamo.NewStores(client, cfg.Storage)
	if err != nil {
		return storeWiring{}, err
	}
	return storeWiring{
		options: []core.Option{core.WithRepositoryFactory(stores)},
	}, nil
}
