// Package migrations resolves the embedded SQL schema for a storage driver
// and hands it to a migration runner.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strings"

	smarthome "github.com/goliatone/go-smarthome"
	"github.com/goliatone/go-smarthome/core"
)

const schemaRoot = "data/sql/migrations"

// CoreTables are created by the core schema for every SQL driver.
var CoreTables = []string{
	"smarthome_endpoints",
	"smarthome_credentials",
	"smarthome_lifecycle_outbox",
}

// Schema is the migration set of one storage driver.
type Schema struct {
	Driver string
	Dir    string
	FS     fs.FS
	Tables []string
}

// RegisterFunc receives the verified migration filesystem of a driver.
type RegisterFunc func(ctx context.Context, driver string, fsys fs.FS) error

var createTablePattern = regexp.MustCompile(`(?i)create\s+table\s+(?:if\s+not\s+exists\s+)?"?([a-z0-9_]+)"?`)

// ForDriver returns the schema of a SQL storage driver. The optional source
// replaces the embedded migration tree.
func ForDriver(driver string, sources ...fs.FS) (Schema, error) {
	root := smarthome.GetCoreMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}
	base, err := fs.Sub(root, schemaRoot)
	if err != nil {
		return Schema{}, fmt.Errorf("migrations: resolve %s: %w", schemaRoot, err)
	}

	switch strings.TrimSpace(driver) {
	case core.StorageDriverPostgres:
		return Schema{Driver: core.StorageDriverPostgres, Dir: schemaRoot, FS: base, Tables: CoreTables}, nil
	case core.StorageDriverSQLite:
		sqliteFS, err := fs.Sub(base, "sqlite")
		if err != nil {
			return Schema{}, fmt.Errorf("migrations: resolve sqlite schema: %w", err)
		}
		return Schema{Driver: core.StorageDriverSQLite, Dir: schemaRoot + "/sqlite", FS: sqliteFS, Tables: CoreTables}, nil
	default:
		return Schema{}, fmt.Errorf("migrations: driver %q has no SQL schema", driver)
	}
}

// Verify checks that every up migration has a down partner and that the up
// migrations create all of the schema's tables.
func (s Schema) Verify() error {
	if s.FS == nil {
		return fmt.Errorf("migrations: %s schema has no filesystem", s.Driver)
	}
	ups, err := fs.Glob(s.FS, "*.up.sql")
	if err != nil {
		return fmt.Errorf("migrations: glob %s: %w", s.Dir, err)
	}
	if len(ups) == 0 {
		return fmt.Errorf("migrations: %s has no *.up.sql files", s.Dir)
	}

	created := make([]string, 0, len(s.Tables))
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(s.FS, down); err != nil {
			return fmt.Errorf("migrations: %s/%s has no down migration", s.Dir, up)
		}
		content, err := fs.ReadFile(s.FS, up)
		if err != nil {
			return fmt.Errorf("migrations: read %s/%s: %w", s.Dir, up, err)
		}
		for _, match := range createTablePattern.FindAllStringSubmatch(string(content), -1) {
			created = append(created, strings.ToLower(match[1]))
		}
	}
	for _, table := range s.Tables {
		if !slices.Contains(created, table) {
			return fmt.Errorf("migrations: %s does not create table %s", s.Dir, table)
		}
	}
	return nil
}

// Apply verifies the driver's schema and passes it to register.
func Apply(ctx context.Context, driver string, register RegisterFunc) (Schema, error) {
	if register == nil {
		return Schema{}, fmt.Errorf("migrations: register function is required")
	}
	schema, err := ForDriver(driver)
	if err != nil {
		return Schema{}, err
	}
	if err := schema.Verify(); err != nil {
		return schema, err
	}
	if err := register(ctx, schema.Driver, schema.FS); err != nil {
		return schema, fmt.Errorf("migrations: register %s: %w", schema.Driver, err)
	}
	return schema, nil
}
