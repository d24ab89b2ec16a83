package database

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewSchemaScopedClient opens a pool against dsnWithSchema (a connection
// string whose search_path already names schemaName), applies the embedded
// migrations inside that schema, and creates the full-text GIN indexes.
//
// Used by test helpers that give each test its own PostgreSQL schema for
// isolation while sharing one running server/container across a package.
func NewSchemaScopedClient(ctx context.Context, dsnWithSchema, schemaName string) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(dsnWithSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runSchemaScopedMigrations(dsnWithSchema, schemaName); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createGINIndexes(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create GIN indexes: %w", err)
	}

	return &Client{Pool: pool}, nil
}

// runSchemaScopedMigrations applies the embedded migrations inside
// schemaName, recording migration version state in that same schema so
// parallel test schemas never collide.
func runSchemaScopedMigrations(dsnWithSchema, schemaName string) error {
	db, err := stdsql.Open("pgx", dsnWithSchema)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{SchemaName: schemaName})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	defer sourceDriver.Close()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, schemaName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
