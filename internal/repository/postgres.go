// Package repository is the Postgres access layer. Every tenant-scoped query
// runs inside a transaction that sets app.current_user_id, which the row
// level security policies in schema.sql read. Cross-tenant reads are
// impossible by construction even if a query forgets its WHERE clause.
package repository

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(dbURL string) (*Repository, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse db url: %w", err)
	}

	if maxConnStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxConnStr != "" {
		if maxConn, err := strconv.Atoi(maxConnStr); err == nil {
			config.MaxConns = int32(maxConn)
		}
	}
	if minConnStr := os.Getenv("DB_MAX_IDLE_CONNS"); minConnStr != "" {
		if minConn, err := strconv.Atoi(minConnStr); err == nil {
			config.MinConns = int32(minConn)
		}
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	return &Repository{db: pool}, nil
}

func (r *Repository) Migrate(schemaPath string) error {
	content, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	_, err = r.db.Exec(context.Background(), string(content))
	if err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *Repository) Close() {
	r.db.Close()
}

// withTenant runs fn in a transaction whose app.current_user_id is set to
// ownerID. set_config with is_local=true scopes the variable to the
// transaction, so pooled connections never leak a tenant to the next caller.
func (r *Repository) withTenant(ctx context.Context, ownerID int64, fn func(pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return dbErr("begin tenant tx", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SELECT set_config('app.current_user_id', $1, true)", strconv.FormatInt(ownerID, 10))
	if err != nil {
		return dbErr("set tenant", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return dbErr("commit tenant tx", tx.Commit(ctx))
}

// withMaintenance runs fn as the cross-tenant maintenance actor. Only the
// stall reaper uses it; the jobs policy in schema.sql admits transactions
// whose app.maintenance setting is "reaper". Like withTenant, the setting is
// transaction-local and never leaks across pooled connections.
func (r *Repository) withMaintenance(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return dbErr("begin maintenance tx", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.maintenance', 'reaper', true)"); err != nil {
		return dbErr("set maintenance", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return dbErr("commit maintenance tx", tx.Commit(ctx))
}
