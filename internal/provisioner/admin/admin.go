// Package admin holds the cluster-level connection used to create and
// drop tenant databases.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/opencorehq/tenantcore/internal/config"
	"github.com/opencorehq/tenantcore/internal/provisioner/domain"
)

const (
	pgDuplicateDatabase = "42P04"
	pgDuplicateObject   = "42710"
	pgInvalidCatalog    = "3D000"
)

type pgxAdmin struct {
	dsn string
}

// New builds the tenant cluster admin connection from process config.
// Each operation dials its own short-lived connection, provisioning is
// rare enough that pooling buys nothing.
func New(cfg config.Config) domain.AdminConn {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/postgres?sslmode=%s",
		cfg.TenantDBAdminUser,
		cfg.TenantDBAdminPass,
		cfg.TenantDBHost,
		cfg.TenantDBPort,
		cfg.TenantDBSSLMode,
	)
	return &pgxAdmin{dsn: dsn}
}

func (a *pgxAdmin) connect(ctx context.Context) (*pgx.Conn, error) {
	return pgx.Connect(ctx, a.dsn)
}

// CreateDatabase creates a login role owning a fresh database. Both
// statements tolerate an earlier partial run.
func (a *pgxAdmin) CreateDatabase(ctx context.Context, name, owner, password string) error {
	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	role := fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD '%s'",
		pgx.Identifier{owner}.Sanitize(),
		strings.ReplaceAll(password, "'", "''"),
	)
	if _, err := conn.Exec(ctx, role); err != nil && !hasPGCode(err, pgDuplicateObject) {
		return err
	}

	create := fmt.Sprintf("CREATE DATABASE %s OWNER %s",
		pgx.Identifier{name}.Sanitize(),
		pgx.Identifier{owner}.Sanitize(),
	)
	if _, err := conn.Exec(ctx, create); err != nil && !hasPGCode(err, pgDuplicateDatabase) {
		return err
	}
	return nil
}

func (a *pgxAdmin) DatabaseExists(ctx context.Context, name string) (bool, error) {
	conn, err := a.connect(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close(ctx)

	var exists bool
	err = conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	return exists, err
}

func (a *pgxAdmin) DropDatabase(ctx context.Context, name string) error {
	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	drop := fmt.Sprintf("DROP DATABASE IF EXISTS %s", pgx.Identifier{name}.Sanitize())
	if _, err := conn.Exec(ctx, drop); err != nil && !hasPGCode(err, pgInvalidCatalog) {
		return err
	}
	return nil
}

func (a *pgxAdmin) Ping(ctx context.Context) error {
	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	return conn.Ping(ctx)
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
