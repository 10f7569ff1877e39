// Package tenantschema applies the per-tenant application schema to a
// tenant database addressed by DSN.
package tenantschema

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/opencorehq/tenantcore/internal/provisioner/domain"
)

//go:embed sql/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "sql"

type migrator struct{}

// NewMigrator returns the tenant schema migrator.
func NewMigrator() domain.Migrator {
	return &migrator{}
}

func (m *migrator) Up(dsn string) error {
	return withMigrator(dsn, func(mig *migrate.Migrate) error {
		if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("apply tenant migrations: %w", err)
		}
		return nil
	})
}

func (m *migrator) Steps(dsn string, n int) error {
	return withMigrator(dsn, func(mig *migrate.Migrate) error {
		if err := mig.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("step tenant migrations: %w", err)
		}
		return nil
	})
}

func (m *migrator) Version(dsn string) (uint, bool, error) {
	var version uint
	var dirty bool
	err := withMigrator(dsn, func(mig *migrate.Migrate) error {
		v, d, verErr := mig.Version()
		if verErr != nil {
			if errors.Is(verErr, migrate.ErrNilVersion) {
				return nil
			}
			return fmt.Errorf("read tenant migration version: %w", verErr)
		}
		version, dirty = v, d
		return nil
	})
	return version, dirty, err
}

func withMigrator(dsn string, fn func(*migrate.Migrate) error) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open tenant migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create tenant migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create tenant migration driver: %w", err)
	}
	mig, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create tenant migrator: %w", err)
	}
	return fn(mig)
}

type seeder struct {
	genID *snowflake.Node
}

// NewSeeder returns the tenant database bootstrapper.
func NewSeeder(genID *snowflake.Node) domain.Seeder {
	return &seeder{genID: genID}
}

// SeedAdmin inserts the initial admin user into a freshly migrated
// tenant database. Re-running against a seeded database is a no-op.
func (s *seeder) SeedAdmin(ctx context.Context, dsn, email, passwordHash string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	now := time.Now().UTC()
	_, err = db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, display_name, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'admin', $5, $5)
		 ON CONFLICT (email) DO NOTHING`,
		int64(s.genID.Generate()), email, passwordHash, "Administrator", now,
	)
	return err
}
