package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/opencorehq/tenantcore/internal/clock"
	"github.com/opencorehq/tenantcore/internal/config"
	"github.com/opencorehq/tenantcore/internal/provisioner/domain"
	"github.com/opencorehq/tenantcore/internal/provisioner/repository"
	"github.com/opencorehq/tenantcore/internal/provisioner/secret"
	tenantdomain "github.com/opencorehq/tenantcore/internal/tenant/domain"
	tenantrepo "github.com/opencorehq/tenantcore/internal/tenant/repository"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	stripLocking := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripLocking))
	require.NoError(t, db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripLocking))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	for _, ddl := range []string{
		`CREATE TABLE tenants (
			id INTEGER PRIMARY KEY,
			uuid TEXT NOT NULL,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			subdomain TEXT NOT NULL,
			custom_domain TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			approved_at DATETIME,
			approved_by TEXT NOT NULL DEFAULT '',
			database_provisioning_status TEXT NOT NULL DEFAULT 'pending',
			trial_ends_at DATETIME,
			has_used_trial BOOLEAN NOT NULL DEFAULT 0,
			metadata TEXT,
			notes TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			deleted_at DATETIME
		)`,
		`CREATE TABLE tenant_databases (
			id INTEGER PRIMARY KEY,
			tenant_id INTEGER NOT NULL UNIQUE,
			host TEXT NOT NULL DEFAULT '',
			port TEXT NOT NULL DEFAULT '5432',
			name TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			encrypted_password TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL DEFAULT 'auto',
			provisioning_status TEXT NOT NULL DEFAULT 'pending',
			error_message TEXT NOT NULL DEFAULT '',
			provisioned_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE tenant_provision_steps (
			id INTEGER PRIMARY KEY,
			tenant_id INTEGER NOT NULL,
			step TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			error_message TEXT NOT NULL DEFAULT '',
			completed_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE (tenant_id, step)
		)`,
	} {
		require.NoError(t, db.Exec(ddl).Error)
	}
	return db
}

type fakeAdmin struct {
	created    []string
	failCreate error
}

func (f *fakeAdmin) CreateDatabase(_ context.Context, name, _, _ string) error {
	if f.failCreate != nil {
		return f.failCreate
	}
	f.created = append(f.created, name)
	return nil
}

func (f *fakeAdmin) DatabaseExists(_ context.Context, name string) (bool, error) {
	for _, n := range f.created {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAdmin) DropDatabase(_ context.Context, _ string) error { return nil }
func (f *fakeAdmin) Ping(_ context.Context) error                   { return nil }

type fakeMigrator struct {
	upCalls   []string
	failUp    error
	version   uint
	stepCalls int
}

func (f *fakeMigrator) Up(dsn string) error {
	if f.failUp != nil {
		return f.failUp
	}
	f.upCalls = append(f.upCalls, dsn)
	f.version = 1
	return nil
}

func (f *fakeMigrator) Steps(_ string, n int) error {
	f.stepCalls += n
	return nil
}

func (f *fakeMigrator) Version(_ string) (uint, bool, error) {
	return f.version, false, nil
}

type fakeSeeder struct {
	emails   []string
	failSeed error
}

func (f *fakeSeeder) SeedAdmin(_ context.Context, _, email, passwordHash string) error {
	if f.failSeed != nil {
		return f.failSeed
	}
	if passwordHash == "" {
		return errors.New("missing password hash")
	}
	f.emails = append(f.emails, email)
	return nil
}

type fixture struct {
	svc      *Service
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	admin    *fakeAdmin
	migrator *fakeMigrator
	seeder   *fakeSeeder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := openTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC))

	cipher, err := secret.NewCipher("")
	require.NoError(t, err)

	admin := &fakeAdmin{}
	migrator := &fakeMigrator{}
	seeder := &fakeSeeder{}
	svc := &Service{
		db:  db,
		log: zaptest.NewLogger(t),
		cfg: config.Config{
			TenantDBHost:    "db.internal",
			TenantDBPort:    "5432",
			TenantDBSSLMode: "disable",
		},
		genID: node,
		clock: fc,
		repo:  repository.Provide(node),

		tenants:  tenantrepo.Provide(),
		admin:    admin,
		migrator: migrator,
		seeder:   seeder,
		cipher:   cipher,
	}
	return &fixture{svc: svc, db: db, node: node, clock: fc, admin: admin, migrator: migrator, seeder: seeder}
}

func (f *fixture) seedTenant(t *testing.T, status tenantdomain.Status) tenantdomain.Tenant {
	t.Helper()
	now := f.clock.Now()
	tenant := tenantdomain.Tenant{
		ID:        f.node.Generate(),
		UUID:      uuid.New(),
		Name:      "Acme",
		Email:     "owner@acme.test",
		Subdomain: "acme-corp",
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.db.Create(&tenant).Error)
	return tenant
}

func TestProvision(t *testing.T) {
	ctx := context.Background()

	t.Run("full run", func(t *testing.T) {
		f := newFixture(t)
		tenant := f.seedTenant(t, tenantdomain.StatusApproved)

		result, err := f.svc.Provision(ctx, tenant.ID)
		require.NoError(t, err)

		assert.Equal(t, "tenant_acme_corp", result.Database.Name)
		assert.Equal(t, tenantdomain.ProvisioningProvisioned, result.Database.ProvisioningStatus)
		require.Len(t, result.Steps, 3)
		for _, step := range result.Steps {
			assert.Equal(t, domain.StepCompleted, step.Status)
		}
		assert.Equal(t, []string{"tenant_acme_corp"}, f.admin.created)
		assert.Len(t, f.migrator.upCalls, 1)
		assert.Equal(t, []string{"owner@acme.test"}, f.seeder.emails)
		assert.Equal(t, "owner@acme.test", result.AdminEmail)
		assert.NotEmpty(t, result.AdminPassword)

		var refreshed tenantdomain.Tenant
		require.NoError(t, f.db.First(&refreshed, "id = ?", tenant.ID).Error)
		assert.Equal(t, tenantdomain.ProvisioningProvisioned, refreshed.DatabaseProvisioningStatus)
	})

	t.Run("pending tenant is not eligible", func(t *testing.T) {
		f := newFixture(t)
		tenant := f.seedTenant(t, tenantdomain.StatusPending)
		_, err := f.svc.Provision(ctx, tenant.ID)
		assert.ErrorIs(t, err, domain.ErrTenantNotEligible)
	})

	t.Run("provisioned tenant is not rerun", func(t *testing.T) {
		f := newFixture(t)
		tenant := f.seedTenant(t, tenantdomain.StatusApproved)
		_, err := f.svc.Provision(ctx, tenant.ID)
		require.NoError(t, err)
		_, err = f.svc.Provision(ctx, tenant.ID)
		assert.ErrorIs(t, err, domain.ErrAlreadyProvisioned)
	})

	t.Run("migration failure marks everything failed", func(t *testing.T) {
		f := newFixture(t)
		f.migrator.failUp = errors.New("connect refused")
		tenant := f.seedTenant(t, tenantdomain.StatusApproved)

		_, err := f.svc.Provision(ctx, tenant.ID)
		require.EqualError(t, err, "connect refused")

		status, err := f.svc.Status(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, tenantdomain.ProvisioningFailed, status.Database.ProvisioningStatus)
		assert.Equal(t, "connect refused", status.Database.ErrorMessage)

		byStep := map[domain.Step]domain.TenantProvisionStep{}
		for _, step := range status.Steps {
			byStep[step.Step] = step
		}
		assert.Equal(t, domain.StepCompleted, byStep[domain.StepCreateDatabase].Status)
		assert.Equal(t, domain.StepFailed, byStep[domain.StepRunMigrations].Status)
		assert.Equal(t, "connect refused", byStep[domain.StepRunMigrations].ErrorMessage)
		assert.Equal(t, domain.StepPending, byStep[domain.StepSeedDefaults].Status)

		var refreshed tenantdomain.Tenant
		require.NoError(t, f.db.First(&refreshed, "id = ?", tenant.ID).Error)
		assert.Equal(t, tenantdomain.ProvisioningFailed, refreshed.DatabaseProvisioningStatus)
	})

	t.Run("retry resumes after the completed steps", func(t *testing.T) {
		f := newFixture(t)
		f.migrator.failUp = errors.New("connect refused")
		tenant := f.seedTenant(t, tenantdomain.StatusApproved)

		_, err := f.svc.Provision(ctx, tenant.ID)
		require.Error(t, err)
		require.Len(t, f.admin.created, 1)

		f.migrator.failUp = nil
		result, err := f.svc.Provision(ctx, tenant.ID)
		require.NoError(t, err)

		// The database was created on the first run and not again.
		assert.Len(t, f.admin.created, 1)
		assert.Len(t, f.migrator.upCalls, 1)
		assert.Equal(t, tenantdomain.ProvisioningProvisioned, result.Database.ProvisioningStatus)
	})

	t.Run("password is generated once and stays stable", func(t *testing.T) {
		f := newFixture(t)
		f.seeder.failSeed = errors.New("seed boom")
		tenant := f.seedTenant(t, tenantdomain.StatusApproved)

		_, err := f.svc.Provision(ctx, tenant.ID)
		require.Error(t, err)

		var record domain.TenantDatabase
		require.NoError(t, f.db.First(&record, "tenant_id = ?", tenant.ID).Error)
		stored := record.EncryptedPassword
		require.NotEmpty(t, stored)

		f.seeder.failSeed = nil
		_, err = f.svc.Provision(ctx, tenant.ID)
		require.NoError(t, err)

		require.NoError(t, f.db.First(&record, "tenant_id = ?", tenant.ID).Error)
		assert.Equal(t, stored, record.EncryptedPassword)
	})
}

func TestProvisionManual(t *testing.T) {
	ctx := context.Background()

	t.Run("records the external database", func(t *testing.T) {
		f := newFixture(t)
		tenant := f.seedTenant(t, tenantdomain.StatusApproved)

		result, err := f.svc.ProvisionManual(ctx, tenant.ID, domain.ManualRequest{
			Host:     "ext.db.test",
			Name:     "acme_prod",
			Username: "acme",
			Password: "hunter2",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.ModeManual, result.Database.Mode)
		assert.Equal(t, "ext.db.test", result.Database.Host)
		assert.Equal(t, "5432", result.Database.Port)
		assert.Equal(t, tenantdomain.ProvisioningProvisioned, result.Database.ProvisioningStatus)
		// No database is created on the cluster for manual mode.
		assert.Empty(t, f.admin.created)
		assert.Len(t, f.migrator.upCalls, 1)
	})

	t.Run("skip migrations honored", func(t *testing.T) {
		f := newFixture(t)
		tenant := f.seedTenant(t, tenantdomain.StatusApproved)

		_, err := f.svc.ProvisionManual(ctx, tenant.ID, domain.ManualRequest{
			Host:           "ext.db.test",
			Name:           "acme_prod",
			Username:       "acme",
			Password:       "hunter2",
			SkipMigrations: true,
		})
		require.NoError(t, err)
		assert.Empty(t, f.migrator.upCalls)
	})

	t.Run("incomplete config rejected", func(t *testing.T) {
		f := newFixture(t)
		tenant := f.seedTenant(t, tenantdomain.StatusApproved)
		_, err := f.svc.ProvisionManual(ctx, tenant.ID, domain.ManualRequest{Host: "ext.db.test"})
		assert.ErrorIs(t, err, domain.ErrInvalidManualConfig)
	})
}

func TestMigrateOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.seedTenant(t, tenantdomain.StatusApproved)

	_, err := f.svc.MigrateStatus(ctx, tenant.ID)
	assert.ErrorIs(t, err, domain.ErrDatabaseNotFound)

	_, err = f.svc.Provision(ctx, tenant.ID)
	require.NoError(t, err)

	status, err := f.svc.MigrateStatus(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, uint(1), status.Version)
	assert.False(t, status.Dirty)

	_, err = f.svc.Migrate(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Len(t, f.migrator.upCalls, 2)

	_, err = f.svc.MigrateRollback(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, -1, f.migrator.stepCalls)
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	okTenant := f.seedTenant(t, tenantdomain.StatusApproved)
	_, err := f.svc.Provision(ctx, okTenant.ID)
	require.NoError(t, err)

	stats, err := f.svc.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[tenantdomain.ProvisioningProvisioned])
}

func TestDatabaseName(t *testing.T) {
	assert.Equal(t, "tenant_acme_corp", databaseName("acme-corp"))
	assert.Equal(t, "tenant_acme", databaseName("Acme"))
}
