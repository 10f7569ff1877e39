package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/opencorehq/tenantcore/internal/clock"
	"github.com/opencorehq/tenantcore/internal/config"
	obsmetrics "github.com/opencorehq/tenantcore/internal/observability/metrics"
	provisionerdomain "github.com/opencorehq/tenantcore/internal/provisioner/domain"
	"github.com/opencorehq/tenantcore/internal/provisioner/secret"
	"github.com/opencorehq/tenantcore/internal/providers/slack"
	tenantdomain "github.com/opencorehq/tenantcore/internal/tenant/domain"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger
	cfg config.Config

	genID *snowflake.Node
	clock clock.Clock
	repo  provisionerdomain.Repository

	tenants  tenantdomain.Repository
	admin    provisionerdomain.AdminConn
	migrator provisionerdomain.Migrator
	seeder   provisionerdomain.Seeder
	cipher   *secret.Cipher
	alerts   slack.Provider
}

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Config config.Config
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   provisionerdomain.Repository

	Tenants  tenantdomain.Repository
	Admin    provisionerdomain.AdminConn
	Migrator provisionerdomain.Migrator
	Seeder   provisionerdomain.Seeder
	Cipher   *secret.Cipher
	Alerts   slack.Provider `optional:"true"`
}

func NewService(p ServiceParam) provisionerdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("provisioner.service"),
		cfg: p.Config,

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,

		tenants:  p.Tenants,
		admin:    p.Admin,
		migrator: p.Migrator,
		seeder:   p.Seeder,
		cipher:   p.Cipher,
		alerts:   p.Alerts,
	}
}

// Provision runs the automatic saga. Each step records its outcome, so
// calling again after a failure resumes from the first step that never
// completed instead of redoing finished work.
func (s *Service) Provision(ctx context.Context, tenantID snowflake.ID) (*provisionerdomain.Result, error) {
	var (
		tenant *tenantdomain.Tenant
		record *provisionerdomain.TenantDatabase
		steps  []provisionerdomain.TenantProvisionStep
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.tenants.FindByIDForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if found == nil {
			return tenantdomain.ErrTenantNotFound
		}
		if found.Status == tenantdomain.StatusPending || found.Status == tenantdomain.StatusCancelled {
			return provisionerdomain.ErrTenantNotEligible
		}
		tenant = found

		record, err = s.repo.FindDatabaseByTenantIDForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if record == nil {
			record = s.newDatabaseRecord(tenant, provisionerdomain.ModeAuto)
			if err := s.repo.InsertDatabase(ctx, tx, record); err != nil {
				return err
			}
		}
		if record.ProvisioningStatus == tenantdomain.ProvisioningProvisioned {
			return provisionerdomain.ErrAlreadyProvisioned
		}

		now := s.clock.Now()
		record.ProvisioningStatus = tenantdomain.ProvisioningInProgress
		record.ErrorMessage = ""
		record.UpdatedAt = now
		if err := s.repo.UpdateDatabase(ctx, tx, record); err != nil {
			return err
		}

		tenant.DatabaseProvisioningStatus = tenantdomain.ProvisioningInProgress
		tenant.UpdatedAt = now
		if err := s.tenants.Update(ctx, tx, tenant); err != nil {
			return err
		}

		steps, err = s.repo.EnsureSteps(ctx, tx, tenantID, provisionerdomain.OrderedSteps)
		return err
	})
	if err != nil {
		return nil, err
	}

	result := &provisionerdomain.Result{}
	password, err := s.databasePassword(record)
	if err != nil {
		return nil, s.markFailed(ctx, tenant, record, steps, provisionerdomain.StepCreateDatabase, err)
	}

	for i := range steps {
		step := &steps[i]
		if step.Status == provisionerdomain.StepCompleted {
			continue
		}
		if err := s.runStep(ctx, tenant, record, step, password, result); err != nil {
			return nil, s.markFailed(ctx, tenant, record, steps, step.Step, err)
		}
		now := s.clock.Now()
		step.Status = provisionerdomain.StepCompleted
		step.ErrorMessage = ""
		step.CompletedAt = &now
		step.UpdatedAt = now
		if err := s.repo.UpdateStep(ctx, s.db, step); err != nil {
			return nil, err
		}
	}

	if err := s.markProvisioned(ctx, tenant, record); err != nil {
		return nil, err
	}

	result.Database = *record
	result.Steps = steps
	s.log.Info("tenant provisioned",
		zap.Int64("tenant_id", int64(tenant.ID)),
		zap.String("database", record.Name),
	)
	return result, nil
}

// ProvisionManual records an operator-managed database, verifies it is
// reachable and brings its schema up to date.
func (s *Service) ProvisionManual(ctx context.Context, tenantID snowflake.ID, req provisionerdomain.ManualRequest) (*provisionerdomain.Result, error) {
	if strings.TrimSpace(req.Host) == "" || strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Username) == "" {
		return nil, provisionerdomain.ErrInvalidManualConfig
	}
	if req.Port == "" {
		req.Port = "5432"
	}

	var (
		tenant *tenantdomain.Tenant
		record *provisionerdomain.TenantDatabase
		steps  []provisionerdomain.TenantProvisionStep
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.tenants.FindByIDForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if found == nil {
			return tenantdomain.ErrTenantNotFound
		}
		if found.Status == tenantdomain.StatusPending || found.Status == tenantdomain.StatusCancelled {
			return provisionerdomain.ErrTenantNotEligible
		}
		tenant = found

		record, err = s.repo.FindDatabaseByTenantIDForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if record != nil && record.ProvisioningStatus == tenantdomain.ProvisioningProvisioned {
			return provisionerdomain.ErrAlreadyProvisioned
		}

		encrypted, err := s.cipher.Encrypt(req.Password)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if record == nil {
			record = &provisionerdomain.TenantDatabase{
				ID:        s.genID.Generate(),
				TenantID:  tenantID,
				CreatedAt: now,
			}
		}
		record.Host = req.Host
		record.Port = req.Port
		record.Name = req.Name
		record.Username = req.Username
		record.EncryptedPassword = encrypted
		record.Mode = provisionerdomain.ModeManual
		record.ProvisioningStatus = tenantdomain.ProvisioningInProgress
		record.ErrorMessage = ""
		record.UpdatedAt = now
		if err := s.repo.UpdateDatabase(ctx, tx, record); err != nil {
			return err
		}

		tenant.DatabaseProvisioningStatus = tenantdomain.ProvisioningInProgress
		tenant.UpdatedAt = now
		if err := s.tenants.Update(ctx, tx, tenant); err != nil {
			return err
		}

		steps, err = s.repo.EnsureSteps(ctx, tx, tenantID, provisionerdomain.OrderedSteps)
		return err
	})
	if err != nil {
		return nil, err
	}

	result := &provisionerdomain.Result{}
	dsn := s.tenantDSN(record, req.Password)

	// The database already exists, the create step just verifies we can
	// reach it.
	for i := range steps {
		step := &steps[i]
		if step.Status == provisionerdomain.StepCompleted {
			continue
		}

		var stepErr error
		switch step.Step {
		case provisionerdomain.StepCreateDatabase:
			_, _, stepErr = s.migrator.Version(dsn)
		case provisionerdomain.StepRunMigrations:
			if !req.SkipMigrations {
				stepErr = s.migrator.Up(dsn)
			}
		case provisionerdomain.StepSeedDefaults:
			stepErr = s.seedAdmin(ctx, dsn, tenant, result)
		}
		if stepErr != nil {
			return nil, s.markFailed(ctx, tenant, record, steps, step.Step, stepErr)
		}

		now := s.clock.Now()
		step.Status = provisionerdomain.StepCompleted
		step.ErrorMessage = ""
		step.CompletedAt = &now
		step.UpdatedAt = now
		if err := s.repo.UpdateStep(ctx, s.db, step); err != nil {
			return nil, err
		}
	}

	if err := s.markProvisioned(ctx, tenant, record); err != nil {
		return nil, err
	}

	result.Database = *record
	result.Steps = steps
	return result, nil
}

func (s *Service) Status(ctx context.Context, tenantID snowflake.ID) (*provisionerdomain.StatusReport, error) {
	record, err := s.repo.FindDatabaseByTenantID(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, provisionerdomain.ErrDatabaseNotFound
	}
	steps, err := s.repo.FindSteps(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	return &provisionerdomain.StatusReport{Database: record, Steps: steps}, nil
}

func (s *Service) Statistics(ctx context.Context) (map[tenantdomain.ProvisioningStatus]int64, error) {
	return s.repo.CountDatabasesByStatus(ctx, s.db)
}

func (s *Service) Migrate(ctx context.Context, tenantID snowflake.ID) (*provisionerdomain.MigrationStatus, error) {
	dsn, err := s.dsnForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := s.migrator.Up(dsn); err != nil {
		return nil, err
	}
	return s.migrationStatus(tenantID, dsn)
}

func (s *Service) MigrateStatus(ctx context.Context, tenantID snowflake.ID) (*provisionerdomain.MigrationStatus, error) {
	dsn, err := s.dsnForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.migrationStatus(tenantID, dsn)
}

func (s *Service) MigrateRollback(ctx context.Context, tenantID snowflake.ID) (*provisionerdomain.MigrationStatus, error) {
	dsn, err := s.dsnForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := s.migrator.Steps(dsn, -1); err != nil {
		return nil, err
	}
	return s.migrationStatus(tenantID, dsn)
}

func (s *Service) runStep(ctx context.Context, tenant *tenantdomain.Tenant, record *provisionerdomain.TenantDatabase, step *provisionerdomain.TenantProvisionStep, password string, result *provisionerdomain.Result) error {
	dsn := s.tenantDSN(record, password)
	switch step.Step {
	case provisionerdomain.StepCreateDatabase:
		return s.admin.CreateDatabase(ctx, record.Name, record.Username, password)
	case provisionerdomain.StepRunMigrations:
		return s.migrator.Up(dsn)
	case provisionerdomain.StepSeedDefaults:
		return s.seedAdmin(ctx, dsn, tenant, result)
	}
	return nil
}

// seedAdmin creates the tenant's first admin user. The generated
// password is returned to the caller exactly once and never persisted
// operator-side.
func (s *Service) seedAdmin(ctx context.Context, dsn string, tenant *tenantdomain.Tenant, result *provisionerdomain.Result) error {
	password, err := randomSecret(18)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.seeder.SeedAdmin(ctx, dsn, tenant.Email, string(hash)); err != nil {
		return err
	}
	result.AdminEmail = tenant.Email
	result.AdminPassword = password
	return nil
}

func (s *Service) markFailed(ctx context.Context, tenant *tenantdomain.Tenant, record *provisionerdomain.TenantDatabase, steps []provisionerdomain.TenantProvisionStep, failedStep provisionerdomain.Step, cause error) error {
	now := s.clock.Now()
	for i := range steps {
		if steps[i].Step != failedStep {
			continue
		}
		steps[i].Status = provisionerdomain.StepFailed
		steps[i].ErrorMessage = cause.Error()
		steps[i].UpdatedAt = now
		if err := s.repo.UpdateStep(ctx, s.db, &steps[i]); err != nil {
			s.log.Error("record failed step", zap.Error(err))
		}
	}

	record.ProvisioningStatus = tenantdomain.ProvisioningFailed
	record.ErrorMessage = cause.Error()
	record.UpdatedAt = now
	if err := s.repo.UpdateDatabase(ctx, s.db, record); err != nil {
		s.log.Error("record failed provisioning", zap.Error(err))
	}

	tenant.DatabaseProvisioningStatus = tenantdomain.ProvisioningFailed
	tenant.UpdatedAt = now
	if err := s.tenants.Update(ctx, s.db, tenant); err != nil {
		s.log.Error("record failed tenant status", zap.Error(err))
	}

	obsmetrics.Sweep().IncTransition("tenant_database",
		string(tenantdomain.ProvisioningInProgress), string(tenantdomain.ProvisioningFailed))
	s.log.Error("provisioning failed",
		zap.Int64("tenant_id", int64(tenant.ID)),
		zap.String("step", string(failedStep)),
		zap.Error(cause),
	)

	if s.alerts != nil {
		message := fmt.Sprintf("Provisioning failed for tenant %s (%s) at step %s: %v",
			tenant.Subdomain, tenant.ID.String(), failedStep, cause)
		if err := s.alerts.PostMessage(ctx, message); err != nil {
			s.log.Warn("provisioning alert failed", zap.Error(err))
		}
	}
	return cause
}

func (s *Service) markProvisioned(ctx context.Context, tenant *tenantdomain.Tenant, record *provisionerdomain.TenantDatabase) error {
	now := s.clock.Now()
	record.ProvisioningStatus = tenantdomain.ProvisioningProvisioned
	record.ErrorMessage = ""
	record.ProvisionedAt = &now
	record.UpdatedAt = now
	if err := s.repo.UpdateDatabase(ctx, s.db, record); err != nil {
		return err
	}

	tenant.DatabaseProvisioningStatus = tenantdomain.ProvisioningProvisioned
	tenant.UpdatedAt = now
	if err := s.tenants.Update(ctx, s.db, tenant); err != nil {
		return err
	}

	obsmetrics.Sweep().IncTransition("tenant_database",
		string(tenantdomain.ProvisioningInProgress), string(tenantdomain.ProvisioningProvisioned))
	return nil
}

func (s *Service) newDatabaseRecord(tenant *tenantdomain.Tenant, mode provisionerdomain.Mode) *provisionerdomain.TenantDatabase {
	now := s.clock.Now()
	name := databaseName(tenant.Subdomain)
	return &provisionerdomain.TenantDatabase{
		ID:                 s.genID.Generate(),
		TenantID:           tenant.ID,
		Host:               s.cfg.TenantDBHost,
		Port:               s.cfg.TenantDBPort,
		Name:               name,
		Username:           name,
		Mode:               mode,
		ProvisioningStatus: tenantdomain.ProvisioningPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// databasePassword returns the stored credential, generating and
// persisting one on the first run.
func (s *Service) databasePassword(record *provisionerdomain.TenantDatabase) (string, error) {
	if record.EncryptedPassword != "" {
		return s.cipher.Decrypt(record.EncryptedPassword)
	}
	password, err := randomSecret(24)
	if err != nil {
		return "", err
	}
	encrypted, err := s.cipher.Encrypt(password)
	if err != nil {
		return "", err
	}
	record.EncryptedPassword = encrypted
	record.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateDatabase(context.Background(), s.db, record); err != nil {
		return "", err
	}
	return password, nil
}

func (s *Service) dsnForTenant(ctx context.Context, tenantID snowflake.ID) (string, error) {
	record, err := s.repo.FindDatabaseByTenantID(ctx, s.db, tenantID)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", provisionerdomain.ErrDatabaseNotFound
	}
	password, err := s.cipher.Decrypt(record.EncryptedPassword)
	if err != nil {
		return "", err
	}
	return s.tenantDSN(record, password), nil
}

func (s *Service) migrationStatus(tenantID snowflake.ID, dsn string) (*provisionerdomain.MigrationStatus, error) {
	version, dirty, err := s.migrator.Version(dsn)
	if err != nil {
		return nil, err
	}
	return &provisionerdomain.MigrationStatus{TenantID: tenantID, Version: version, Dirty: dirty}, nil
}

func (s *Service) tenantDSN(record *provisionerdomain.TenantDatabase, password string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(record.Username),
		url.QueryEscape(password),
		record.Host,
		record.Port,
		record.Name,
		s.cfg.TenantDBSSLMode,
	)
}

func databaseName(subdomain string) string {
	name := strings.ReplaceAll(strings.ToLower(subdomain), "-", "_")
	return "tenant_" + name
}

func randomSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
