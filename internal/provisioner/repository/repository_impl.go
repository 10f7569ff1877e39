package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	obsmetrics "github.com/opencorehq/tenantcore/internal/observability/metrics"
	"github.com/opencorehq/tenantcore/internal/provisioner/domain"
	tenantdomain "github.com/opencorehq/tenantcore/internal/tenant/domain"
	"github.com/opencorehq/tenantcore/pkg/db"
)

type repo struct {
	genID *snowflake.Node
}

// Provide returns the provisioning repository implementation.
func Provide(genID *snowflake.Node) domain.Repository {
	return &repo{genID: genID}
}

func (r *repo) InsertDatabase(ctx context.Context, conn *gorm.DB, record *domain.TenantDatabase) error {
	return conn.WithContext(ctx).Create(record).Error
}

func (r *repo) UpdateDatabase(ctx context.Context, conn *gorm.DB, record *domain.TenantDatabase) error {
	return conn.WithContext(ctx).Save(record).Error
}

func (r *repo) FindDatabaseByTenantID(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID) (*domain.TenantDatabase, error) {
	var record domain.TenantDatabase
	err := conn.WithContext(ctx).First(&record, "tenant_id = ?", tenantID).Error
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// FindDatabaseByTenantIDForUpdate locks the connection record so only
// one provisioning run per tenant makes progress at a time. Call
// inside conn.Transaction.
func (r *repo) FindDatabaseByTenantIDForUpdate(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID) (*domain.TenantDatabase, error) {
	var record domain.TenantDatabase
	start := time.Now()
	err := conn.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		First(&record, "tenant_id = ?", tenantID).Error
	obsmetrics.Sweep().ObserveDBLockWait(obsmetrics.LockResourceProvisionSteps, time.Since(start))
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repo) CountDatabasesByStatus(ctx context.Context, conn *gorm.DB) (map[tenantdomain.ProvisioningStatus]int64, error) {
	type row struct {
		ProvisioningStatus tenantdomain.ProvisioningStatus
		Total              int64
	}
	var rows []row
	err := conn.WithContext(ctx).Model(&domain.TenantDatabase{}).
		Select("provisioning_status, COUNT(*) AS total").
		Group("provisioning_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[tenantdomain.ProvisioningStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.ProvisioningStatus] = row.Total
	}
	return counts, nil
}

// EnsureSteps creates missing step rows for the tenant and returns the
// full ordered set. Existing rows keep their recorded outcome so a
// resumed run sees what already completed.
func (r *repo) EnsureSteps(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID, steps []domain.Step) ([]domain.TenantProvisionStep, error) {
	now := time.Now().UTC()
	for _, step := range steps {
		record := domain.TenantProvisionStep{
			ID:        r.genID.Generate(),
			TenantID:  tenantID,
			Step:      step,
			Status:    domain.StepPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := conn.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "step"}},
				DoNothing: true,
			}).
			Create(&record).Error
		if err != nil {
			return nil, err
		}
	}
	return r.FindSteps(ctx, conn, tenantID)
}

func (r *repo) FindSteps(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID) ([]domain.TenantProvisionStep, error) {
	var records []domain.TenantProvisionStep
	err := conn.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	ordered := make([]domain.TenantProvisionStep, 0, len(records))
	for _, step := range domain.OrderedSteps {
		for _, record := range records {
			if record.Step == step {
				ordered = append(ordered, record)
				break
			}
		}
	}
	return ordered, nil
}

func (r *repo) UpdateStep(ctx context.Context, conn *gorm.DB, step *domain.TenantProvisionStep) error {
	return conn.WithContext(ctx).Save(step).Error
}
