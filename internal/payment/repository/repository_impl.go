package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	obsmetrics "github.com/opencorehq/tenantcore/internal/observability/metrics"
	"github.com/opencorehq/tenantcore/internal/payment/domain"
	"github.com/opencorehq/tenantcore/pkg/db"
)

type repo struct{}

// Provide returns the payments repository implementation.
func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, payment *domain.Payment) error {
	return conn.WithContext(ctx).Create(payment).Error
}

func (r *repo) Update(ctx context.Context, conn *gorm.DB, payment *domain.Payment) error {
	return conn.WithContext(ctx).Save(payment).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := conn.WithContext(ctx).First(&payment, "id = ?", id).Error
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// FindByIDForUpdate locks the payment row for the duration of the
// surrounding transaction. Call inside conn.Transaction.
func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	start := time.Now()
	err := conn.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		First(&payment, "id = ?", id).Error
	obsmetrics.Sweep().ObserveDBLockWait(obsmetrics.LockResourcePaymentByID, time.Since(start))
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]domain.Payment, int64, error) {
	query := conn.WithContext(ctx).Model(&domain.Payment{})
	if filter.TenantID != nil {
		query = query.Where("tenant_id = ?", *filter.TenantID)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if len(filter.Purposes) > 0 {
		query = query.Where("purpose IN ?", filter.Purposes)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var payments []domain.Payment
	err := query.Order("created_at DESC").Limit(filter.Limit()).Find(&payments).Error
	if err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (r *repo) HasOpenRenewal(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID) (bool, error) {
	var count int64
	err := conn.WithContext(ctx).Model(&domain.Payment{}).
		Where("tenant_id = ? AND purpose = ? AND status = ?", tenantID, domain.PurposeRenewal, domain.StatusPending).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) Statistics(ctx context.Context, conn *gorm.DB, now time.Time) (domain.Statistics, error) {
	var stats domain.Statistics

	err := conn.WithContext(ctx).Model(&domain.Payment{}).
		Where("status = ?", domain.StatusPending).
		Select("COUNT(*) AS pending_count, COALESCE(SUM(amount), 0) AS pending_amount").
		Row().Scan(&stats.PendingCount, &stats.PendingAmount)
	if err != nil {
		return domain.Statistics{}, err
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	err = conn.WithContext(ctx).Model(&domain.Payment{}).
		Where("status = ? AND approved_at >= ?", domain.StatusApproved, dayStart).
		Count(&stats.ApprovedToday).Error
	if err != nil {
		return domain.Statistics{}, err
	}
	err = conn.WithContext(ctx).Model(&domain.Payment{}).
		Where("status = ? AND approved_at >= ?", domain.StatusApproved, monthStart).
		Count(&stats.ApprovedThisMonth).Error
	if err != nil {
		return domain.Statistics{}, err
	}
	return stats, nil
}

// NextInvoiceNumber increments the per-year counter under a row lock
// and formats INV-YYYY-NNNNNN. Call inside a transaction so the lock
// holds until the payment is saved.
func (r *repo) NextInvoiceNumber(ctx context.Context, conn *gorm.DB, now time.Time) (string, error) {
	year := now.Year()

	var seq domain.InvoiceSequence
	err := conn.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		First(&seq, "year = ?", year).Error
	if err != nil {
		if !db.IsNotFound(err) {
			return "", err
		}
		seq = domain.InvoiceSequence{Year: year}
		if err := conn.WithContext(ctx).Create(&seq).Error; err != nil {
			return "", err
		}
	}

	seq.Counter++
	if err := conn.WithContext(ctx).Save(&seq).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%d-%06d", year, seq.Counter), nil
}
