package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/opencorehq/tenantcore/internal/observability/metrics"
	subscriptiondomain "github.com/opencorehq/tenantcore/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Save(subscription).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Where("id = ?", id).First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("id = ?", id).
		First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) FindLiveByTenantID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND status IN ?", tenantID, []subscriptiondomain.Status{
			subscriptiondomain.StatusTrial,
			subscriptiondomain.StatusActive,
		}).
		First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) FindCurrentByTenantID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND status <> ?", tenantID, subscriptiondomain.StatusCancelled).
		First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter subscriptiondomain.ListFilter) ([]subscriptiondomain.Subscription, error) {
	query := db.WithContext(ctx).Order("created_at DESC, id DESC")
	if filter.TenantID != 0 {
		query = query.Where("tenant_id = ?", filter.TenantID)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var subscriptions []subscriptiondomain.Subscription
	if err := query.Find(&subscriptions).Error; err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) ListExpiring(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	query := db.WithContext(ctx).
		Where("status IN ? AND ends_at <= ?", []subscriptiondomain.Status{
			subscriptiondomain.StatusTrial,
			subscriptiondomain.StatusActive,
		}, before).
		Order("ends_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var subscriptions []subscriptiondomain.Subscription
	if err := query.Find(&subscriptions).Error; err != nil {
		return nil, err
	}
	return subscriptions, nil
}

// ClaimDueTrials locks trial subscriptions whose trial window has
// passed. Must run inside a transaction.
func (r *repo) ClaimDueTrials(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	return r.claim(ctx, db,
		`SELECT * FROM subscriptions
		 WHERE status = ? AND trial_ends_at IS NOT NULL AND trial_ends_at <= ?
		 ORDER BY trial_ends_at ASC, id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		[]any{subscriptiondomain.StatusTrial, now, limit},
	)
}

// ClaimExpired locks active subscriptions whose period plus grace has
// lapsed. Must run inside a transaction.
func (r *repo) ClaimExpired(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	return r.claim(ctx, db,
		`SELECT * FROM subscriptions
		 WHERE status = ? AND ends_at < ?
		 ORDER BY ends_at ASC, id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		[]any{subscriptiondomain.StatusActive, cutoff, limit},
	)
}

// ClaimPeriodEndCancels locks live subscriptions flagged for
// cancellation whose period has ended. Must run inside a transaction.
func (r *repo) ClaimPeriodEndCancels(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	return r.claim(ctx, db,
		`SELECT * FROM subscriptions
		 WHERE status IN (?, ?) AND cancel_at_period_end = ? AND ends_at <= ?
		 ORDER BY ends_at ASC, id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		[]any{subscriptiondomain.StatusTrial, subscriptiondomain.StatusActive, true, now, limit},
	)
}

func (r *repo) claim(ctx context.Context, db *gorm.DB, query string, args []any) ([]subscriptiondomain.Subscription, error) {
	lockStart := time.Now()
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(query, args...).Scan(&subscriptions).Error
	obsmetrics.Sweep().ObserveDBLockWait(obsmetrics.LockResourceSubscriptionsForWork, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}
