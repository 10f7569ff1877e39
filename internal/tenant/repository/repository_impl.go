package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/opencorehq/tenantcore/internal/tenant/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() tenantdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tenant *tenantdomain.Tenant) error {
	return db.WithContext(ctx).Create(tenant).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, tenant *tenantdomain.Tenant) error {
	return db.WithContext(ctx).Save(tenant).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*tenantdomain.Tenant, error) {
	var tenant tenantdomain.Tenant
	err := db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*tenantdomain.Tenant, error) {
	var tenant tenantdomain.Tenant
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("id = ?", id).
		First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*tenantdomain.Tenant, error) {
	var tenant tenantdomain.Tenant
	err := db.WithContext(ctx).Where("email = ?", email).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}

func (r *repo) FindBySubdomain(ctx context.Context, db *gorm.DB, subdomain string) (*tenantdomain.Tenant, error) {
	var tenant tenantdomain.Tenant
	err := db.WithContext(ctx).Where("subdomain = ?", subdomain).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}

func (r *repo) SubdomainsWithPrefix(ctx context.Context, db *gorm.DB, prefix string) ([]string, error) {
	var subdomains []string
	err := db.WithContext(ctx).Model(&tenantdomain.Tenant{}).
		Unscoped().
		Where("subdomain = ? OR subdomain LIKE ?", prefix, prefix+"-%").
		Pluck("subdomain", &subdomains).Error
	if err != nil {
		return nil, err
	}
	return subdomains, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter tenantdomain.ListFilter) ([]tenantdomain.Tenant, error) {
	query := db.WithContext(ctx).Order("created_at DESC, id DESC")
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		query = query.Where("name LIKE ? OR email LIKE ? OR subdomain LIKE ?", like, like, like)
	}
	query = query.Limit(filter.Limit())

	var tenants []tenantdomain.Tenant
	if err := query.Find(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB) (map[tenantdomain.Status]int64, error) {
	type row struct {
		Status tenantdomain.Status
		Count  int64
	}
	var rows []row
	err := db.WithContext(ctx).Model(&tenantdomain.Tenant{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[tenantdomain.Status]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
