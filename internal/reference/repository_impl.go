// Package reference serves the static lookup data backing the public
// registration and payment forms.
package reference

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/opencorehq/tenantcore/internal/reference/domain"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) ListCurrencies(ctx context.Context) ([]domain.Currency, error) {
	var currencies []domain.Currency
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("code asc").
		Find(&currencies).Error
	if err != nil {
		return nil, err
	}
	return currencies, nil
}

func (r *repo) ListTimezones(ctx context.Context, region string) ([]domain.Timezone, error) {
	stmt := r.db.WithContext(ctx).Model(&domain.Timezone{})
	if region = strings.TrimSpace(region); region != "" {
		stmt = stmt.Where("region = ?", region)
	}

	var timezones []domain.Timezone
	if err := stmt.Order("name asc").Find(&timezones).Error; err != nil {
		return nil, err
	}
	return timezones, nil
}
