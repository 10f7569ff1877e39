package repository

import (
	"context"
	"errors"

	settingsdomain "github.com/opencorehq/tenantcore/internal/settings/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() settingsdomain.Repository {
	return &repo{}
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, key string) (*settingsdomain.SaasSetting, error) {
	var setting settingsdomain.SaasSetting
	err := db.WithContext(ctx).Where("key = ?", key).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &setting, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, setting *settingsdomain.SaasSetting) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "value_type", "updated_at"}),
	}).Create(setting).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, key string) error {
	result := db.WithContext(ctx).Where("key = ?", key).Delete(&settingsdomain.SaasSetting{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return settingsdomain.ErrSettingNotFound
	}
	return nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]settingsdomain.SaasSetting, error) {
	var settings []settingsdomain.SaasSetting
	if err := db.WithContext(ctx).Order("key ASC").Find(&settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}
