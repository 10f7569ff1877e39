package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	ErrSettingNotFound = errors.New("setting_not_found")
	ErrInvalidKey      = errors.New("invalid_setting_key")
	ErrInvalidValue    = errors.New("invalid_setting_value")
)

type Repository interface {
	FindByKey(ctx context.Context, db *gorm.DB, key string) (*SaasSetting, error)
	Upsert(ctx context.Context, db *gorm.DB, setting *SaasSetting) error
	Delete(ctx context.Context, db *gorm.DB, key string) error
	List(ctx context.Context, db *gorm.DB) ([]SaasSetting, error)
}

// Service resolves settings persisted-row-first with static fallbacks.
type Service interface {
	GetString(ctx context.Context, key, fallback string) string
	GetInt(ctx context.Context, key string, fallback int) int
	GetBool(ctx context.Context, key string, fallback bool) bool
	Set(ctx context.Context, key, value string, valueType ValueType) (SaasSetting, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]SaasSetting, error)
}
