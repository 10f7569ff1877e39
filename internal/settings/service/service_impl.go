package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/opencorehq/tenantcore/internal/clock"
	settingsdomain "github.com/opencorehq/tenantcore/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  settingsdomain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  settingsdomain.Repository
}

func NewService(p ServiceParam) settingsdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("settings.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// GetString implements domain.Service. A missing or unreadable row
// resolves to the fallback so lifecycle decisions never block on a
// settings read.
func (s *Service) GetString(ctx context.Context, key, fallback string) string {
	setting, err := s.repo.FindByKey(ctx, s.db, key)
	if err != nil {
		s.log.Warn("settings lookup failed", zap.String("key", key), zap.Error(err))
		return fallback
	}
	if setting == nil {
		return fallback
	}
	return setting.Value
}

// GetInt implements domain.Service.
func (s *Service) GetInt(ctx context.Context, key string, fallback int) int {
	raw := s.GetString(ctx, key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		s.log.Warn("settings value is not an integer", zap.String("key", key), zap.String("value", raw))
		return fallback
	}
	return value
}

// GetBool implements domain.Service.
func (s *Service) GetBool(ctx context.Context, key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(s.GetString(ctx, key, "")))
	switch raw {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		s.log.Warn("settings value is not a boolean", zap.String("key", key), zap.String("value", raw))
		return fallback
	}
}

// Set implements domain.Service.
func (s *Service) Set(ctx context.Context, key, value string, valueType settingsdomain.ValueType) (settingsdomain.SaasSetting, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return settingsdomain.SaasSetting{}, settingsdomain.ErrInvalidKey
	}
	if valueType == "" {
		valueType = settingsdomain.ValueTypeString
	}
	if err := validateValue(value, valueType); err != nil {
		return settingsdomain.SaasSetting{}, err
	}

	now := s.clock.Now()
	setting := settingsdomain.SaasSetting{
		ID:        s.genID.Generate(),
		Key:       key,
		Value:     value,
		ValueType: valueType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Upsert(ctx, s.db, &setting); err != nil {
		return settingsdomain.SaasSetting{}, err
	}
	return setting, nil
}

// Delete implements domain.Service.
func (s *Service) Delete(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return settingsdomain.ErrInvalidKey
	}
	return s.repo.Delete(ctx, s.db, key)
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context) ([]settingsdomain.SaasSetting, error) {
	return s.repo.List(ctx, s.db)
}

func validateValue(value string, valueType settingsdomain.ValueType) error {
	switch valueType {
	case settingsdomain.ValueTypeString:
		return nil
	case settingsdomain.ValueTypeInteger:
		if _, err := strconv.Atoi(strings.TrimSpace(value)); err != nil {
			return settingsdomain.ErrInvalidValue
		}
		return nil
	case settingsdomain.ValueTypeBoolean:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "on", "0", "false", "no", "off":
			return nil
		}
		return settingsdomain.ErrInvalidValue
	default:
		return settingsdomain.ErrInvalidValue
	}
}
