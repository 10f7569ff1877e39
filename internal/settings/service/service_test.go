package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/opencorehq/tenantcore/internal/clock"
	"github.com/opencorehq/tenantcore/internal/settings/domain"
	"github.com/opencorehq/tenantcore/internal/settings/repository"
)

func newService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Exec(`CREATE TABLE saas_settings (
		id INTEGER PRIMARY KEY,
		key TEXT NOT NULL UNIQUE,
		value TEXT NOT NULL,
		value_type TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return &Service{
		db:    db,
		log:   zaptest.NewLogger(t),
		genID: node,
		clock: clock.NewFakeClock(time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)),
		repo:  repository.Provide(),
	}
}

func TestFallbacks(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	assert.Equal(t, "TenantCore", svc.GetString(ctx, domain.KeyOperatorName, "TenantCore"))
	assert.Equal(t, 14, svc.GetInt(ctx, domain.KeyTrialDays, 14))
	assert.True(t, svc.GetBool(ctx, domain.KeyEnableTrial, true))
}

func TestSetThenGet(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	_, err := svc.Set(ctx, domain.KeyTrialDays, "30", domain.ValueTypeInteger)
	require.NoError(t, err)
	assert.Equal(t, 30, svc.GetInt(ctx, domain.KeyTrialDays, 14))

	_, err = svc.Set(ctx, domain.KeyEnableTrial, "off", domain.ValueTypeBoolean)
	require.NoError(t, err)
	assert.False(t, svc.GetBool(ctx, domain.KeyEnableTrial, true))

	// Stored rows take precedence over fallbacks until deleted.
	require.NoError(t, svc.Delete(ctx, domain.KeyTrialDays))
	assert.Equal(t, 14, svc.GetInt(ctx, domain.KeyTrialDays, 14))
}

func TestSetUpserts(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	_, err := svc.Set(ctx, domain.KeyOperatorName, "Open Core", domain.ValueTypeString)
	require.NoError(t, err)
	_, err = svc.Set(ctx, domain.KeyOperatorName, "Open Core GmbH", domain.ValueTypeString)
	require.NoError(t, err)

	settings, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, settings, 1)
	assert.Equal(t, "Open Core GmbH", settings[0].Value)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	_, err := svc.Set(ctx, " ", "x", domain.ValueTypeString)
	assert.ErrorIs(t, err, domain.ErrInvalidKey)

	_, err = svc.Set(ctx, domain.KeyTrialDays, "lots", domain.ValueTypeInteger)
	assert.ErrorIs(t, err, domain.ErrInvalidValue)

	_, err = svc.Set(ctx, domain.KeyEnableTrial, "maybe", domain.ValueTypeBoolean)
	assert.ErrorIs(t, err, domain.ErrInvalidValue)

	err = svc.Delete(ctx, "general_unknown")
	assert.ErrorIs(t, err, domain.ErrSettingNotFound)
}

func TestMalformedStoredValues(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	// Written out of band with the wrong shape; reads fall back.
	require.NoError(t, svc.db.Exec(
		`INSERT INTO saas_settings (id, key, value, value_type, created_at, updated_at)
		 VALUES (1, ?, 'banana', 'integer', DATE('now'), DATE('now'))`,
		domain.KeyGracePeriodDays,
	).Error)

	assert.Equal(t, 3, svc.GetInt(ctx, domain.KeyGracePeriodDays, 3))
}
