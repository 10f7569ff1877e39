// Package seed bootstraps the operator database with the reference
// data a fresh install needs before the first request lands.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"gorm.io/gorm"

	plandomain "github.com/opencorehq/tenantcore/internal/plan/domain"
	settingsdomain "github.com/opencorehq/tenantcore/internal/settings/domain"
)

type defaultSetting struct {
	key       string
	value     string
	valueType settingsdomain.ValueType
}

var defaultSettings = []defaultSetting{
	{settingsdomain.KeyOperatorName, "TenantCore", settingsdomain.ValueTypeString},
	{settingsdomain.KeyOperatorEmail, "billing@tenantcore.local", settingsdomain.ValueTypeString},
	{settingsdomain.KeyTrialDays, "14", settingsdomain.ValueTypeInteger},
	{settingsdomain.KeyEnableTrial, "true", settingsdomain.ValueTypeBoolean},
	{settingsdomain.KeyGracePeriodDays, "3", settingsdomain.ValueTypeInteger},
	{settingsdomain.KeyAutoProvisioning, "true", settingsdomain.ValueTypeBoolean},
	{settingsdomain.KeyRequirePaymentForTrial, "false", settingsdomain.ValueTypeBoolean},
	{settingsdomain.KeyDefaultPaymentGateway, "offline", settingsdomain.ValueTypeString},
	{settingsdomain.KeyOfflineGatewayEnabled, "true", settingsdomain.ValueTypeBoolean},
	{settingsdomain.KeyStripeGatewayEnabled, "false", settingsdomain.ValueTypeBoolean},
	{settingsdomain.KeyPaypalGatewayEnabled, "false", settingsdomain.ValueTypeBoolean},
	{settingsdomain.KeyRazorpayGatewayEnabled, "false", settingsdomain.ValueTypeBoolean},
}

// EnsureDefaults seeds settings and the plan catalog. Safe to run on
// every startup, existing rows are left alone.
func EnsureDefaults(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureSettings(ctx, tx, node); err != nil {
			return err
		}
		return ensurePlans(ctx, tx, node)
	})
}

func ensureSettings(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	for _, def := range defaultSettings {
		var existing settingsdomain.SaasSetting
		err := tx.WithContext(ctx).Where("key = ?", def.key).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		now := time.Now().UTC()
		setting := settingsdomain.SaasSetting{
			ID:        node.Generate(),
			Key:       def.key,
			Value:     def.value,
			ValueType: def.valueType,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&setting).Error; err != nil {
			return err
		}
	}
	return nil
}

func ensurePlans(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	now := time.Now().UTC()
	plans := []plandomain.Plan{
		{
			Name:         "Starter",
			Code:         "starter",
			Description:  "For small teams getting started",
			Price:        2900,
			Currency:     "USD",
			DurationType: plandomain.DurationMonth,
			Duration:     1,
			TrialEnabled: true,
			TrialDays:    14,
			Features:     pq.StringArray{"accounting", "crm"},
			MaxEmployees: 10,
			SortOrder:    1,
		},
		{
			Name:         "Professional",
			Code:         "professional",
			Description:  "For growing businesses",
			Price:        7900,
			Currency:     "USD",
			DurationType: plandomain.DurationMonth,
			Duration:     1,
			TrialEnabled: true,
			TrialDays:    14,
			Features:     pq.StringArray{"accounting", "crm", "hrm", "inventory"},
			MaxEmployees: 50,
			SortOrder:    2,
		},
		{
			Name:         "Enterprise",
			Code:         "enterprise",
			Description:  "Every module, unlimited seats",
			Price:        19900,
			Currency:     "USD",
			DurationType: plandomain.DurationMonth,
			Duration:     1,
			TrialEnabled: false,
			Features:     pq.StringArray{"accounting", "crm", "hrm", "inventory", "pos", "projects"},
			SortOrder:    3,
		},
	}
	for _, plan := range plans {
		var existing plandomain.Plan
		err := tx.WithContext(ctx).Where("code = ?", plan.Code).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		plan.ID = node.Generate()
		plan.IsActive = true
		plan.CreatedAt = now
		plan.UpdatedAt = now
		if err := tx.WithContext(ctx).Create(&plan).Error; err != nil {
			return err
		}
	}
	return nil
}
