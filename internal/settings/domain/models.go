// Package domain contains persistence models for operator-tunable settings.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ValueType describes how a setting value string should be interpreted.
type ValueType string

const (
	ValueTypeString  ValueType = "string"
	ValueTypeInteger ValueType = "integer"
	ValueTypeBoolean ValueType = "boolean"
)

// Known setting keys. Defaults live in the callers so a missing row
// never blocks a lifecycle decision.
const (
	KeyOperatorName           = "general_operator_name"
	KeyOperatorEmail          = "general_operator_email"
	KeyTrialDays              = "general_trial_days"
	KeyEnableTrial            = "general_enable_trial"
	KeyGracePeriodDays        = "general_grace_period_days"
	KeyAutoProvisioning       = "general_tenant_auto_provisioning"
	KeyRequirePaymentForTrial = "general_require_payment_for_trial"
	KeyDefaultPaymentGateway  = "default_payment_gateway"
	KeyOfflineGatewayEnabled  = "payment_gateway_offline_enabled"
	KeyStripeGatewayEnabled   = "payment_gateway_stripe_enabled"
	KeyPaypalGatewayEnabled   = "payment_gateway_paypal_enabled"
	KeyRazorpayGatewayEnabled = "payment_gateway_razorpay_enabled"
)

// SaasSetting is a single key/value row.
type SaasSetting struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Key       string       `gorm:"column:key;type:text;not null;uniqueIndex" json:"key"`
	Value     string       `gorm:"type:text;not null" json:"value"`
	ValueType ValueType    `gorm:"type:text;not null" json:"value_type"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (SaasSetting) TableName() string { return "saas_settings" }
