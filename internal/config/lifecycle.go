package config

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// LifecycleConfig carries the static defaults for the tenant lifecycle:
// trial and grace windows plus sweep tuning. Persisted saas_settings rows
// override these at resolution time (settings.Service); this file is the
// fallback layer.
type LifecycleConfig struct {
	TrialDays          int  `mapstructure:"trial_days"`
	TrialEnabled       bool `mapstructure:"trial_enabled"`
	GracePeriodDays    int  `mapstructure:"grace_period_days"`
	AutoProvisioning   bool `mapstructure:"auto_provisioning"`
	RequireTrialPaymnt bool `mapstructure:"require_payment_for_trial"`

	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
	SweepBatchSize       int `mapstructure:"sweep_batch_size"`
}

func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		TrialDays:            14,
		TrialEnabled:         true,
		GracePeriodDays:      3,
		AutoProvisioning:     false,
		RequireTrialPaymnt:   false,
		SweepIntervalSeconds: 60,
		SweepBatchSize:       50,
	}
}

// LifecycleHolder exposes the current LifecycleConfig and hot-reloads it
// when the backing file changes.
type LifecycleHolder struct {
	current atomic.Value // holds LifecycleConfig
}

func NewLifecycleHolder(log *zap.Logger) (*LifecycleHolder, error) {
	v := viper.New()

	v.SetConfigName("lifecycle")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tenantcore/config")
	v.AddConfigPath("/etc/tenantcore")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TENANTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &LifecycleHolder{}
	holder.current.Store(DefaultLifecycleConfig())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// No file is fine; the compiled defaults apply.
		return holder, nil
	}

	if err := holder.load(v); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if err := holder.load(v); err != nil {
			log.Warn("lifecycle config reload rejected",
				zap.String("file", e.Name),
				zap.Error(err),
			)
		}
	})
	v.WatchConfig()

	return holder, nil
}

func (h *LifecycleHolder) load(v *viper.Viper) error {
	cfg := DefaultLifecycleConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return err
	}
	if cfg.TrialDays < 0 {
		cfg.TrialDays = 0
	}
	if cfg.GracePeriodDays < 0 {
		cfg.GracePeriodDays = 0
	}
	if cfg.SweepIntervalSeconds <= 0 {
		cfg.SweepIntervalSeconds = DefaultLifecycleConfig().SweepIntervalSeconds
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = DefaultLifecycleConfig().SweepBatchSize
	}
	h.current.Store(cfg)
	return nil
}

// Current returns the latest lifecycle defaults.
func (h *LifecycleHolder) Current() LifecycleConfig {
	return h.current.Load().(LifecycleConfig)
}
