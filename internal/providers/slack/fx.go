package slack

import (
	"go.uber.org/fx"

	"github.com/opencorehq/tenantcore/internal/config"
)

var Module = fx.Module("providers.slack",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	if cfg.AlertWebhookURL == "" {
		return &NoOpProvider{}
	}
	return NewWebhook(cfg.AlertWebhookURL)
}
