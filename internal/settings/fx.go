package settings

import (
	"github.com/opencorehq/tenantcore/internal/settings/repository"
	"github.com/opencorehq/tenantcore/internal/settings/service"
	"go.uber.org/fx"
)

var Module = fx.Module("settings.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
