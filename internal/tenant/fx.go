package tenant

import (
	"github.com/opencorehq/tenantcore/internal/tenant/repository"
	"github.com/opencorehq/tenantcore/internal/tenant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
