package plan

import (
	"github.com/opencorehq/tenantcore/internal/plan/repository"
	"github.com/opencorehq/tenantcore/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
