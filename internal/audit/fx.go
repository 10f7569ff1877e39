// Package audit records an immutable trail of control-plane actions.
package audit

import (
	"go.uber.org/fx"

	"github.com/opencorehq/tenantcore/internal/audit/repository"
	"github.com/opencorehq/tenantcore/internal/audit/service"
)

var Module = fx.Module("audit",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
