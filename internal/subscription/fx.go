package subscription

import (
	subscriptiondomain "github.com/opencorehq/tenantcore/internal/subscription/domain"
	"github.com/opencorehq/tenantcore/internal/subscription/repository"
	"github.com/opencorehq/tenantcore/internal/subscription/service"
	tenantdomain "github.com/opencorehq/tenantcore/internal/tenant/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc subscriptiondomain.Service) tenantdomain.SubscriptionChecker { return svc }),
)
