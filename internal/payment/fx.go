package payment

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/opencorehq/tenantcore/internal/payment/domain"
	"github.com/opencorehq/tenantcore/internal/payment/repository"
	"github.com/opencorehq/tenantcore/internal/payment/service"
	subscriptiondomain "github.com/opencorehq/tenantcore/internal/subscription/domain"
)

// Module wires the payment feature.
var Module = fx.Module("payment",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(provideRenewalChecker),
)

// renewalChecker lets the subscription sweeps consult pending renewal
// payments without importing this package.
type renewalChecker struct {
	repo domain.Repository
}

func (c *renewalChecker) HasOpenRenewalPayment(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (bool, error) {
	return c.repo.HasOpenRenewal(ctx, db, tenantID)
}

func provideRenewalChecker(repo domain.Repository) subscriptiondomain.PaymentChecker {
	return &renewalChecker{repo: repo}
}
