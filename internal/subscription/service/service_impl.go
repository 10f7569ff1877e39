package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/opencorehq/tenantcore/internal/clock"
	obsmetrics "github.com/opencorehq/tenantcore/internal/observability/metrics"
	plandomain "github.com/opencorehq/tenantcore/internal/plan/domain"
	settingsdomain "github.com/opencorehq/tenantcore/internal/settings/domain"
	subscriptiondomain "github.com/opencorehq/tenantcore/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultTrialDays       = 14
	defaultGracePeriodDays = 3
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  subscriptiondomain.Repository

	plans    plandomain.Service
	settings settingsdomain.Service
	payments subscriptiondomain.PaymentChecker
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  subscriptiondomain.Repository

	Plans    plandomain.Service
	Settings settingsdomain.Service
	Payments subscriptiondomain.PaymentChecker `optional:"true"`
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,

		plans:    p.Plans,
		settings: p.Settings,
		payments: p.Payments,
	}
}

// Create implements domain.Service. At most one non-cancelled
// subscription may exist per tenant.
func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (subscriptiondomain.Subscription, error) {
	if req.TenantID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidSubscription
	}

	plan, err := s.plans.GetActive(ctx, req.PlanID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	var created subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindCurrentByTenantID(ctx, tx, req.TenantID)
		if err != nil {
			return err
		}
		if current != nil {
			return subscriptiondomain.ErrSubscriptionExists
		}

		now := s.clock.Now()
		subscription := subscriptiondomain.Subscription{
			ID:            s.genID.Generate(),
			TenantID:      req.TenantID,
			PlanID:        plan.ID,
			StartsAt:      now,
			PaymentMethod: strings.TrimSpace(req.PaymentMethod),
			Amount:        plan.Price,
			Currency:      plan.Currency,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		if req.WithTrial {
			if req.TrialUsed || !s.trialAllowed(ctx, plan) {
				return subscriptiondomain.ErrTrialNotAllowed
			}
			trialDays := plan.TrialDays
			if trialDays <= 0 {
				trialDays = s.settings.GetInt(ctx, settingsdomain.KeyTrialDays, defaultTrialDays)
			}
			trialEnd := now.AddDate(0, 0, trialDays)
			subscription.Status = subscriptiondomain.StatusTrial
			subscription.TrialEndsAt = &trialEnd
			subscription.EndsAt = trialEnd
		} else {
			subscription.Status = subscriptiondomain.StatusActive
			subscription.EndsAt = plan.PeriodEnd(now)
		}

		if err := s.repo.Insert(ctx, tx, &subscription); err != nil {
			return err
		}
		created = subscription
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.log.Info("subscription created",
		zap.String("subscription_id", created.ID.String()),
		zap.String("tenant_id", created.TenantID.String()),
		zap.String("status", string(created.Status)),
	)
	return created, nil
}

// Get implements domain.Service.
func (s *Service) Get(ctx context.Context, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if subscription == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *subscription, nil
}

// GetCurrentByTenant implements domain.Service.
func (s *Service) GetCurrentByTenant(ctx context.Context, tenantID snowflake.ID) (subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindCurrentByTenantID(ctx, s.db, tenantID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if subscription == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *subscription, nil
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, filter subscriptiondomain.ListFilter) ([]subscriptiondomain.Subscription, error) {
	return s.repo.List(ctx, s.db, filter)
}

// ListExpiring implements domain.Service.
func (s *Service) ListExpiring(ctx context.Context, within time.Duration, limit int) ([]subscriptiondomain.Subscription, error) {
	return s.repo.ListExpiring(ctx, s.db, s.clock.Now().Add(within), limit)
}

// Renew implements domain.Service. The new period anchors at whichever
// is later, now or the current ends_at, so early renewals never lose
// paid-for days and late renewals never backdate.
func (s *Service) Renew(ctx context.Context, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	var renewed subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.lockLive(ctx, tx, id)
		if err != nil {
			return err
		}

		plan, err := s.plans.Get(ctx, subscription.PlanID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		from := string(subscription.Status)
		anchor := subscription.EndsAt
		if anchor.Before(now) {
			anchor = now
		}
		subscription.EndsAt = plan.PeriodEnd(anchor)
		subscription.Status = subscriptiondomain.StatusActive
		subscription.TrialEndsAt = nil
		subscription.Amount = plan.Price
		subscription.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, subscription); err != nil {
			return err
		}

		obsmetrics.Sweep().IncTransition("subscription", from, string(subscriptiondomain.StatusActive))
		renewed = *subscription
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.log.Info("subscription renewed",
		zap.String("subscription_id", renewed.ID.String()),
		zap.Time("ends_at", renewed.EndsAt),
	)
	return renewed, nil
}

// ActivateFromTrial implements domain.Service. Conversion uses the same
// anchor rule as renewal: the paid period starts at max(now, ends_at).
func (s *Service) ActivateFromTrial(ctx context.Context, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	var activated subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if subscription.Status != subscriptiondomain.StatusTrial {
			return subscriptiondomain.ErrSubscriptionNotTrial
		}

		plan, err := s.plans.Get(ctx, subscription.PlanID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		anchor := subscription.EndsAt
		if anchor.Before(now) {
			anchor = now
		}
		subscription.Status = subscriptiondomain.StatusActive
		subscription.TrialEndsAt = nil
		subscription.EndsAt = plan.PeriodEnd(anchor)
		subscription.Amount = plan.Price
		subscription.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, subscription); err != nil {
			return err
		}

		obsmetrics.Sweep().IncTransition("subscription",
			string(subscriptiondomain.StatusTrial),
			string(subscriptiondomain.StatusActive),
		)
		activated = *subscription
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	return activated, nil
}

// ChangePlan implements domain.Service.
func (s *Service) ChangePlan(ctx context.Context, id, newPlanID snowflake.ID) (subscriptiondomain.ChangePlanResult, error) {
	var result subscriptiondomain.ChangePlanResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.lockLive(ctx, tx, id)
		if err != nil {
			return err
		}

		proration, err := s.prorate(ctx, subscription, newPlanID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		subscription.PlanID = proration.NewPlan.ID
		subscription.Status = subscriptiondomain.StatusActive
		subscription.TrialEndsAt = nil
		subscription.StartsAt = now
		subscription.EndsAt = proration.NewPlan.PeriodEnd(now)
		subscription.Amount = proration.NewPlan.Price
		subscription.Currency = proration.NewPlan.Currency
		subscription.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, subscription); err != nil {
			return err
		}

		proration.Subscription = *subscription
		result = proration
		return nil
	})
	if err != nil {
		return subscriptiondomain.ChangePlanResult{}, err
	}

	s.log.Info("subscription plan changed",
		zap.String("subscription_id", result.Subscription.ID.String()),
		zap.String("old_plan", result.OldPlan.Code),
		zap.String("new_plan", result.NewPlan.Code),
		zap.Int64("credit", result.Credit),
		zap.Int64("charge", result.Charge),
	)
	return result, nil
}

// PreviewChangePlan implements domain.Service.
func (s *Service) PreviewChangePlan(ctx context.Context, id, newPlanID snowflake.ID) (subscriptiondomain.ChangePlanResult, error) {
	subscription, err := s.Get(ctx, id)
	if err != nil {
		return subscriptiondomain.ChangePlanResult{}, err
	}
	if subscription.Status == subscriptiondomain.StatusCancelled {
		return subscriptiondomain.ChangePlanResult{}, subscriptiondomain.ErrSubscriptionCancelled
	}

	proration, err := s.prorate(ctx, &subscription, newPlanID)
	if err != nil {
		return subscriptiondomain.ChangePlanResult{}, err
	}
	proration.Subscription = subscription
	return proration, nil
}

// Cancel implements domain.Service.
func (s *Service) Cancel(ctx context.Context, id snowflake.ID, reason string, atPeriodEnd bool) (subscriptiondomain.Subscription, error) {
	var cancelled subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if subscription.Status == subscriptiondomain.StatusCancelled {
			return subscriptiondomain.ErrSubscriptionCancelled
		}

		now := s.clock.Now()
		subscription.CancellationReason = strings.TrimSpace(reason)
		if atPeriodEnd {
			subscription.CancelAtPeriodEnd = true
		} else {
			from := string(subscription.Status)
			subscription.Status = subscriptiondomain.StatusCancelled
			subscription.CancelledAt = &now
			subscription.EndsAt = now
			obsmetrics.Sweep().IncTransition("subscription", from, string(subscriptiondomain.StatusCancelled))
		}
		subscription.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, subscription); err != nil {
			return err
		}
		cancelled = *subscription
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	return cancelled, nil
}

// HasLiveSubscription implements the tenant activation check.
func (s *Service) HasLiveSubscription(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (bool, error) {
	subscription, err := s.repo.FindLiveByTenantID(ctx, db, tenantID)
	if err != nil {
		return false, err
	}
	return subscription != nil, nil
}

func (s *Service) trialAllowed(ctx context.Context, plan plandomain.Plan) bool {
	if !plan.TrialEnabled {
		return false
	}
	return s.settings.GetBool(ctx, settingsdomain.KeyEnableTrial, true)
}

// lockLive locks the subscription row and rejects terminal rows.
func (s *Service) lockLive(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if subscription.Status == subscriptiondomain.StatusCancelled {
		return nil, subscriptiondomain.ErrSubscriptionCancelled
	}
	return subscription, nil
}

// prorate computes the upgrade credit from whole days remaining on the
// current plan. Downgrades carry no credit.
func (s *Service) prorate(ctx context.Context, subscription *subscriptiondomain.Subscription, newPlanID snowflake.ID) (subscriptiondomain.ChangePlanResult, error) {
	if subscription.PlanID == newPlanID {
		return subscriptiondomain.ChangePlanResult{}, subscriptiondomain.ErrSamePlan
	}

	oldPlan, err := s.plans.Get(ctx, subscription.PlanID)
	if err != nil {
		return subscriptiondomain.ChangePlanResult{}, err
	}
	newPlan, err := s.plans.GetActive(ctx, newPlanID)
	if err != nil {
		return subscriptiondomain.ChangePlanResult{}, err
	}

	now := s.clock.Now()
	var credit int64
	if newPlan.Price > oldPlan.Price && subscription.Status == subscriptiondomain.StatusActive {
		credit = oldPlan.PerDayPrice(now) * int64(subscription.DaysRemaining(now))
	}
	charge := newPlan.Price - credit
	if charge < 0 {
		charge = 0
	}

	return subscriptiondomain.ChangePlanResult{
		OldPlan: oldPlan,
		NewPlan: newPlan,
		Credit:  credit,
		Charge:  charge,
	}, nil
}
