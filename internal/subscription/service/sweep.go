package service

import (
	"context"

	obsmetrics "github.com/opencorehq/tenantcore/internal/observability/metrics"
	plandomain "github.com/opencorehq/tenantcore/internal/plan/domain"
	settingsdomain "github.com/opencorehq/tenantcore/internal/settings/domain"
	subscriptiondomain "github.com/opencorehq/tenantcore/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ConvertDueTrials flips trials whose window has passed to active,
// extending the period by one plan duration from the trial end.
func (s *Service) ConvertDueTrials(ctx context.Context, limit int) (subscriptiondomain.SweepResult, error) {
	var result subscriptiondomain.SweepResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		claimed, err := s.repo.ClaimDueTrials(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		result.Claimed = len(claimed)

		planCache := map[int64]plandomain.Plan{}
		for i := range claimed {
			subscription := claimed[i]
			plan, ok := planCache[int64(subscription.PlanID)]
			if !ok {
				plan, err = s.plans.Get(ctx, subscription.PlanID)
				if err != nil {
					return err
				}
				planCache[int64(subscription.PlanID)] = plan
			}

			anchor := subscription.EndsAt
			if anchor.Before(now) {
				anchor = now
			}
			subscription.Status = subscriptiondomain.StatusActive
			subscription.EndsAt = plan.PeriodEnd(anchor)
			subscription.TrialEndsAt = nil
			subscription.Amount = plan.Price
			subscription.UpdatedAt = now
			if err := s.repo.Update(ctx, tx, &subscription); err != nil {
				return err
			}

			obsmetrics.Sweep().IncTransition("subscription",
				string(subscriptiondomain.StatusTrial),
				string(subscriptiondomain.StatusActive),
			)
			result.Transitioned++
		}
		return nil
	})
	if err != nil {
		return subscriptiondomain.SweepResult{}, err
	}

	if result.Transitioned > 0 {
		s.log.Info("trials converted", zap.Int("count", result.Transitioned))
	}
	return result, nil
}

// SuspendExpired suspends active subscriptions whose period plus the
// configured grace window has lapsed. A tenant with an open renewal
// payment is left alone until the payment is decided.
func (s *Service) SuspendExpired(ctx context.Context, limit int) (subscriptiondomain.SweepResult, error) {
	graceDays := s.settings.GetInt(ctx, settingsdomain.KeyGracePeriodDays, defaultGracePeriodDays)

	var result subscriptiondomain.SweepResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		cutoff := now.AddDate(0, 0, -graceDays)
		claimed, err := s.repo.ClaimExpired(ctx, tx, cutoff, limit)
		if err != nil {
			return err
		}
		result.Claimed = len(claimed)

		for i := range claimed {
			subscription := claimed[i]

			if s.payments != nil {
				open, err := s.payments.HasOpenRenewalPayment(ctx, tx, subscription.TenantID)
				if err != nil {
					return err
				}
				if open {
					continue
				}
			}

			subscription.Status = subscriptiondomain.StatusSuspended
			subscription.UpdatedAt = now
			if err := s.repo.Update(ctx, tx, &subscription); err != nil {
				return err
			}

			obsmetrics.Sweep().IncTransition("subscription",
				string(subscriptiondomain.StatusActive),
				string(subscriptiondomain.StatusSuspended),
			)
			result.Transitioned++
		}
		return nil
	})
	if err != nil {
		return subscriptiondomain.SweepResult{}, err
	}

	if result.Transitioned > 0 {
		s.log.Info("expired subscriptions suspended",
			zap.Int("count", result.Transitioned),
			zap.Int("grace_days", graceDays),
		)
	}
	return result, nil
}

// ApplyPeriodEndCancels finalizes subscriptions flagged to cancel at
// period end once the period has passed.
func (s *Service) ApplyPeriodEndCancels(ctx context.Context, limit int) (subscriptiondomain.SweepResult, error) {
	var result subscriptiondomain.SweepResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		claimed, err := s.repo.ClaimPeriodEndCancels(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		result.Claimed = len(claimed)

		for i := range claimed {
			subscription := claimed[i]
			from := string(subscription.Status)

			subscription.Status = subscriptiondomain.StatusCancelled
			subscription.CancelledAt = &now
			subscription.UpdatedAt = now
			if err := s.repo.Update(ctx, tx, &subscription); err != nil {
				return err
			}

			obsmetrics.Sweep().IncTransition("subscription", from, string(subscriptiondomain.StatusCancelled))
			result.Transitioned++
		}
		return nil
	})
	if err != nil {
		return subscriptiondomain.SweepResult{}, err
	}

	if result.Transitioned > 0 {
		s.log.Info("period-end cancellations applied", zap.Int("count", result.Transitioned))
	}
	return result, nil
}
