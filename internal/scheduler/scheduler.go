// Package scheduler drives the periodic lifecycle sweeps: trial
// conversion, grace-period suspension and period-end cancellation.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opencorehq/tenantcore/internal/clock"
	"github.com/opencorehq/tenantcore/internal/config"
	obsmetrics "github.com/opencorehq/tenantcore/internal/observability/metrics"
	subscriptiondomain "github.com/opencorehq/tenantcore/internal/subscription/domain"
)

var ErrInvalidConfig = errors.New("scheduler requires db, logger, clock and subscription service")

const (
	JobConvertTrials   = "trial_convert"
	JobSuspendExpired  = "suspend_expired"
	JobApplyPeriodEnds = "apply_period_end"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	SubscriptionSvc subscriptiondomain.Service
	Clock           clock.Clock
	Holder          *config.LifecycleHolder `optional:"true"`
	Config          Config                  `optional:"true"`
}

type Scheduler struct {
	db              *gorm.DB
	log             *zap.Logger
	cfg             Config
	clock           clock.Clock
	holder          *config.LifecycleHolder
	subscriptionSvc subscriptiondomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.SubscriptionSvc == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:              p.DB,
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		clock:           p.Clock,
		holder:          p.Holder,
		subscriptionSvc: p.SubscriptionSvc,
	}, nil
}

// interval and batchSize read the hot-reloadable lifecycle file when
// one is mounted, falling back to the static Config.
func (s *Scheduler) interval() time.Duration {
	if s.holder != nil {
		if secs := s.holder.Current().SweepIntervalSeconds; secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return s.cfg.RunInterval
}

func (s *Scheduler) batchSize() int {
	if s.holder != nil {
		if size := s.holder.Current().SweepBatchSize; size > 0 {
			return size
		}
	}
	return s.cfg.BatchSize
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	sweepMetrics := obsmetrics.Sweep()
	sweepMetrics.IncJobRun(name)

	err := fn(ctx)
	sweepMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		sweepMetrics.IncJobTimeout(name)
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	sweepMetrics.IncJobError(name, err)
	return err
}

// RunOnce executes every enabled job a single time. Jobs run in order
// and one failing never stops the others.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobConvertTrials, func(ctx context.Context) error {
			return s.runJob(ctx, JobConvertTrials, s.cfg.JobTimeout, s.ConvertTrialsJob)
		}},
		{JobSuspendExpired, func(ctx context.Context) error {
			return s.runJob(ctx, JobSuspendExpired, s.cfg.JobTimeout, s.SuspendExpiredJob)
		}},
		{JobApplyPeriodEnds, func(ctx context.Context) error {
			return s.runJob(ctx, JobApplyPeriodEnds, s.cfg.JobTimeout, s.ApplyPeriodEndsJob)
		}},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

// RunForever loops RunOnce on the configured interval until the
// context is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(interval)
	sweepMetrics := obsmetrics.Sweep()

	for {
		if lag := time.Since(nextRun); lag > 0 {
			sweepMetrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweep run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(interval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// The interval can change out from under us via the lifecycle
		// file; pick the new value up on the next tick.
		if current := s.interval(); current != interval {
			interval = current
			ticker.Reset(interval)
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means every job runs (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ConvertTrialsJob activates trials whose trial window elapsed,
// claiming batches until the table runs dry.
func (s *Scheduler) ConvertTrialsJob(ctx context.Context) error {
	return s.drain(ctx, JobConvertTrials, s.subscriptionSvc.ConvertDueTrials)
}

// SuspendExpiredJob suspends live subscriptions past their grace
// window.
func (s *Scheduler) SuspendExpiredJob(ctx context.Context) error {
	return s.drain(ctx, JobSuspendExpired, s.subscriptionSvc.SuspendExpired)
}

// ApplyPeriodEndsJob finalizes cancel-at-period-end subscriptions
// whose period closed.
func (s *Scheduler) ApplyPeriodEndsJob(ctx context.Context) error {
	return s.drain(ctx, JobApplyPeriodEnds, s.subscriptionSvc.ApplyPeriodEndCancels)
}

func (s *Scheduler) drain(ctx context.Context, job string, sweep func(ctx context.Context, limit int) (subscriptiondomain.SweepResult, error)) error {
	batch := s.batchSize()
	sweepMetrics := obsmetrics.Sweep()
	var jobErr error

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, err := sweep(ctx, batch)
		if err != nil {
			if obsmetrics.IsSweepErrorRetryable(err) {
				sweepMetrics.IncBatchDeferred(job, obsmetrics.ClassifySweepJobReason(err))
				return jobErr
			}
			return errors.Join(jobErr, err)
		}

		sweepMetrics.AddBatchProcessed(job, "subscriptions", result.Transitioned)
		if result.Claimed < batch {
			return jobErr
		}
	}
}
