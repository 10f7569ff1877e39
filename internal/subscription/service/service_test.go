package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/opencorehq/tenantcore/internal/clock"
	plandomain "github.com/opencorehq/tenantcore/internal/plan/domain"
	settingsdomain "github.com/opencorehq/tenantcore/internal/settings/domain"
	"github.com/opencorehq/tenantcore/internal/subscription/domain"
	"github.com/opencorehq/tenantcore/internal/subscription/repository"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	// SQLite has no row locks; strip the postgres locking clauses.
	stripLocking := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripLocking))
	require.NoError(t, db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripLocking))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Exec(`CREATE TABLE subscriptions (
		id INTEGER PRIMARY KEY,
		tenant_id INTEGER NOT NULL,
		plan_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'trial',
		starts_at DATETIME NOT NULL,
		ends_at DATETIME NOT NULL,
		trial_ends_at DATETIME,
		cancelled_at DATETIME,
		cancellation_reason TEXT NOT NULL DEFAULT '',
		cancel_at_period_end BOOLEAN NOT NULL DEFAULT 0,
		payment_method TEXT NOT NULL DEFAULT '',
		amount INTEGER NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'USD',
		metadata TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error)
	return db
}

type stubPlans struct {
	plans map[snowflake.ID]plandomain.Plan
}

func (s stubPlans) Get(_ context.Context, id snowflake.ID) (plandomain.Plan, error) {
	plan, ok := s.plans[id]
	if !ok {
		return plandomain.Plan{}, plandomain.ErrPlanNotFound
	}
	return plan, nil
}

func (s stubPlans) GetActive(ctx context.Context, id snowflake.ID) (plandomain.Plan, error) {
	plan, err := s.Get(ctx, id)
	if err != nil {
		return plandomain.Plan{}, err
	}
	if !plan.IsActive {
		return plandomain.Plan{}, plandomain.ErrPlanInactive
	}
	return plan, nil
}

func (s stubPlans) GetByCode(_ context.Context, code string) (plandomain.Plan, error) {
	for _, plan := range s.plans {
		if plan.Code == code {
			return plan, nil
		}
	}
	return plandomain.Plan{}, plandomain.ErrPlanNotFound
}

func (s stubPlans) List(_ context.Context, _ bool) ([]plandomain.Plan, error) {
	var out []plandomain.Plan
	for _, plan := range s.plans {
		out = append(out, plan)
	}
	return out, nil
}

type stubSettings struct {
	ints  map[string]int
	bools map[string]bool
}

func (s stubSettings) GetString(_ context.Context, _, fallback string) string { return fallback }

func (s stubSettings) GetInt(_ context.Context, key string, fallback int) int {
	if v, ok := s.ints[key]; ok {
		return v
	}
	return fallback
}

func (s stubSettings) GetBool(_ context.Context, key string, fallback bool) bool {
	if v, ok := s.bools[key]; ok {
		return v
	}
	return fallback
}

func (s stubSettings) Set(_ context.Context, _, _ string, _ settingsdomain.ValueType) (settingsdomain.SaasSetting, error) {
	return settingsdomain.SaasSetting{}, nil
}

func (s stubSettings) Delete(_ context.Context, _ string) error { return nil }

func (s stubSettings) List(_ context.Context) ([]settingsdomain.SaasSetting, error) {
	return nil, nil
}

type stubPayments struct {
	open bool
}

func (s stubPayments) HasOpenRenewalPayment(_ context.Context, _ *gorm.DB, _ snowflake.ID) (bool, error) {
	return s.open, nil
}

type fixture struct {
	svc     *Service
	db      *gorm.DB
	clock   *clock.FakeClock
	node    *snowflake.Node
	monthly plandomain.Plan
	premium plandomain.Plan
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	db := openTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(now)

	monthly := plandomain.Plan{
		ID:           node.Generate(),
		Name:         "Starter",
		Code:         "starter",
		Price:        3000,
		Currency:     "USD",
		DurationType: plandomain.DurationMonth,
		Duration:     1,
		TrialEnabled: true,
		IsActive:     true,
	}
	premium := plandomain.Plan{
		ID:           node.Generate(),
		Name:         "Professional",
		Code:         "professional",
		Price:        9000,
		Currency:     "USD",
		DurationType: plandomain.DurationMonth,
		Duration:     1,
		TrialEnabled: true,
		IsActive:     true,
	}

	svc := &Service{
		db:    db,
		log:   zaptest.NewLogger(t),
		genID: node,
		clock: fc,
		repo:  repository.Provide(),
		plans: stubPlans{plans: map[snowflake.ID]plandomain.Plan{
			monthly.ID: monthly,
			premium.ID: premium,
		}},
		settings: stubSettings{},
	}
	return &fixture{svc: svc, db: db, clock: fc, node: node, monthly: monthly, premium: premium}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (f *fixture) seed(t *testing.T, sub domain.Subscription) domain.Subscription {
	t.Helper()
	if sub.ID == 0 {
		sub.ID = f.node.Generate()
	}
	if sub.StartsAt.IsZero() {
		sub.StartsAt = f.clock.Now().AddDate(0, -1, 0)
	}
	sub.CreatedAt = sub.StartsAt
	sub.UpdatedAt = sub.StartsAt
	require.NoError(t, f.db.Create(&sub).Error)
	return sub
}

func TestCreate(t *testing.T) {
	f := newFixture(t, date(2024, time.January, 1))
	ctx := context.Background()
	tenantID := f.node.Generate()

	t.Run("trial start", func(t *testing.T) {
		created, err := f.svc.Create(ctx, domain.CreateRequest{
			TenantID:  tenantID,
			PlanID:    f.monthly.ID,
			WithTrial: true,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusTrial, created.Status)
		require.NotNil(t, created.TrialEndsAt)
		assert.Equal(t, date(2024, time.January, 15), *created.TrialEndsAt)
		assert.Equal(t, date(2024, time.January, 15), created.EndsAt)
	})

	t.Run("second live subscription rejected", func(t *testing.T) {
		_, err := f.svc.Create(ctx, domain.CreateRequest{
			TenantID: tenantID,
			PlanID:   f.monthly.ID,
		})
		assert.ErrorIs(t, err, domain.ErrSubscriptionExists)
	})

	t.Run("trial already consumed", func(t *testing.T) {
		_, err := f.svc.Create(ctx, domain.CreateRequest{
			TenantID:  f.node.Generate(),
			PlanID:    f.monthly.ID,
			WithTrial: true,
			TrialUsed: true,
		})
		assert.ErrorIs(t, err, domain.ErrTrialNotAllowed)
	})

	t.Run("paid start uses plan period", func(t *testing.T) {
		created, err := f.svc.Create(ctx, domain.CreateRequest{
			TenantID: f.node.Generate(),
			PlanID:   f.monthly.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusActive, created.Status)
		assert.Equal(t, date(2024, time.February, 1), created.EndsAt)
		assert.Equal(t, f.monthly.Price, created.Amount)
	})
}

func TestRenewAnchor(t *testing.T) {
	ctx := context.Background()

	t.Run("early renewal keeps remaining days", func(t *testing.T) {
		f := newFixture(t, date(2024, time.January, 10))
		sub := f.seed(t, domain.Subscription{
			TenantID: f.node.Generate(),
			PlanID:   f.monthly.ID,
			Status:   domain.StatusActive,
			EndsAt:   date(2024, time.January, 15),
		})

		renewed, err := f.svc.Renew(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, date(2024, time.February, 15), renewed.EndsAt)
		assert.Equal(t, domain.StatusActive, renewed.Status)
	})

	t.Run("late renewal anchors at now", func(t *testing.T) {
		f := newFixture(t, date(2024, time.January, 20))
		sub := f.seed(t, domain.Subscription{
			TenantID: f.node.Generate(),
			PlanID:   f.monthly.ID,
			Status:   domain.StatusActive,
			EndsAt:   date(2024, time.January, 15),
		})

		renewed, err := f.svc.Renew(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, date(2024, time.February, 20), renewed.EndsAt)
	})

	t.Run("suspended returns to active", func(t *testing.T) {
		f := newFixture(t, date(2024, time.January, 20))
		sub := f.seed(t, domain.Subscription{
			TenantID: f.node.Generate(),
			PlanID:   f.monthly.ID,
			Status:   domain.StatusSuspended,
			EndsAt:   date(2024, time.January, 10),
		})

		renewed, err := f.svc.Renew(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusActive, renewed.Status)
		assert.Equal(t, date(2024, time.February, 20), renewed.EndsAt)
	})

	t.Run("cancelled cannot renew", func(t *testing.T) {
		f := newFixture(t, date(2024, time.January, 20))
		sub := f.seed(t, domain.Subscription{
			TenantID: f.node.Generate(),
			PlanID:   f.monthly.ID,
			Status:   domain.StatusCancelled,
			EndsAt:   date(2024, time.January, 10),
		})

		_, err := f.svc.Renew(ctx, sub.ID)
		assert.ErrorIs(t, err, domain.ErrSubscriptionCancelled)
	})
}

func TestActivateFromTrial(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, time.January, 10))
	trialEnd := date(2024, time.January, 15)
	sub := f.seed(t, domain.Subscription{
		TenantID:    f.node.Generate(),
		PlanID:      f.monthly.ID,
		Status:      domain.StatusTrial,
		EndsAt:      trialEnd,
		TrialEndsAt: &trialEnd,
	})

	activated, err := f.svc.ActivateFromTrial(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, activated.Status)
	assert.Nil(t, activated.TrialEndsAt)
	assert.Equal(t, date(2024, time.February, 15), activated.EndsAt)

	_, err = f.svc.ActivateFromTrial(ctx, sub.ID)
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotTrial)
}

func TestChangePlanProration(t *testing.T) {
	ctx := context.Background()
	// A monthly period anchored at Jan 21 spans 31 days.
	f := newFixture(t, date(2024, time.January, 21))
	sub := f.seed(t, domain.Subscription{
		TenantID: f.node.Generate(),
		PlanID:   f.monthly.ID,
		Status:   domain.StatusActive,
		StartsAt: date(2024, time.January, 1),
		EndsAt:   date(2024, time.February, 1),
		Amount:   f.monthly.Price,
	})

	t.Run("preview does not mutate", func(t *testing.T) {
		preview, err := f.svc.PreviewChangePlan(ctx, sub.ID, f.premium.ID)
		require.NoError(t, err)
		// 11 whole days left at 3000/31 per day.
		perDay := f.monthly.Price / 31
		assert.Equal(t, perDay*11, preview.Credit)
		assert.Equal(t, f.premium.Price-perDay*11, preview.Charge)

		unchanged, err := f.svc.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, f.monthly.ID, unchanged.PlanID)
	})

	t.Run("same plan rejected", func(t *testing.T) {
		_, err := f.svc.ChangePlan(ctx, sub.ID, f.monthly.ID)
		assert.ErrorIs(t, err, domain.ErrSamePlan)
	})

	t.Run("upgrade applies new period", func(t *testing.T) {
		result, err := f.svc.ChangePlan(ctx, sub.ID, f.premium.ID)
		require.NoError(t, err)
		assert.Equal(t, f.premium.ID, result.Subscription.PlanID)
		assert.Equal(t, date(2024, time.February, 21), result.Subscription.EndsAt)
		assert.Equal(t, f.premium.Price, result.Subscription.Amount)
		assert.Positive(t, result.Credit)
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("immediate", func(t *testing.T) {
		f := newFixture(t, date(2024, time.March, 10))
		sub := f.seed(t, domain.Subscription{
			TenantID: f.node.Generate(),
			PlanID:   f.monthly.ID,
			Status:   domain.StatusActive,
			EndsAt:   date(2024, time.April, 1),
		})

		cancelled, err := f.svc.Cancel(ctx, sub.ID, "customer request", false)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCancelled, cancelled.Status)
		assert.Equal(t, date(2024, time.March, 10), cancelled.EndsAt)
		require.NotNil(t, cancelled.CancelledAt)

		_, err = f.svc.Cancel(ctx, sub.ID, "again", false)
		assert.ErrorIs(t, err, domain.ErrSubscriptionCancelled)
	})

	t.Run("at period end keeps access", func(t *testing.T) {
		f := newFixture(t, date(2024, time.March, 10))
		sub := f.seed(t, domain.Subscription{
			TenantID: f.node.Generate(),
			PlanID:   f.monthly.ID,
			Status:   domain.StatusActive,
			EndsAt:   date(2024, time.April, 1),
		})

		flagged, err := f.svc.Cancel(ctx, sub.ID, "", true)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusActive, flagged.Status)
		assert.True(t, flagged.CancelAtPeriodEnd)
		assert.Equal(t, date(2024, time.April, 1), flagged.EndsAt)
	})
}

func TestConvertDueTrials(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, time.January, 16))

	due := date(2024, time.January, 15)
	future := date(2024, time.January, 20)
	dueSub := f.seed(t, domain.Subscription{
		TenantID:    f.node.Generate(),
		PlanID:      f.monthly.ID,
		Status:      domain.StatusTrial,
		EndsAt:      due,
		TrialEndsAt: &due,
	})
	notDue := f.seed(t, domain.Subscription{
		TenantID:    f.node.Generate(),
		PlanID:      f.monthly.ID,
		Status:      domain.StatusTrial,
		EndsAt:      future,
		TrialEndsAt: &future,
	})

	result, err := f.svc.ConvertDueTrials(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Claimed)
	assert.Equal(t, 1, result.Transitioned)

	converted, err := f.svc.Get(ctx, dueSub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, converted.Status)
	assert.Nil(t, converted.TrialEndsAt)
	assert.Equal(t, date(2024, time.February, 16), converted.EndsAt)

	untouched, err := f.svc.Get(ctx, notDue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTrial, untouched.Status)
}

func TestSuspendExpired(t *testing.T) {
	ctx := context.Background()

	t.Run("inside grace window stays active", func(t *testing.T) {
		// Ends 2024-01-01 with 3 grace days: day 4 is still within
		// grace, day 5 is past it.
		f := newFixture(t, date(2024, time.January, 4))
		sub := f.seed(t, domain.Subscription{
			TenantID: f.node.Generate(),
			PlanID:   f.monthly.ID,
			Status:   domain.StatusActive,
			EndsAt:   date(2024, time.January, 1),
		})

		result, err := f.svc.SuspendExpired(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Claimed)

		f.clock.Set(date(2024, time.January, 5))
		result, err = f.svc.SuspendExpired(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Transitioned)

		suspended, err := f.svc.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusSuspended, suspended.Status)
	})

	t.Run("open renewal payment defers suspension", func(t *testing.T) {
		f := newFixture(t, date(2024, time.January, 10))
		f.svc.payments = stubPayments{open: true}
		sub := f.seed(t, domain.Subscription{
			TenantID: f.node.Generate(),
			PlanID:   f.monthly.ID,
			Status:   domain.StatusActive,
			EndsAt:   date(2024, time.January, 1),
		})

		result, err := f.svc.SuspendExpired(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Claimed)
		assert.Equal(t, 0, result.Transitioned)

		still, err := f.svc.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusActive, still.Status)
	})
}

func TestApplyPeriodEndCancels(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, time.April, 2))
	sub := f.seed(t, domain.Subscription{
		TenantID:          f.node.Generate(),
		PlanID:            f.monthly.ID,
		Status:            domain.StatusActive,
		EndsAt:            date(2024, time.April, 1),
		CancelAtPeriodEnd: true,
	})
	keep := f.seed(t, domain.Subscription{
		TenantID: f.node.Generate(),
		PlanID:   f.monthly.ID,
		Status:   domain.StatusActive,
		EndsAt:   date(2024, time.April, 1),
	})

	result, err := f.svc.ApplyPeriodEndCancels(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Transitioned)

	cancelled, err := f.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	untouched, err := f.svc.Get(ctx, keep.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, untouched.Status)
}

func TestHasLiveSubscription(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, time.January, 1))
	tenantID := f.node.Generate()

	live, err := f.svc.HasLiveSubscription(ctx, f.db, tenantID)
	require.NoError(t, err)
	assert.False(t, live)

	f.seed(t, domain.Subscription{
		TenantID: tenantID,
		PlanID:   f.monthly.ID,
		Status:   domain.StatusActive,
		EndsAt:   date(2024, time.February, 1),
	})

	live, err = f.svc.HasLiveSubscription(ctx, f.db, tenantID)
	require.NoError(t, err)
	assert.True(t, live)
}
