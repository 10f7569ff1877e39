package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/opencorehq/tenantcore/internal/clock"
	"github.com/opencorehq/tenantcore/internal/payment/domain"
	"github.com/opencorehq/tenantcore/internal/payment/repository"
	plandomain "github.com/opencorehq/tenantcore/internal/plan/domain"
	"github.com/opencorehq/tenantcore/internal/providers/pdf"
	settingsdomain "github.com/opencorehq/tenantcore/internal/settings/domain"
	subscriptiondomain "github.com/opencorehq/tenantcore/internal/subscription/domain"
	subscriptionrepo "github.com/opencorehq/tenantcore/internal/subscription/repository"
	subscriptionservice "github.com/opencorehq/tenantcore/internal/subscription/service"
	tenantdomain "github.com/opencorehq/tenantcore/internal/tenant/domain"
	tenantrepo "github.com/opencorehq/tenantcore/internal/tenant/repository"
	tenantservice "github.com/opencorehq/tenantcore/internal/tenant/service"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

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

	for _, ddl := range []string{
		`CREATE TABLE tenants (
			id INTEGER PRIMARY KEY,
			uuid TEXT NOT NULL,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			subdomain TEXT NOT NULL,
			custom_domain TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			approved_at DATETIME,
			approved_by TEXT NOT NULL DEFAULT '',
			database_provisioning_status TEXT NOT NULL DEFAULT 'pending',
			trial_ends_at DATETIME,
			has_used_trial BOOLEAN NOT NULL DEFAULT 0,
			metadata TEXT,
			notes TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			deleted_at DATETIME
		)`,
		`CREATE TABLE subscriptions (
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
		)`,
		`CREATE TABLE payments (
			id INTEGER PRIMARY KEY,
			tenant_id INTEGER NOT NULL,
			subscription_id INTEGER,
			new_plan_id INTEGER,
			purpose TEXT NOT NULL DEFAULT 'subscription',
			amount INTEGER NOT NULL,
			currency TEXT NOT NULL DEFAULT 'USD',
			method TEXT NOT NULL DEFAULT 'bank_transfer',
			gateway TEXT NOT NULL DEFAULT '',
			gateway_ref TEXT NOT NULL DEFAULT '',
			proof_document_path TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			approved_by TEXT NOT NULL DEFAULT '',
			approved_at DATETIME,
			rejection_reason TEXT NOT NULL DEFAULT '',
			invoice_number TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE invoice_sequences (
			year INTEGER PRIMARY KEY,
			counter INTEGER NOT NULL DEFAULT 0
		)`,
	} {
		require.NoError(t, db.Exec(ddl).Error)
	}
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
	return s.Get(ctx, id)
}

func (s stubPlans) GetByCode(_ context.Context, _ string) (plandomain.Plan, error) {
	return plandomain.Plan{}, plandomain.ErrPlanNotFound
}

func (s stubPlans) List(_ context.Context, _ bool) ([]plandomain.Plan, error) { return nil, nil }

type stubSettings struct{}

func (stubSettings) GetString(_ context.Context, _, fallback string) string { return fallback }
func (stubSettings) GetInt(_ context.Context, _ string, fallback int) int   { return fallback }
func (stubSettings) GetBool(_ context.Context, _ string, fallback bool) bool {
	return fallback
}
func (stubSettings) Set(_ context.Context, _, _ string, _ settingsdomain.ValueType) (settingsdomain.SaasSetting, error) {
	return settingsdomain.SaasSetting{}, nil
}
func (stubSettings) Delete(_ context.Context, _ string) error                   { return nil }
func (stubSettings) List(_ context.Context) ([]settingsdomain.SaasSetting, error) { return nil, nil }

type fixture struct {
	svc   *Service
	db    *gorm.DB
	clock *clock.FakeClock
	node  *snowflake.Node

	tenants       tenantdomain.Service
	subscriptions subscriptiondomain.Service
	plan          plandomain.Plan
	upgradePlan   plandomain.Plan
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	db := openTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(now)
	log := zaptest.NewLogger(t)

	plan := plandomain.Plan{
		ID:           node.Generate(),
		Name:         "Starter",
		Code:         "starter",
		Price:        2900,
		Currency:     "USD",
		DurationType: plandomain.DurationMonth,
		Duration:     1,
		TrialEnabled: true,
		IsActive:     true,
	}
	upgradePlan := plandomain.Plan{
		ID:           node.Generate(),
		Name:         "Professional",
		Code:         "professional",
		Price:        7900,
		Currency:     "USD",
		DurationType: plandomain.DurationMonth,
		Duration:     1,
		TrialEnabled: true,
		IsActive:     true,
	}
	plans := stubPlans{plans: map[snowflake.ID]plandomain.Plan{
		plan.ID:        plan,
		upgradePlan.ID: upgradePlan,
	}}

	subscriptions := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fc,
		Repo:     subscriptionrepo.Provide(),
		Plans:    plans,
		Settings: stubSettings{},
	})
	tenants := tenantservice.NewService(tenantservice.ServiceParam{
		DB:            db,
		Log:           log,
		GenID:         node,
		Clock:         fc,
		Repo:          tenantrepo.Provide(),
		Subscriptions: subscriptions.(tenantdomain.SubscriptionChecker),
	})

	svc := &Service{
		db:    db,
		log:   log,
		genID: node,
		clock: fc,
		repo:  repository.Provide(),

		tenants:       tenants,
		subscriptions: subscriptions,
		plans:         plans,
		settings:      stubSettings{},
		documents:     &pdf.NoOpProvider{},
	}
	return &fixture{
		svc:           svc,
		db:            db,
		clock:         fc,
		node:          node,
		tenants:       tenants,
		subscriptions: subscriptions,
		plan:          plan,
		upgradePlan:   upgradePlan,
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (f *fixture) seedTenant(t *testing.T, status tenantdomain.Status, provisioned bool) tenantdomain.Tenant {
	t.Helper()
	now := f.clock.Now()
	tenant := tenantdomain.Tenant{
		ID:        f.node.Generate(),
		UUID:      uuid.New(),
		Name:      "Acme",
		Email:     "owner@acme.test",
		Subdomain: "acme-" + f.node.Generate().String(),
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if provisioned {
		tenant.DatabaseProvisioningStatus = tenantdomain.ProvisioningProvisioned
	}
	require.NoError(t, f.db.Create(&tenant).Error)
	return tenant
}

func (f *fixture) seedSubscription(t *testing.T, tenantID snowflake.ID, status subscriptiondomain.Status, endsAt time.Time) subscriptiondomain.Subscription {
	t.Helper()
	now := f.clock.Now()
	sub := subscriptiondomain.Subscription{
		ID:        f.node.Generate(),
		TenantID:  tenantID,
		PlanID:    f.plan.ID,
		Status:    status,
		StartsAt:  now.AddDate(0, -1, 0),
		EndsAt:    endsAt,
		Amount:    f.plan.Price,
		Currency:  "USD",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if status == subscriptiondomain.StatusTrial {
		sub.TrialEndsAt = &endsAt
	}
	require.NoError(t, f.db.Create(&sub).Error)
	return sub
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t, date(2024, time.June, 1))
		tenant := f.seedTenant(t, tenantdomain.StatusApproved, false)

		_, err := f.svc.Submit(ctx, domain.SubmitRequest{TenantID: tenant.ID, Amount: 0, Method: domain.MethodGateway})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)

		_, err = f.svc.Submit(ctx, domain.SubmitRequest{TenantID: tenant.ID, Amount: 100, Method: "cash"})
		assert.ErrorIs(t, err, domain.ErrInvalidMethod)

		_, err = f.svc.Submit(ctx, domain.SubmitRequest{TenantID: tenant.ID, Amount: 100, Method: domain.MethodBankTransfer})
		assert.ErrorIs(t, err, domain.ErrMissingProof)
	})

	t.Run("purpose derivation", func(t *testing.T) {
		f := newFixture(t, date(2024, time.June, 1))

		noSub := f.seedTenant(t, tenantdomain.StatusApproved, false)
		payment, err := f.svc.Submit(ctx, domain.SubmitRequest{
			TenantID: noSub.ID, Amount: 2900, Method: domain.MethodGateway,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.PurposeSubscription, payment.Purpose)
		assert.Nil(t, payment.SubscriptionID)
		assert.Equal(t, "USD", payment.Currency)

		onTrial := f.seedTenant(t, tenantdomain.StatusActive, true)
		trialSub := f.seedSubscription(t, onTrial.ID, subscriptiondomain.StatusTrial, date(2024, time.June, 10))
		payment, err = f.svc.Submit(ctx, domain.SubmitRequest{
			TenantID: onTrial.ID, Amount: 2900, Method: domain.MethodGateway,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.PurposeSubscription, payment.Purpose)
		require.NotNil(t, payment.SubscriptionID)
		assert.Equal(t, trialSub.ID, *payment.SubscriptionID)

		active := f.seedTenant(t, tenantdomain.StatusActive, true)
		f.seedSubscription(t, active.ID, subscriptiondomain.StatusActive, date(2024, time.June, 20))
		payment, err = f.svc.Submit(ctx, domain.SubmitRequest{
			TenantID: active.ID, Amount: 2900, Method: domain.MethodGateway,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.PurposeRenewal, payment.Purpose)

		upgrading := f.seedTenant(t, tenantdomain.StatusActive, true)
		f.seedSubscription(t, upgrading.ID, subscriptiondomain.StatusActive, date(2024, time.June, 20))
		payment, err = f.svc.Submit(ctx, domain.SubmitRequest{
			TenantID: upgrading.ID, Amount: 7900, Method: domain.MethodGateway,
			NewPlanID: &f.upgradePlan.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.PurposeUpgrade, payment.Purpose)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		f := newFixture(t, date(2024, time.June, 1))
		_, err := f.svc.Submit(ctx, domain.SubmitRequest{
			TenantID: f.node.Generate(), Amount: 2900, Method: domain.MethodGateway,
		})
		assert.ErrorIs(t, err, tenantdomain.ErrTenantNotFound)
	})
}

func TestApproveRenewal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, time.June, 18))
	tenant := f.seedTenant(t, tenantdomain.StatusActive, true)
	sub := f.seedSubscription(t, tenant.ID, subscriptiondomain.StatusActive, date(2024, time.June, 20))

	payment, err := f.svc.Submit(ctx, domain.SubmitRequest{
		TenantID: tenant.ID, Amount: 2900, Method: domain.MethodGateway,
	})
	require.NoError(t, err)
	require.Equal(t, domain.PurposeRenewal, payment.Purpose)

	approved, err := f.svc.Approve(ctx, payment.ID, "operator-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status)
	assert.Equal(t, "operator-1", approved.ApprovedBy)
	require.NotNil(t, approved.InvoiceNumber)
	assert.Equal(t, "INV-2024-000001", *approved.InvoiceNumber)

	renewed, err := f.subscriptions.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.July, 20), renewed.EndsAt)

	// A second approval must not extend the period again.
	_, err = f.svc.Approve(ctx, payment.ID, "operator-2")
	assert.ErrorIs(t, err, domain.ErrPaymentNotPending)

	unchanged, err := f.subscriptions.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.July, 20), unchanged.EndsAt)
}

func TestApproveTrialActivation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, time.June, 8))
	tenant := f.seedTenant(t, tenantdomain.StatusApproved, true)
	sub := f.seedSubscription(t, tenant.ID, subscriptiondomain.StatusTrial, date(2024, time.June, 10))

	payment, err := f.svc.Submit(ctx, domain.SubmitRequest{
		TenantID: tenant.ID, Amount: 2900, Method: domain.MethodGateway,
	})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, payment.ID, "operator-1")
	require.NoError(t, err)

	activated, err := f.subscriptions.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, activated.Status)
	assert.Equal(t, date(2024, time.July, 10), activated.EndsAt)

	// Approved tenant with database and live subscription goes active.
	refreshed, err := f.tenants.Get(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenantdomain.StatusActive, refreshed.Status)
}

func TestApproveUpgrade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, time.June, 1))
	tenant := f.seedTenant(t, tenantdomain.StatusActive, true)
	sub := f.seedSubscription(t, tenant.ID, subscriptiondomain.StatusActive, date(2024, time.June, 20))

	payment, err := f.svc.Submit(ctx, domain.SubmitRequest{
		TenantID: tenant.ID, Amount: 7900, Method: domain.MethodGateway,
		NewPlanID: &f.upgradePlan.ID,
	})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, payment.ID, "operator-1")
	require.NoError(t, err)

	upgraded, err := f.subscriptions.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, f.upgradePlan.ID, upgraded.PlanID)
	assert.Equal(t, f.upgradePlan.Price, upgraded.Amount)
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, time.June, 18))
	tenant := f.seedTenant(t, tenantdomain.StatusActive, true)
	sub := f.seedSubscription(t, tenant.ID, subscriptiondomain.StatusActive, date(2024, time.June, 20))

	payment, err := f.svc.Submit(ctx, domain.SubmitRequest{
		TenantID: tenant.ID, Amount: 2900, Method: domain.MethodGateway,
	})
	require.NoError(t, err)

	rejected, err := f.svc.Reject(ctx, payment.ID, "operator-1", "wrong amount")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)
	assert.Equal(t, "wrong amount", rejected.RejectionReason)
	assert.Equal(t, "operator-1", rejected.Metadata["rejected_by"])
	assert.Nil(t, rejected.InvoiceNumber)

	untouched, err := f.subscriptions.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.June, 20), untouched.EndsAt)
	assert.Equal(t, subscriptiondomain.StatusActive, untouched.Status)

	_, err = f.svc.Approve(ctx, payment.ID, "operator-2")
	assert.ErrorIs(t, err, domain.ErrPaymentNotPending)
}

func TestInvoiceNumbersAreSequential(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, time.June, 1))

	var invoices []string
	for i := 0; i < 3; i++ {
		tenant := f.seedTenant(t, tenantdomain.StatusActive, true)
		payment, err := f.svc.Submit(ctx, domain.SubmitRequest{
			TenantID: tenant.ID, Amount: 2900, Method: domain.MethodGateway,
		})
		require.NoError(t, err)
		approved, err := f.svc.Approve(ctx, payment.ID, "operator-1")
		require.NoError(t, err)
		require.NotNil(t, approved.InvoiceNumber)
		invoices = append(invoices, *approved.InvoiceNumber)
	}
	assert.Equal(t, []string{"INV-2024-000001", "INV-2024-000002", "INV-2024-000003"}, invoices)
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, time.June, 15))
	tenant := f.seedTenant(t, tenantdomain.StatusActive, true)

	first, err := f.svc.Submit(ctx, domain.SubmitRequest{
		TenantID: tenant.ID, Amount: 2900, Method: domain.MethodGateway,
	})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, domain.SubmitRequest{
		TenantID: tenant.ID, Amount: 1100, Method: domain.MethodGateway,
	})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, first.ID, "operator-1")
	require.NoError(t, err)

	stats, err := f.svc.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PendingCount)
	assert.Equal(t, int64(1100), stats.PendingAmount)
	assert.Equal(t, int64(1), stats.ApprovedToday)
	assert.Equal(t, int64(1), stats.ApprovedThisMonth)
}

func TestReceiptRequiresApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, time.June, 15))
	tenant := f.seedTenant(t, tenantdomain.StatusActive, true)

	payment, err := f.svc.Submit(ctx, domain.SubmitRequest{
		TenantID: tenant.ID, Amount: 2900, Method: domain.MethodGateway,
	})
	require.NoError(t, err)

	_, err = f.svc.Receipt(ctx, payment.ID)
	assert.ErrorIs(t, err, domain.ErrPaymentNotApproved)

	_, err = f.svc.Approve(ctx, payment.ID, "operator-1")
	require.NoError(t, err)

	_, err = f.svc.Receipt(ctx, payment.ID)
	assert.NoError(t, err)
}
