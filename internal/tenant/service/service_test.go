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
	"github.com/opencorehq/tenantcore/internal/tenant/domain"
	"github.com/opencorehq/tenantcore/internal/tenant/repository"
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

	require.NoError(t, db.Exec(`CREATE TABLE tenants (
		id INTEGER PRIMARY KEY,
		uuid TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		subdomain TEXT NOT NULL UNIQUE,
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
	)`).Error)
	return db
}

type stubChecker struct {
	live bool
}

func (s stubChecker) HasLiveSubscription(_ context.Context, _ *gorm.DB, _ snowflake.ID) (bool, error) {
	return s.live, nil
}

// queryingChecker reads through the handle it is given. With the pool
// capped at one connection this only completes when Activate hands it
// the enclosing transaction rather than the root db.
type queryingChecker struct{}

func (queryingChecker) HasLiveSubscription(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Tenant{}).
		Where("id = ?", tenantID).
		Count(&count).Error
	return count > 0, err
}

func newService(t *testing.T, now time.Time) (*Service, *clock.FakeClock) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(now)
	svc := &Service{
		db:    openTestDB(t),
		log:   zaptest.NewLogger(t),
		genID: node,
		clock: fc,
		repo:  repository.Provide(),
	}
	return svc, fc
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, date(2024, time.May, 1))

	t.Run("valid registration", func(t *testing.T) {
		tenant, err := svc.Register(ctx, domain.RegisterRequest{
			Name:      "Acme Corp",
			Email:     "Owner@Acme.Test",
			Subdomain: "Acme Corp",
			PlanID:    "42",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, tenant.Status)
		assert.Equal(t, domain.ProvisioningPending, tenant.DatabaseProvisioningStatus)
		assert.Equal(t, "owner@acme.test", tenant.Email)
		assert.Equal(t, "acme-corp", tenant.Subdomain)
		assert.Equal(t, "42", tenant.Metadata[domain.MetaRequestedPlanID])
		assert.NotEmpty(t, tenant.UUID)
	})

	t.Run("duplicate email rejected", func(t *testing.T) {
		_, err := svc.Register(ctx, domain.RegisterRequest{
			Name:  "Other",
			Email: "owner@acme.test",
		})
		assert.ErrorIs(t, err, domain.ErrEmailTaken)
	})

	t.Run("subdomain collisions get a suffix", func(t *testing.T) {
		second, err := svc.Register(ctx, domain.RegisterRequest{
			Name:      "Acme Corp Two",
			Email:     "two@acme.test",
			Subdomain: "acme-corp",
		})
		require.NoError(t, err)
		assert.Equal(t, "acme-corp-1", second.Subdomain)

		third, err := svc.Register(ctx, domain.RegisterRequest{
			Name:      "Acme Corp Three",
			Email:     "three@acme.test",
			Subdomain: "acme-corp",
		})
		require.NoError(t, err)
		assert.Equal(t, "acme-corp-2", third.Subdomain)
	})

	t.Run("subdomain falls back to name", func(t *testing.T) {
		tenant, err := svc.Register(ctx, domain.RegisterRequest{
			Name:  "Globex International",
			Email: "it@globex.test",
		})
		require.NoError(t, err)
		assert.Equal(t, "globex-international", tenant.Subdomain)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := svc.Register(ctx, domain.RegisterRequest{Name: " ", Email: "a@b.test"})
		assert.ErrorIs(t, err, domain.ErrInvalidName)

		_, err = svc.Register(ctx, domain.RegisterRequest{Name: "X", Email: "not-an-email"})
		assert.ErrorIs(t, err, domain.ErrInvalidEmail)
	})
}

func TestApproveAndReject(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, date(2024, time.May, 1))

	pending, err := svc.Register(ctx, domain.RegisterRequest{Name: "Acme", Email: "a@acme.test"})
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, pending.ID, "operator-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status)
	assert.Equal(t, "operator-1", approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	// Only pending tenants can be approved or rejected.
	_, err = svc.Approve(ctx, pending.ID, "operator-1")
	assert.ErrorIs(t, err, domain.ErrNotPending)
	_, err = svc.Reject(ctx, pending.ID, "too late")
	assert.ErrorIs(t, err, domain.ErrNotPending)

	other, err := svc.Register(ctx, domain.RegisterRequest{Name: "Globex", Email: "g@globex.test"})
	require.NoError(t, err)
	rejected, err := svc.Reject(ctx, other.ID, "incomplete details")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, rejected.Status)
	assert.Equal(t, "incomplete details", rejected.Metadata[domain.MetaRejectionReason])
}

func TestSuspend(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, date(2024, time.May, 1))

	tenant, err := svc.Register(ctx, domain.RegisterRequest{Name: "Acme", Email: "a@acme.test"})
	require.NoError(t, err)

	_, err = svc.Suspend(ctx, tenant.ID)
	assert.ErrorIs(t, err, domain.ErrNotSuspendable)

	_, err = svc.Approve(ctx, tenant.ID, "operator-1")
	require.NoError(t, err)

	suspended, err := svc.Suspend(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuspended, suspended.Status)

	_, err = svc.Suspend(ctx, tenant.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadySuspended)
}

func TestActivate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, date(2024, time.May, 1))
	svc.subscriptions = stubChecker{live: true}

	tenant, err := svc.Register(ctx, domain.RegisterRequest{Name: "Acme", Email: "a@acme.test"})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, tenant.ID, "operator-1")
	require.NoError(t, err)

	t.Run("requires a provisioned database", func(t *testing.T) {
		_, err := svc.Activate(ctx, tenant.ID)
		assert.ErrorIs(t, err, domain.ErrNotProvisioned)
	})

	require.NoError(t, svc.db.Model(&domain.Tenant{}).
		Where("id = ?", tenant.ID).
		Update("database_provisioning_status", domain.ProvisioningProvisioned).Error)

	t.Run("requires a live subscription", func(t *testing.T) {
		svc.subscriptions = stubChecker{live: false}
		_, err := svc.Activate(ctx, tenant.ID)
		assert.ErrorIs(t, err, domain.ErrNoLiveSubscription)
	})

	t.Run("activates when eligible", func(t *testing.T) {
		svc.subscriptions = stubChecker{live: true}
		activated, err := svc.Activate(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusActive, activated.Status)
	})

	t.Run("checker runs inside the activation transaction", func(t *testing.T) {
		svc.subscriptions = queryingChecker{}
		activated, err := svc.Activate(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusActive, activated.Status)
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, date(2024, time.May, 1))

	tenant, err := svc.Register(ctx, domain.RegisterRequest{Name: "Acme", Email: "a@acme.test"})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, tenant.ID, "gone out of business")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, "gone out of business", cancelled.Metadata["cancellation_reason"])

	_, err = svc.Cancel(ctx, tenant.ID, "again")
	assert.ErrorIs(t, err, domain.ErrTenantCancelled)

	// The subdomain stays reserved after cancellation.
	replacement, err := svc.Register(ctx, domain.RegisterRequest{
		Name:      "Acme",
		Email:     "new@acme.test",
		Subdomain: "acme",
	})
	require.NoError(t, err)
	assert.Equal(t, "acme-1", replacement.Subdomain)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, date(2024, time.May, 1))

	tenant, err := svc.Register(ctx, domain.RegisterRequest{Name: "Acme", Email: "a@acme.test"})
	require.NoError(t, err)
	other, err := svc.Register(ctx, domain.RegisterRequest{Name: "Globex", Email: "g@globex.test"})
	require.NoError(t, err)

	newName := "Acme Holdings"
	newDomain := "App.Acme.Test"
	updated, err := svc.Update(ctx, tenant.ID, domain.UpdateRequest{
		Name:         &newName,
		CustomDomain: &newDomain,
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme Holdings", updated.Name)
	assert.Equal(t, "app.acme.test", updated.CustomDomain)

	taken := other.Email
	_, err = svc.Update(ctx, tenant.ID, domain.UpdateRequest{Email: &taken})
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, date(2024, time.May, 1))

	a, err := svc.Register(ctx, domain.RegisterRequest{Name: "A", Email: "a@a.test"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, domain.RegisterRequest{Name: "B", Email: "b@b.test"})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, a.ID, "op")
	require.NoError(t, err)

	stats, err := svc.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[domain.StatusPending])
	assert.Equal(t, int64(1), stats[domain.StatusApproved])
}
