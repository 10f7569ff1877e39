package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	auditdomain "github.com/opencorehq/tenantcore/internal/audit/domain"
	"github.com/opencorehq/tenantcore/internal/audit/repository"
	"github.com/opencorehq/tenantcore/internal/clock"
	"github.com/opencorehq/tenantcore/pkg/telemetry/correlation"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Exec(`
		CREATE TABLE audit_logs (
			id INTEGER PRIMARY KEY,
			tenant_id INTEGER,
			actor_type TEXT NOT NULL,
			actor_id TEXT,
			action TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT,
			metadata TEXT,
			ip_address TEXT,
			user_agent TEXT,
			created_at DATETIME NOT NULL
		)`).Error)

	return db
}

func newService(t *testing.T) (*Service, *clock.FakeClock) {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC))
	svc := &Service{
		db:    openTestDB(t),
		log:   zaptest.NewLogger(t),
		genID: node,
		clock: fake,
		repo:  repository.Provide(),
	}
	return svc, fake
}

func TestRecord(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	t.Run("writes entry with masked credentials", func(t *testing.T) {
		tenantID := snowflake.ID(42)
		err := svc.Record(ctx, auditdomain.Entry{
			TenantID:   &tenantID,
			ActorType:  auditdomain.ActorTypeOperator,
			ActorID:    "operator:alice",
			Action:     "tenant.approve",
			TargetType: "tenant",
			TargetID:   "42",
			Metadata: map[string]any{
				"admin_password": "super-secret-12345",
				"subdomain":      "acme",
			},
			IPAddress: "10.0.0.1",
			UserAgent: "curl/8.0",
		})
		require.NoError(t, err)

		var row auditdomain.AuditLog
		require.NoError(t, svc.db.Where("action = ?", "tenant.approve").First(&row).Error)
		assert.Equal(t, "operator", row.ActorType)
		require.NotNil(t, row.ActorID)
		assert.Equal(t, "operator:alice", *row.ActorID)
		assert.Equal(t, "acme", row.Metadata["subdomain"])
		masked, _ := row.Metadata["admin_password"].(string)
		assert.NotContains(t, masked, "super-secret")
		assert.Contains(t, masked, "****")
	})

	t.Run("carries the request correlation id", func(t *testing.T) {
		reqCtx := correlation.WithID(ctx, "req-abc123")
		require.NoError(t, svc.Record(reqCtx, auditdomain.Entry{
			Action:     "payment.approve",
			TargetType: "payment",
		}))

		var row auditdomain.AuditLog
		require.NoError(t, svc.db.Where("action = ?", "payment.approve").First(&row).Error)
		assert.Equal(t, "req-abc123", row.Metadata["request_id"])
		assert.Equal(t, string(auditdomain.ActorTypeSystem), row.ActorType)
	})

	t.Run("rejects empty action", func(t *testing.T) {
		err := svc.Record(ctx, auditdomain.Entry{Action: "  "})
		assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
	})
}

func TestList(t *testing.T) {
	svc, fake := newService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Record(ctx, auditdomain.Entry{
			ActorType:  auditdomain.ActorTypeOperator,
			Action:     "tenant.approve",
			TargetType: "tenant",
		}))
		fake.Advance(time.Minute)
	}
	require.NoError(t, svc.Record(ctx, auditdomain.Entry{
		ActorType:  auditdomain.ActorTypePublic,
		Action:     "tenant.register",
		TargetType: "tenant",
	}))

	t.Run("filters by action", func(t *testing.T) {
		req := auditdomain.ListRequest{Action: "tenant.register"}
		resp, err := svc.List(ctx, req)
		require.NoError(t, err)
		require.Len(t, resp.AuditLogs, 1)
		assert.Equal(t, "tenant.register", resp.AuditLogs[0].Action)
	})

	t.Run("pages newest first with cursor", func(t *testing.T) {
		req := auditdomain.ListRequest{Action: "tenant.approve"}
		req.PageSize = 3
		first, err := svc.List(ctx, req)
		require.NoError(t, err)
		require.Len(t, first.AuditLogs, 3)
		assert.True(t, first.HasMore)
		assert.True(t, first.AuditLogs[0].CreatedAt.After(first.AuditLogs[2].CreatedAt))

		req.PageToken = first.NextPageToken
		second, err := svc.List(ctx, req)
		require.NoError(t, err)
		require.Len(t, second.AuditLogs, 2)
		assert.False(t, second.HasMore)
		assert.True(t, first.AuditLogs[2].CreatedAt.After(second.AuditLogs[0].CreatedAt))
	})

	t.Run("rejects malformed page token", func(t *testing.T) {
		req := auditdomain.ListRequest{}
		req.PageToken = "not-base64!!"
		_, err := svc.List(ctx, req)
		assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
	})

	t.Run("rejects inverted time range", func(t *testing.T) {
		start := time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC)
		end := start.Add(-time.Hour)
		_, err := svc.List(ctx, auditdomain.ListRequest{StartAt: &start, EndAt: &end})
		assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
	})
}
