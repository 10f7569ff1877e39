package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/opencorehq/tenantcore/internal/clock"
	"github.com/opencorehq/tenantcore/internal/config"
	"github.com/opencorehq/tenantcore/internal/providers/email"
	tenantdomain "github.com/opencorehq/tenantcore/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  tenantdomain.Repository

	subscriptions tenantdomain.SubscriptionChecker
	mailer        email.Provider
	baseDomain    string
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  tenantdomain.Repository

	Subscriptions tenantdomain.SubscriptionChecker `optional:"true"`
	Mailer        email.Provider                   `optional:"true"`
}

func NewService(p ServiceParam) tenantdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("tenant.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,

		subscriptions: p.Subscriptions,
		mailer:        p.Mailer,
		baseDomain:    p.Cfg.BaseDomain,
	}
}

// Register implements domain.Service. The tenant starts pending with a
// pending database; approval and provisioning are separate steps.
func (s *Service) Register(ctx context.Context, req tenantdomain.RegisterRequest) (tenantdomain.Tenant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return tenantdomain.Tenant{}, tenantdomain.ErrInvalidName
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return tenantdomain.Tenant{}, tenantdomain.ErrInvalidEmail
	}

	existing, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return tenantdomain.Tenant{}, err
	}
	if existing != nil {
		return tenantdomain.Tenant{}, tenantdomain.ErrEmailTaken
	}

	subdomain, err := s.uniqueSubdomain(ctx, req.Subdomain, name)
	if err != nil {
		return tenantdomain.Tenant{}, err
	}

	metadata := datatypes.JSONMap{}
	if planID := strings.TrimSpace(req.PlanID); planID != "" {
		metadata[tenantdomain.MetaRequestedPlanID] = planID
	}

	now := s.clock.Now()
	tenant := tenantdomain.Tenant{
		ID:                         s.genID.Generate(),
		UUID:                       uuid.New(),
		Name:                       name,
		Email:                      email,
		Phone:                      strings.TrimSpace(req.Phone),
		Subdomain:                  subdomain,
		Status:                     tenantdomain.StatusPending,
		DatabaseProvisioningStatus: tenantdomain.ProvisioningPending,
		Metadata:                   metadata,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}

	if err := s.repo.Insert(ctx, s.db, &tenant); err != nil {
		return tenantdomain.Tenant{}, err
	}

	s.log.Info("tenant registered",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("subdomain", tenant.Subdomain),
	)
	return tenant, nil
}

// Approve implements domain.Service.
func (s *Service) Approve(ctx context.Context, id snowflake.ID, approvedBy string) (tenantdomain.Tenant, error) {
	var approved tenantdomain.Tenant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}
		if tenant.Status != tenantdomain.StatusPending {
			return tenantdomain.ErrNotPending
		}

		now := s.clock.Now()
		tenant.Status = tenantdomain.StatusApproved
		tenant.ApprovedAt = &now
		tenant.ApprovedBy = strings.TrimSpace(approvedBy)
		tenant.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, tenant); err != nil {
			return err
		}
		approved = *tenant
		return nil
	})
	if err != nil {
		return tenantdomain.Tenant{}, err
	}

	s.log.Info("tenant approved",
		zap.String("tenant_id", approved.ID.String()),
		zap.String("approved_by", approved.ApprovedBy),
	)
	s.notifyApproved(ctx, approved)
	return approved, nil
}

// notifyApproved emails the owner once the registration clears review.
// Delivery failures are logged, never surfaced.
func (s *Service) notifyApproved(ctx context.Context, tenant tenantdomain.Tenant) {
	if s.mailer == nil || tenant.Email == "" {
		return
	}
	body := fmt.Sprintf(
		"Hi %s,\n\nYour workspace registration has been approved. "+
			"Your workspace will be available at https://%s.%s once provisioning completes.\n",
		tenant.Name, tenant.Subdomain, s.baseDomain,
	)
	msg := email.Message{
		To:      []string{tenant.Email},
		Subject: "Your workspace has been approved",
		Body:    body,
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.log.Warn("approval email failed",
			zap.String("tenant_id", tenant.ID.String()),
			zap.Error(err),
		)
	}
}

// Reject implements domain.Service. A rejected registration is recorded
// as cancelled; the row is never deleted.
func (s *Service) Reject(ctx context.Context, id snowflake.ID, reason string) (tenantdomain.Tenant, error) {
	var rejected tenantdomain.Tenant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}
		if tenant.Status != tenantdomain.StatusPending {
			return tenantdomain.ErrNotPending
		}

		if tenant.Metadata == nil {
			tenant.Metadata = datatypes.JSONMap{}
		}
		tenant.Metadata[tenantdomain.MetaRejectionReason] = strings.TrimSpace(reason)
		tenant.Status = tenantdomain.StatusCancelled
		tenant.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, tenant); err != nil {
			return err
		}
		rejected = *tenant
		return nil
	})
	if err != nil {
		return tenantdomain.Tenant{}, err
	}
	return rejected, nil
}

// Suspend implements domain.Service. Suspending an already suspended
// tenant is a conflict, not a silent no-op.
func (s *Service) Suspend(ctx context.Context, id snowflake.ID) (tenantdomain.Tenant, error) {
	var suspended tenantdomain.Tenant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}
		switch tenant.Status {
		case tenantdomain.StatusApproved, tenantdomain.StatusActive:
		case tenantdomain.StatusSuspended:
			return tenantdomain.ErrAlreadySuspended
		default:
			return tenantdomain.ErrNotSuspendable
		}

		tenant.Status = tenantdomain.StatusSuspended
		tenant.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, tenant); err != nil {
			return err
		}
		suspended = *tenant
		return nil
	})
	if err != nil {
		return tenantdomain.Tenant{}, err
	}

	s.log.Info("tenant suspended", zap.String("tenant_id", suspended.ID.String()))
	return suspended, nil
}

// Activate implements domain.Service. Activation requires a provisioned
// database and a live subscription; anything else is a state conflict.
func (s *Service) Activate(ctx context.Context, id snowflake.ID) (tenantdomain.Tenant, error) {
	var activated tenantdomain.Tenant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}
		if tenant.Status == tenantdomain.StatusCancelled {
			return tenantdomain.ErrTenantCancelled
		}
		if !tenant.IsProvisioned() {
			return tenantdomain.ErrNotProvisioned
		}

		if s.subscriptions != nil {
			live, err := s.subscriptions.HasLiveSubscription(ctx, tx, tenant.ID)
			if err != nil {
				return err
			}
			if !live {
				return tenantdomain.ErrNoLiveSubscription
			}
		}

		tenant.Status = tenantdomain.StatusActive
		tenant.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, tenant); err != nil {
			return err
		}
		activated = *tenant
		return nil
	})
	if err != nil {
		return tenantdomain.Tenant{}, err
	}

	s.log.Info("tenant activated", zap.String("tenant_id", activated.ID.String()))
	return activated, nil
}

// Cancel implements domain.Service.
func (s *Service) Cancel(ctx context.Context, id snowflake.ID, reason string) (tenantdomain.Tenant, error) {
	var cancelled tenantdomain.Tenant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}
		if tenant.Status == tenantdomain.StatusCancelled {
			return tenantdomain.ErrTenantCancelled
		}

		if reason = strings.TrimSpace(reason); reason != "" {
			if tenant.Metadata == nil {
				tenant.Metadata = datatypes.JSONMap{}
			}
			tenant.Metadata["cancellation_reason"] = reason
		}
		tenant.Status = tenantdomain.StatusCancelled
		tenant.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, tenant); err != nil {
			return err
		}
		cancelled = *tenant
		return nil
	})
	if err != nil {
		return tenantdomain.Tenant{}, err
	}
	return cancelled, nil
}

// Update implements domain.Service.
func (s *Service) Update(ctx context.Context, id snowflake.ID, req tenantdomain.UpdateRequest) (tenantdomain.Tenant, error) {
	var updated tenantdomain.Tenant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return tenantdomain.ErrInvalidName
			}
			tenant.Name = name
		}
		if req.Email != nil {
			email := strings.ToLower(strings.TrimSpace(*req.Email))
			if _, err := mail.ParseAddress(email); err != nil {
				return tenantdomain.ErrInvalidEmail
			}
			if email != tenant.Email {
				other, err := s.repo.FindByEmail(ctx, tx, email)
				if err != nil {
					return err
				}
				if other != nil && other.ID != tenant.ID {
					return tenantdomain.ErrEmailTaken
				}
				tenant.Email = email
			}
		}
		if req.Phone != nil {
			tenant.Phone = strings.TrimSpace(*req.Phone)
		}
		if req.CustomDomain != nil {
			tenant.CustomDomain = strings.ToLower(strings.TrimSpace(*req.CustomDomain))
		}
		if req.Notes != nil {
			tenant.Notes = *req.Notes
		}

		tenant.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, tenant); err != nil {
			return err
		}
		updated = *tenant
		return nil
	})
	if err != nil {
		return tenantdomain.Tenant{}, err
	}
	return updated, nil
}

// Get implements domain.Service.
func (s *Service) Get(ctx context.Context, id snowflake.ID) (tenantdomain.Tenant, error) {
	tenant, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return tenantdomain.Tenant{}, err
	}
	if tenant == nil {
		return tenantdomain.Tenant{}, tenantdomain.ErrTenantNotFound
	}
	return *tenant, nil
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, filter tenantdomain.ListFilter) ([]tenantdomain.Tenant, error) {
	return s.repo.List(ctx, s.db, filter)
}

// Statistics implements domain.Service.
func (s *Service) Statistics(ctx context.Context) (map[tenantdomain.Status]int64, error) {
	return s.repo.CountByStatus(ctx, s.db)
}

// uniqueSubdomain slugs the requested subdomain (or the tenant name)
// and appends -1, -2, ... until the result is free. Soft-deleted rows
// still reserve their subdomain.
func (s *Service) uniqueSubdomain(ctx context.Context, requested, name string) (string, error) {
	base := slug.Make(strings.TrimSpace(requested))
	if base == "" {
		base = slug.Make(name)
	}
	if base == "" {
		return "", tenantdomain.ErrInvalidSubdomain
	}

	taken, err := s.repo.SubdomainsWithPrefix(ctx, s.db, base)
	if err != nil {
		return "", err
	}
	if len(taken) == 0 {
		return base, nil
	}

	used := make(map[string]struct{}, len(taken))
	for _, sub := range taken {
		used[sub] = struct{}{}
	}
	if _, ok := used[base]; !ok {
		return base, nil
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if _, ok := used[candidate]; !ok {
			return candidate, nil
		}
	}
}
