package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opencorehq/tenantcore/internal/clock"
	obsmetrics "github.com/opencorehq/tenantcore/internal/observability/metrics"
	paymentdomain "github.com/opencorehq/tenantcore/internal/payment/domain"
	plandomain "github.com/opencorehq/tenantcore/internal/plan/domain"
	"github.com/opencorehq/tenantcore/internal/providers/email"
	"github.com/opencorehq/tenantcore/internal/providers/pdf"
	settingsdomain "github.com/opencorehq/tenantcore/internal/settings/domain"
	subscriptiondomain "github.com/opencorehq/tenantcore/internal/subscription/domain"
	tenantdomain "github.com/opencorehq/tenantcore/internal/tenant/domain"
	"gorm.io/datatypes"
)

const defaultCurrency = "USD"

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  paymentdomain.Repository

	tenants       tenantdomain.Service
	subscriptions subscriptiondomain.Service
	plans         plandomain.Service
	settings      settingsdomain.Service
	documents     pdf.Provider
	mailer        email.Provider
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  paymentdomain.Repository

	Tenants       tenantdomain.Service
	Subscriptions subscriptiondomain.Service
	Plans         plandomain.Service
	Settings      settingsdomain.Service
	Documents     pdf.Provider   `optional:"true"`
	Mailer        email.Provider `optional:"true"`
}

func NewService(p ServiceParam) paymentdomain.Service {
	documents := p.Documents
	if documents == nil {
		documents = &pdf.NoOpProvider{}
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("payment.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,

		tenants:       p.Tenants,
		subscriptions: p.Subscriptions,
		plans:         p.Plans,
		settings:      p.Settings,
		documents:     documents,
		mailer:        p.Mailer,
	}
}

// Submit records a tenant payment in the pending state. The purpose is
// derived from the tenant's current subscription so the approval step
// knows which transition to apply.
func (s *Service) Submit(ctx context.Context, req paymentdomain.SubmitRequest) (*paymentdomain.Payment, error) {
	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	switch req.Method {
	case paymentdomain.MethodBankTransfer, paymentdomain.MethodGateway:
	default:
		return nil, paymentdomain.ErrInvalidMethod
	}
	if req.Method == paymentdomain.MethodBankTransfer && strings.TrimSpace(req.ProofDocumentPath) == "" {
		return nil, paymentdomain.ErrMissingProof
	}

	tenant, err := s.tenants.Get(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	purpose := paymentdomain.PurposeSubscription
	var subscriptionID *snowflake.ID
	current, err := s.subscriptions.GetCurrentByTenant(ctx, tenant.ID)
	switch {
	case err == nil:
		subscriptionID = &current.ID
		if req.NewPlanID != nil {
			purpose = paymentdomain.PurposeUpgrade
		} else if current.Status != subscriptiondomain.StatusTrial {
			purpose = paymentdomain.PurposeRenewal
		}
	case err == subscriptiondomain.ErrSubscriptionNotFound:
		// first payment, no subscription yet
	default:
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	now := s.clock.Now()
	payment := &paymentdomain.Payment{
		ID:                s.genID.Generate(),
		TenantID:          tenant.ID,
		SubscriptionID:    subscriptionID,
		NewPlanID:         req.NewPlanID,
		Purpose:           purpose,
		Amount:            req.Amount,
		Currency:          currency,
		Method:            req.Method,
		Gateway:           req.Gateway,
		GatewayRef:        req.GatewayRef,
		ProofDocumentPath: req.ProofDocumentPath,
		Status:            paymentdomain.StatusPending,
		Metadata:          datatypes.JSONMap{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Insert(ctx, s.db, payment); err != nil {
		return nil, err
	}

	s.log.Info("payment submitted",
		zap.Int64("payment_id", int64(payment.ID)),
		zap.Int64("tenant_id", int64(tenant.ID)),
		zap.String("purpose", string(purpose)),
		zap.Int64("amount", payment.Amount),
	)
	return payment, nil
}

// Approve marks the payment approved, assigns its invoice number and
// applies the subscription transition the payment paid for. A payment
// that already reached a terminal state is never touched again.
func (s *Service) Approve(ctx context.Context, id snowflake.ID, approvedBy string) (*paymentdomain.Payment, error) {
	var payment *paymentdomain.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if found == nil {
			return paymentdomain.ErrPaymentNotFound
		}
		if found.IsDecided() {
			return paymentdomain.ErrPaymentNotPending
		}

		now := s.clock.Now()
		invoice, err := s.repo.NextInvoiceNumber(ctx, tx, now)
		if err != nil {
			return err
		}

		found.Status = paymentdomain.StatusApproved
		found.ApprovedBy = approvedBy
		found.ApprovedAt = &now
		found.InvoiceNumber = &invoice
		found.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, found); err != nil {
			return err
		}
		payment = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	obsmetrics.Sweep().IncTransition("payment", string(paymentdomain.StatusPending), string(paymentdomain.StatusApproved))

	if err := s.applyApproval(ctx, payment); err != nil {
		s.log.Error("payment approved but subscription transition failed",
			zap.Int64("payment_id", int64(payment.ID)),
			zap.String("purpose", string(payment.Purpose)),
			zap.Error(err),
		)
		return payment, err
	}

	s.activateTenant(ctx, payment.TenantID)

	s.log.Info("payment approved",
		zap.Int64("payment_id", int64(payment.ID)),
		zap.Stringp("invoice_number", payment.InvoiceNumber),
		zap.String("approved_by", approvedBy),
	)
	s.notifyDecision(ctx, payment)
	return payment, nil
}

// notifyDecision emails the tenant owner about an approval or
// rejection. Delivery failures are logged, never surfaced.
func (s *Service) notifyDecision(ctx context.Context, payment *paymentdomain.Payment) {
	if s.mailer == nil {
		return
	}
	tenant, err := s.tenants.Get(ctx, payment.TenantID)
	if err != nil || tenant.Email == "" {
		return
	}

	var msg email.Message
	switch payment.Status {
	case paymentdomain.StatusApproved:
		invoice := ""
		if payment.InvoiceNumber != nil {
			invoice = *payment.InvoiceNumber
		}
		msg = email.Message{
			To:      []string{tenant.Email},
			Subject: "Payment approved",
			Body: fmt.Sprintf("Your payment of %d %s has been approved. Invoice: %s\n",
				payment.Amount, payment.Currency, invoice),
		}
	case paymentdomain.StatusRejected:
		msg = email.Message{
			To:      []string{tenant.Email},
			Subject: "Payment rejected",
			Body: fmt.Sprintf("Your payment of %d %s was rejected. Reason: %s\n",
				payment.Amount, payment.Currency, payment.RejectionReason),
		}
	default:
		return
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		s.log.Warn("payment decision email failed",
			zap.Int64("payment_id", int64(payment.ID)),
			zap.Error(err),
		)
	}
}

// applyApproval performs the subscription transition the payment funds.
// The decision record is already committed, so a retry of Approve hits
// ErrPaymentNotPending and the transition never runs twice.
func (s *Service) applyApproval(ctx context.Context, payment *paymentdomain.Payment) error {
	if payment.SubscriptionID == nil {
		return nil
	}
	switch payment.Purpose {
	case paymentdomain.PurposeRenewal:
		_, err := s.subscriptions.Renew(ctx, *payment.SubscriptionID)
		return err
	case paymentdomain.PurposeUpgrade:
		if payment.NewPlanID == nil {
			return paymentdomain.ErrInvalidPayment
		}
		_, err := s.subscriptions.ChangePlan(ctx, *payment.SubscriptionID, *payment.NewPlanID)
		return err
	case paymentdomain.PurposeSubscription:
		current, err := s.subscriptions.Get(ctx, *payment.SubscriptionID)
		if err != nil {
			return err
		}
		if current.Status == subscriptiondomain.StatusTrial {
			_, err = s.subscriptions.ActivateFromTrial(ctx, current.ID)
			return err
		}
		_, err = s.subscriptions.Renew(ctx, current.ID)
		return err
	}
	return nil
}

// activateTenant moves an approved or suspended tenant back to active
// once it has both a provisioned database and a live subscription.
// Best effort, a tenant still mid-provisioning activates later.
func (s *Service) activateTenant(ctx context.Context, tenantID snowflake.ID) {
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		s.log.Warn("tenant lookup after approval failed", zap.Int64("tenant_id", int64(tenantID)), zap.Error(err))
		return
	}
	if tenant.Status != tenantdomain.StatusApproved && tenant.Status != tenantdomain.StatusSuspended {
		return
	}
	if _, err := s.tenants.Activate(ctx, tenantID); err != nil {
		if err == tenantdomain.ErrNotProvisioned {
			return
		}
		s.log.Warn("tenant activation after approval failed", zap.Int64("tenant_id", int64(tenantID)), zap.Error(err))
	}
}

// Reject marks the payment rejected. The subscription and tenant are
// left untouched.
func (s *Service) Reject(ctx context.Context, id snowflake.ID, rejectedBy, reason string) (*paymentdomain.Payment, error) {
	var payment *paymentdomain.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if found == nil {
			return paymentdomain.ErrPaymentNotFound
		}
		if found.IsDecided() {
			return paymentdomain.ErrPaymentNotPending
		}

		now := s.clock.Now()
		found.Status = paymentdomain.StatusRejected
		found.RejectionReason = reason
		found.UpdatedAt = now
		if found.Metadata == nil {
			found.Metadata = datatypes.JSONMap{}
		}
		found.Metadata["rejected_by"] = rejectedBy
		if err := s.repo.Update(ctx, tx, found); err != nil {
			return err
		}
		payment = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	obsmetrics.Sweep().IncTransition("payment", string(paymentdomain.StatusPending), string(paymentdomain.StatusRejected))
	s.log.Info("payment rejected",
		zap.Int64("payment_id", int64(payment.ID)),
		zap.String("rejected_by", rejectedBy),
		zap.String("reason", reason),
	)
	s.notifyDecision(ctx, payment)
	return payment, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*paymentdomain.Payment, error) {
	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) List(ctx context.Context, filter paymentdomain.ListFilter) ([]paymentdomain.Payment, int64, error) {
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) Statistics(ctx context.Context) (paymentdomain.Statistics, error) {
	return s.repo.Statistics(ctx, s.db, s.clock.Now())
}

// Receipt renders a PDF receipt for an approved payment.
func (s *Service) Receipt(ctx context.Context, id snowflake.ID) (io.Reader, error) {
	payment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != paymentdomain.StatusApproved {
		return nil, paymentdomain.ErrPaymentNotApproved
	}

	tenant, err := s.tenants.Get(ctx, payment.TenantID)
	if err != nil {
		return nil, err
	}

	var planName, servicePeriod string
	if payment.SubscriptionID != nil {
		subscription, err := s.subscriptions.Get(ctx, *payment.SubscriptionID)
		if err == nil {
			servicePeriod = fmt.Sprintf("%s to %s",
				subscription.StartsAt.Format("2006-01-02"),
				subscription.EndsAt.Format("2006-01-02"),
			)
			if plan, err := s.plans.Get(ctx, subscription.PlanID); err == nil {
				planName = plan.Name
			}
		}
	}

	datePaid := ""
	if payment.ApprovedAt != nil {
		datePaid = payment.ApprovedAt.Format("2006-01-02")
	}
	invoice := ""
	if payment.InvoiceNumber != nil {
		invoice = *payment.InvoiceNumber
	}

	return s.documents.GenerateReceipt(ctx, pdf.ReceiptData{
		OperatorName:  s.settings.GetString(ctx, settingsdomain.KeyOperatorName, "TenantCore"),
		OperatorEmail: s.settings.GetString(ctx, settingsdomain.KeyOperatorEmail, ""),

		InvoiceNumber: invoice,
		DatePaid:      datePaid,
		ServicePeriod: servicePeriod,
		Purpose:       string(payment.Purpose),
		Method:        string(payment.Method),

		TenantName:  tenant.Name,
		TenantEmail: tenant.Email,
		Subdomain:   tenant.Subdomain,

		PlanName: planName,
		Amount:   fmt.Sprintf("%.2f", float64(payment.Amount)/100),
		Currency: payment.Currency,
	})
}
