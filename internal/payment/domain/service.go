package domain

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/opencorehq/tenantcore/pkg/db/pagination"
)

var (
	ErrPaymentNotFound    = errors.New("payment_not_found")
	ErrPaymentNotPending  = errors.New("payment_not_pending")
	ErrPaymentNotApproved = errors.New("payment_not_approved")
	ErrInvalidPayment     = errors.New("invalid_payment")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidMethod      = errors.New("invalid_method")
	ErrMissingProof       = errors.New("missing_proof_document")
)

// ListFilter narrows payment listings.
type ListFilter struct {
	TenantID *snowflake.ID
	Statuses []Status
	Purposes []Purpose
	pagination.Pagination
}

// Statistics summarizes the operator approval queue.
type Statistics struct {
	PendingCount      int64 `json:"pending_count"`
	PendingAmount     int64 `json:"pending_amount"`
	ApprovedToday     int64 `json:"approved_today"`
	ApprovedThisMonth int64 `json:"approved_this_month"`
}

// SubmitRequest carries a tenant-submitted payment.
type SubmitRequest struct {
	TenantID          snowflake.ID
	Amount            int64
	Currency          string
	Method            Method
	Gateway           string
	GatewayRef        string
	ProofDocumentPath string
	NewPlanID         *snowflake.ID
}

// Repository is the payments data access contract.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	Update(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Payment, int64, error)
	HasOpenRenewal(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (bool, error)
	Statistics(ctx context.Context, db *gorm.DB, now time.Time) (Statistics, error)
	NextInvoiceNumber(ctx context.Context, db *gorm.DB, now time.Time) (string, error)
}

// Service drives submission and operator decisions over payments.
// Approve and Reject are terminal, a decided payment never changes
// again.
type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (*Payment, error)
	Approve(ctx context.Context, id snowflake.ID, approvedBy string) (*Payment, error)
	Reject(ctx context.Context, id snowflake.ID, rejectedBy, reason string) (*Payment, error)
	Get(ctx context.Context, id snowflake.ID) (*Payment, error)
	List(ctx context.Context, filter ListFilter) ([]Payment, int64, error)
	Statistics(ctx context.Context) (Statistics, error)
	Receipt(ctx context.Context, id snowflake.ID) (io.Reader, error)
}
