// Package domain contains persistence models for payments.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Purpose explains what a payment buys.
type Purpose string

const (
	PurposeSubscription Purpose = "subscription"
	PurposeRenewal      Purpose = "renewal"
	PurposeUpgrade      Purpose = "upgrade"
)

// Method is how the money arrived.
type Method string

const (
	MethodBankTransfer Method = "bank_transfer"
	MethodGateway      Method = "gateway"
)

// Status represents decision states for a payment. Approved and
// rejected are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Payment records money submitted by a tenant awaiting an operator
// decision.
type Payment struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID          snowflake.ID      `gorm:"not null;index" json:"tenant_id"`
	SubscriptionID    *snowflake.ID     `gorm:"index" json:"subscription_id,omitempty"`
	NewPlanID         *snowflake.ID     `gorm:"" json:"new_plan_id,omitempty"`
	Purpose           Purpose           `gorm:"type:text;not null;default:'subscription'" json:"purpose"`
	Amount            int64             `gorm:"not null" json:"amount"`
	Currency          string            `gorm:"type:text;not null;default:'USD'" json:"currency"`
	Method            Method            `gorm:"type:text;not null;default:'bank_transfer'" json:"method"`
	Gateway           string            `gorm:"type:text;not null;default:''" json:"gateway,omitempty"`
	GatewayRef        string            `gorm:"type:text;not null;default:''" json:"gateway_ref,omitempty"`
	ProofDocumentPath string            `gorm:"type:text;not null;default:''" json:"proof_document_path,omitempty"`
	Status            Status            `gorm:"type:text;not null;default:'pending';index" json:"status"`
	ApprovedBy        string            `gorm:"type:text;not null;default:''" json:"approved_by,omitempty"`
	ApprovedAt        *time.Time        `gorm:"" json:"approved_at,omitempty"`
	RejectionReason   string            `gorm:"type:text;not null;default:''" json:"rejection_reason,omitempty"`
	InvoiceNumber     *string           `gorm:"uniqueIndex" json:"invoice_number,omitempty"`
	Metadata          datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// IsDecided reports whether the payment reached a terminal state.
func (p Payment) IsDecided() bool {
	return p.Status == StatusApproved || p.Status == StatusRejected
}

// InvoiceSequence is a per-year counter feeding invoice numbers.
type InvoiceSequence struct {
	Year    int   `gorm:"primaryKey" json:"year"`
	Counter int64 `gorm:"not null;default:0" json:"counter"`
}

// TableName sets the database table name.
func (InvoiceSequence) TableName() string { return "invoice_sequences" }
