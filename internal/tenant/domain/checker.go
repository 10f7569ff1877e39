package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// SubscriptionChecker reports whether a tenant currently holds a live
// (trial or active) subscription. Implemented by the subscription
// service; kept as an interface here to avoid a package cycle. The db
// handle lets callers run the check inside their own transaction.
type SubscriptionChecker interface {
	HasLiveSubscription(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (bool, error)
}
