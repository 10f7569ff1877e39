package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/opencorehq/tenantcore/internal/config"
)

const (
	keyRegister      = "public:register:%s"
	keyPaymentSubmit = "public:payment:%s"
	keyProvisionLock = "provision:lock:%s"

	provisionLockTTL = 10 * time.Minute

	registerRate  = 0.2
	registerBurst = 5
	paymentRate   = 0.5
	paymentBurst  = 10
)

// PublicLimiter throttles the unauthenticated endpoints per client
// address and serializes provisioning runs across processes. With no
// redis configured every check passes, single-node installs do not
// need the dependency.
type PublicLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker
}

func NewPublicLimiter(cfg config.Config) *PublicLimiter {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return &PublicLimiter{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
	})
	return &PublicLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
	}
}

func (l *PublicLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *PublicLimiter) AllowRegistration(ctx context.Context, clientIP string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyRegister, strings.TrimSpace(clientIP)), registerRate, registerBurst)
}

func (l *PublicLimiter) AllowPaymentSubmit(ctx context.Context, clientIP string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyPaymentSubmit, strings.TrimSpace(clientIP)), paymentRate, paymentBurst)
}

// TryProvisionLock guards one provisioning run per tenant across
// replicas. The returned token is an opaque release handle.
func (l *PublicLimiter) TryProvisionLock(ctx context.Context, tenantID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, fmt.Sprintf(keyProvisionLock, tenantID), provisionLockTTL)
}

func (l *PublicLimiter) ReleaseProvisionLock(ctx context.Context, tenantID, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, fmt.Sprintf(keyProvisionLock, tenantID), token)
}
