package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/atrium/internal/config"
)

const (
	keyInviteAccept = "invite:accept:ip:%s"
	keySweepLock    = "invite:sweep:lock"

	acceptPerIPRate  = 0.5
	acceptPerIPBurst = 10
)

// Limiter bundles the Redis-backed guards around the invitation lifecycle:
// the per-org daily issue quota, a per-IP bucket on the public accept
// endpoint, and the sweep lock that keeps replicas from expiring the same
// rows twice.
type Limiter struct {
	enabled bool

	quota  *InviteQuota
	bucket *TokenBucket
	locker *Locker
}

func NewLimiter(cfg config.Config) (*Limiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled() {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return newLimiter(client, limitCfg.InviteDailyLimit), nil
}

func newLimiter(client *redis.Client, inviteDailyLimit int64) *Limiter {
	return &Limiter{
		enabled: true,
		quota:   NewInviteQuota(client, inviteDailyLimit),
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.enabled
}

// ReserveInvites reserves n slots from the org's daily invitation quota.
// All-or-nothing: a bulk request over the remaining quota is denied whole.
func (l *Limiter) ReserveInvites(ctx context.Context, orgID string, n int64) (*QuotaResult, error) {
	if !l.Enabled() {
		return &QuotaResult{Allowed: true, Remaining: -1}, nil
	}
	return l.quota.Reserve(ctx, orgID, n)
}

// AllowAccept rate limits the public invitation accept endpoint per client IP.
func (l *Limiter) AllowAccept(ctx context.Context, ip string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyInviteAccept, strings.TrimSpace(ip)), acceptPerIPRate, acceptPerIPBurst)
}

// TrySweepLock takes the cluster-wide expiry sweep lock.
func (l *Limiter) TrySweepLock(ctx context.Context, ttl time.Duration) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, keySweepLock, ttl)
}

// ReleaseSweepLock releases the sweep lock if token still owns it.
func (l *Limiter) ReleaseSweepLock(ctx context.Context, token string) error {
	if !l.Enabled() || token == "" {
		return nil
	}
	return l.locker.Release(ctx, keySweepLock, token)
}
