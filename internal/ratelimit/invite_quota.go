package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyInviteQuota = "invite:quota:%s:%s"

// quotaTTL keeps a day key alive past midnight so late readers still see it.
const quotaTTL = 48 * time.Hour

const inviteQuotaScript = `
local limit = tonumber(ARGV[1])
local n = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current + n > limit then
  return {0, limit - current}
end

local count = redis.call("INCRBY", KEYS[1], n)
if count == n then
  redis.call("EXPIRE", KEYS[1], ttl)
end
return {1, limit - count}
`

// QuotaResult reports the outcome of a quota reservation.
type QuotaResult struct {
	Allowed   bool
	Remaining int64
}

// InviteQuota enforces a per-organization daily cap on issued invitations.
// The window is the UTC calendar day; keys carry the day so no reset job is
// needed.
type InviteQuota struct {
	client *redis.Client
	script *redis.Script
	limit  int64
}

func NewInviteQuota(client *redis.Client, limit int64) *InviteQuota {
	if client == nil || limit <= 0 {
		return nil
	}
	return &InviteQuota{
		client: client,
		script: redis.NewScript(inviteQuotaScript),
		limit:  limit,
	}
}

// Reserve atomically takes n slots from today's quota for orgID. Either all
// n are granted or none are.
func (q *InviteQuota) Reserve(ctx context.Context, orgID string, n int64) (*QuotaResult, error) {
	if q == nil || q.client == nil {
		return &QuotaResult{Allowed: true, Remaining: -1}, nil
	}
	if strings.TrimSpace(orgID) == "" {
		return nil, errors.New("quota org id is empty")
	}
	if n <= 0 {
		return nil, errors.New("quota reservation must be positive")
	}

	key := fmt.Sprintf(keyInviteQuota, strings.TrimSpace(orgID), time.Now().UTC().Format("20060102"))
	res, err := q.script.Run(
		ctx,
		q.client,
		[]string{key},
		q.limit,
		n,
		int64(quotaTTL/time.Second),
	).Slice()
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, errors.New("invalid quota script response")
	}

	remaining := castToInt(res[1])
	if remaining < 0 {
		remaining = 0
	}

	return &QuotaResult{
		Allowed:   castToInt(res[0]) == 1,
		Remaining: remaining,
	}, nil
}

// Limit returns the configured daily cap.
func (q *InviteQuota) Limit() int64 {
	if q == nil {
		return 0
	}
	return q.limit
}
