// Package ratelimit meters submissions per client. Limits are advisory:
// callers over their window are delayed, never rejected, so the result
// carries the shaping data (remaining quota, reset, suggested delay) instead
// of a hard verdict.
package ratelimit

import (
	"context"
	"time"
)

type Tier string

const (
	TierDefault    Tier = "default"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Requests allowed per window for each tier.
var tierLimits = map[Tier]int{
	TierDefault:    60,
	TierPremium:    300,
	TierEnterprise: 1000,
}

const window = time.Minute

// Limit returns the per-window allowance for a tier. Unknown tiers get the
// default allowance.
func Limit(tier Tier) int {
	if n, ok := tierLimits[tier]; ok {
		return n
	}
	return tierLimits[TierDefault]
}

// Result describes the client's standing after one taken request.
type Result struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Delay is the suggested wait before the request is worked on. Zero
	// while the client is within its window.
	Delay time.Duration
}

type Limiter interface {
	// Take consumes one request from the client's window and reports the
	// standing. It never refuses; exceeding the window only grows Delay.
	Take(ctx context.Context, clientID string, tier Tier) (*Result, error)
}
