// Package pipeline turns raw balance responses into display-ready stats.
package pipeline

import (
	"math"
	"time"

	"github.com/theirongolddev/ycstats/internal/balance"
	"github.com/theirongolddev/ycstats/internal/model"
)

// DeriveStats converts raw into Stats stamped with the current time.
// dailyLimit must be > 0; callers validate it.
func DeriveStats(raw balance.RawBalance, dailyLimit float64) model.Stats {
	return DeriveStatsAt(raw, dailyLimit, time.Now())
}

// DeriveStatsAt is DeriveStats with an explicit clock.
func DeriveStatsAt(raw balance.RawBalance, dailyLimit float64, now time.Time) model.Stats {
	used := dailyLimit - raw.SubscriptionBalance

	return model.Stats{
		TotalBalance:                raw.TotalBalance,
		SubscriptionBalance:         raw.SubscriptionBalance,
		PayAsYouGoBalance:           raw.PayAsYouGoBalance,
		SubscriptionUsagePercentage: clampPercent(used / dailyLimit * 100),
		LastUpdated:                 now,
	}
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
