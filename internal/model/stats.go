// Package model defines the derived balance figures shared by every surface.
package model

import "time"

// Stats is the derived, display-ready view of one successful balance poll.
// A Stats value is never mutated; each successful poll produces a new one.
type Stats struct {
	TotalBalance                float64   `json:"total_balance" yaml:"total_balance"`
	SubscriptionBalance         float64   `json:"subscription_balance" yaml:"subscription_balance"`
	PayAsYouGoBalance           float64   `json:"pay_as_you_go_balance" yaml:"pay_as_you_go_balance"`
	SubscriptionUsagePercentage float64   `json:"subscription_usage_percentage" yaml:"subscription_usage_percentage"`
	LastUpdated                 time.Time `json:"last_updated" yaml:"last_updated"`
}

// Delta captures balance movement between two consecutive polls.
type Delta struct {
	TotalBalance        float64 `json:"total_balance"`
	SubscriptionBalance float64 `json:"subscription_balance"`
	PayAsYouGoBalance   float64 `json:"pay_as_you_go_balance"`
	UsagePercentage     float64 `json:"usage_percentage"`
}

// IsZero reports whether nothing moved.
func (d Delta) IsZero() bool {
	return d.TotalBalance == 0 &&
		d.SubscriptionBalance == 0 &&
		d.PayAsYouGoBalance == 0 &&
		d.UsagePercentage == 0
}

// Diff returns curr minus prev for every balance figure.
func Diff(prev, curr Stats) Delta {
	return Delta{
		TotalBalance:        curr.TotalBalance - prev.TotalBalance,
		SubscriptionBalance: curr.SubscriptionBalance - prev.SubscriptionBalance,
		PayAsYouGoBalance:   curr.PayAsYouGoBalance - prev.PayAsYouGoBalance,
		UsagePercentage:     curr.SubscriptionUsagePercentage - prev.SubscriptionUsagePercentage,
	}
}
