// Package cli provides formatting and rendering utilities for terminal output.
package cli

import (
	"fmt"
	"strings"
	"time"
)

// FormatCost formats a USD amount with two decimals.
func FormatCost(cost float64) string {
	if cost < 0 {
		return fmt.Sprintf("-$%.2f", -cost)
	}
	return fmt.Sprintf("$%.2f", cost)
}

// FormatDelta formats a balance change with an explicit sign.
func FormatDelta(delta float64) string {
	if delta >= 0 {
		return "+" + FormatCost(delta)
	}
	return "-" + FormatCost(-delta)
}

// FormatInterval formats a poll interval compactly.
// e.g., 10s -> "10s", 5m -> "5m", 90s -> "1m30s", 2h -> "2h"
func FormatInterval(d time.Duration) string {
	if d <= 0 {
		return "off"
	}
	d = d.Round(time.Second)

	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second

	var b strings.Builder
	if h > 0 {
		fmt.Fprintf(&b, "%dh", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dm", m)
	}
	if s > 0 || b.Len() == 0 {
		fmt.Fprintf(&b, "%ds", s)
	}
	return b.String()
}

// FormatAgo describes how long ago t was, relative to now.
// e.g., "just now", "42s ago", "3m ago", "2h ago"
func FormatAgo(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < 5*time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}

// MaskSecret hides all but the prefix and the last four characters.
// e.g., "cr_abcdef123456" -> "cr_••••••••3456"
func MaskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	prefix := ""
	if strings.HasPrefix(s, "cr_") {
		prefix, s = "cr_", s[3:]
	}
	if len(s) <= 4 {
		return prefix + strings.Repeat("•", len(s))
	}
	return prefix + strings.Repeat("•", len(s)-4) + s[len(s)-4:]
}
