// Package panel turns Stats into the rows, status text and tooltip every
// ycstats surface renders. It holds no state; hosts own the last Stats.
package panel

import (
	"fmt"
	"math"
	"strings"

	"github.com/theirongolddev/ycstats/internal/model"
)

// BarWidth is the number of segments in the usage bar.
const BarWidth = 10

// Usage thresholds, in percent. Exceeding one escalates severity.
const (
	WarnAbove  = 80.0
	ErrorAbove = 90.0
)

// Severity is the visual escalation of a row or indicator.
type Severity int

const (
	Normal Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Error:
		return "critical"
	default:
		return "normal"
	}
}

// Row is one labelled line of the stats panel.
type Row struct {
	Label    string
	Value    string
	Icon     string
	Severity Severity
}

// Placeholder is the single row shown before any poll has succeeded.
var Placeholder = Row{Label: "No data yet", Value: "Run setup to configure", Icon: "!", Severity: Warning}

// TimeLayout formats the last-updated time.
const TimeLayout = "15:04:05"

// UsageBar renders pct as ten filled/empty segments.
func UsageBar(pct float64) string {
	filled := int(math.Round(pct / 100 * BarWidth))
	filled = max(0, min(BarWidth, filled))
	return strings.Repeat("█", filled) + strings.Repeat("░", BarWidth-filled)
}

// SeverityFor maps a usage percentage to a severity.
func SeverityFor(pct float64) Severity {
	switch {
	case pct > ErrorAbove:
		return Error
	case pct > WarnAbove:
		return Warning
	default:
		return Normal
	}
}

// Money formats a USD amount.
func Money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

// Percent formats a usage percentage with one decimal.
func Percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

// Rows returns the five panel rows, or the placeholder when s is nil.
func Rows(s *model.Stats) []Row {
	if s == nil {
		return []Row{Placeholder}
	}
	return []Row{
		{Label: "Total balance", Value: Money(s.TotalBalance), Icon: "$"},
		{Label: "Subscription balance", Value: Money(s.SubscriptionBalance), Icon: "◆"},
		{Label: "Pay-as-you-go balance", Value: Money(s.PayAsYouGoBalance), Icon: "◇"},
		{
			Label:    "Subscription usage",
			Value:    Percent(s.SubscriptionUsagePercentage) + " " + UsageBar(s.SubscriptionUsagePercentage),
			Icon:     "▤",
			Severity: SeverityFor(s.SubscriptionUsagePercentage),
		},
		{Label: "Updated", Value: s.LastUpdated.Local().Format(TimeLayout), Icon: "◷"},
	}
}

// Indicator is the one-line status text.
func Indicator(s *model.Stats) string {
	if s == nil {
		return "yesCode: no data"
	}
	return fmt.Sprintf("yesCode: %s (%s used)", Money(s.TotalBalance), Percent(s.SubscriptionUsagePercentage))
}

// Tooltip is the multi-line detail text behind the indicator.
func Tooltip(s *model.Stats) string {
	if s == nil {
		return "yesCode usage\n\nNo data yet. Run `ycstats setup` to configure."
	}
	var b strings.Builder
	b.WriteString("yesCode usage\n\n")
	for _, r := range Rows(s) {
		fmt.Fprintf(&b, "%s: %s\n", r.Label, tooltipValue(r, s))
	}
	return strings.TrimRight(b.String(), "\n")
}

// tooltipValue drops the bar from the usage row; tooltips are plain facts.
func tooltipValue(r Row, s *model.Stats) string {
	if r.Label == "Subscription usage" {
		return Percent(s.SubscriptionUsagePercentage)
	}
	return r.Value
}

// IndicatorSeverity is the severity the status indicator takes on.
func IndicatorSeverity(s *model.Stats) Severity {
	if s == nil {
		return Normal
	}
	return SeverityFor(s.SubscriptionUsagePercentage)
}

// Waybar is the custom-module payload for status bars such as waybar.
type Waybar struct {
	Text       string `json:"text"`
	Tooltip    string `json:"tooltip"`
	Class      string `json:"class"`
	Percentage int    `json:"percentage"`
}

// WaybarFor builds the status bar payload.
func WaybarFor(s *model.Stats) Waybar {
	w := Waybar{
		Text:    Indicator(s),
		Tooltip: Tooltip(s),
		Class:   IndicatorSeverity(s).String(),
	}
	if s == nil {
		w.Class = "nodata"
		return w
	}
	w.Percentage = int(math.Round(s.SubscriptionUsagePercentage))
	return w
}
