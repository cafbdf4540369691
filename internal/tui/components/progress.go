package components

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/ycstats/internal/panel"
	"github.com/theirongolddev/ycstats/internal/tui/theme"
)

// UsageBar renders a labeled subscription usage bar. pct is 0-100; the bar
// and percentage take the severity color for that level.
func UsageBar(label string, pct float64, labelW, barWidth int) string {
	t := theme.Active
	pct = clampPct(pct)
	color := t.ForSeverity(panel.SeverityFor(pct))

	bar := progress.New(
		progress.WithSolidFill(string(color)),
		progress.WithWidth(barWidth),
		progress.WithoutPercentage(),
	)
	bar.EmptyColor = string(t.TextDim)

	labelStyle := lipgloss.NewStyle().Foreground(t.TextMuted)
	pctStyle := lipgloss.NewStyle().Foreground(color).Bold(true)

	out := ""
	if label != "" {
		out = labelStyle.Render(fmt.Sprintf("%-*s", labelW, label)) + " "
	}
	return out + bar.ViewAs(pct/100) + " " + pctStyle.Render(panel.Percent(pct))
}

// CompactUsageBar renders a status-bar-sized usage indicator that fits in width.
func CompactUsageBar(pct float64, width int) string {
	pctW := lipgloss.Width(panel.Percent(clampPct(pct)))
	return UsageBar("", pct, 0, max(width-pctW-1, 4))
}

func clampPct(pct float64) float64 {
	return min(max(pct, 0), 100)
}
