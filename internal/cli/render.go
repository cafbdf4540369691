package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/ycstats/internal/panel"
)

// Theme colors (Flexoki Dark)
var (
	ColorBorder    = lipgloss.Color("#282726")
	ColorTextDim   = lipgloss.Color("#575653")
	ColorTextMuted = lipgloss.Color("#6F6E69")
	ColorText      = lipgloss.Color("#FFFCF0")
	ColorAccent    = lipgloss.Color("#3AA99F")
	ColorGreen     = lipgloss.Color("#879A39")
	ColorOrange    = lipgloss.Color("#DA702C")
	ColorRed       = lipgloss.Color("#D14D41")
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorText).
			Align(lipgloss.Center)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	valueStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	mutedStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	moneyStyle = lipgloss.NewStyle().
			Foreground(ColorGreen)

	warnStyle = lipgloss.NewStyle().
			Foreground(ColorOrange)

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorRed)

	dimStyle = lipgloss.NewStyle().
			Foreground(ColorTextDim)
)

// Table represents a bordered text table for CLI output.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string // a single "---" cell draws a separator

	// RightAlign marks columns whose cells are right-aligned, e.g. amounts.
	RightAlign []bool
	// Styles optionally overrides the value style per column for data rows.
	Styles []*lipgloss.Style
}

func (t Table) columns() int {
	n := len(t.Headers)
	for _, row := range t.Rows {
		n = max(n, len(row))
	}
	return n
}

func (t Table) widths(n int) []int {
	widths := make([]int, n)
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		if isSeparator(row) {
			continue
		}
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}
	return widths
}

func (t Table) cell(col int, text string, width int) string {
	pad := strings.Repeat(" ", max(width-lipgloss.Width(text), 0))
	if col < len(t.RightAlign) && t.RightAlign[col] {
		return " " + pad + text + " "
	}
	return " " + text + pad + " "
}

func isSeparator(row []string) bool {
	return len(row) == 1 && row[0] == "---"
}

// RenderTitle renders a centered title bar in a bordered box.
func RenderTitle(title string) string {
	width := 55
	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Width(width).
		Align(lipgloss.Center).
		Padding(0, 1)

	return border.Render(titleStyle.Render(title))
}

// RenderTable renders a bordered table with headers and rows.
func RenderTable(t Table) string {
	n := t.columns()
	if n == 0 {
		return ""
	}
	widths := t.widths(n)

	var b strings.Builder
	rule := func(left, mid, right string) {
		b.WriteString(dimStyle.Render(left))
		for i, w := range widths {
			b.WriteString(dimStyle.Render(strings.Repeat("─", w+2)))
			if i < n-1 {
				b.WriteString(dimStyle.Render(mid))
			}
		}
		b.WriteString(dimStyle.Render(right))
		b.WriteString("\n")
	}
	line := func(cells []string, style func(col int) lipgloss.Style) {
		b.WriteString(dimStyle.Render("│"))
		for i := range n {
			text := ""
			if i < len(cells) {
				text = cells[i]
			}
			b.WriteString(style(i).Render(t.cell(i, text, widths[i])))
			if i < n-1 {
				b.WriteString(dimStyle.Render("│"))
			}
		}
		b.WriteString(dimStyle.Render("│"))
		b.WriteString("\n")
	}

	if t.Title != "" {
		b.WriteString("  ")
		b.WriteString(headerStyle.Render(t.Title))
		b.WriteString("\n")
	}

	rule("╭", "┬", "╮")
	if len(t.Headers) > 0 {
		line(t.Headers, func(int) lipgloss.Style { return headerStyle })
		rule("├", "┼", "┤")
	}
	for _, row := range t.Rows {
		if isSeparator(row) {
			rule("├", "┼", "┤")
			continue
		}
		line(row, func(col int) lipgloss.Style {
			if col < len(t.Styles) && t.Styles[col] != nil {
				return *t.Styles[col]
			}
			return valueStyle
		})
	}
	rule("╰", "┴", "╯")

	return b.String()
}

// SeverityStyle returns the style used for a panel severity.
func SeverityStyle(sev panel.Severity) lipgloss.Style {
	switch sev {
	case panel.Error:
		return errorStyle
	case panel.Warning:
		return warnStyle
	default:
		return valueStyle
	}
}

// RenderRows renders panel rows as an aligned label/value list.
// Escalated rows are colored by severity.
func RenderRows(rows []panel.Row) string {
	labelWidth := 0
	for _, r := range rows {
		labelWidth = max(labelWidth, lipgloss.Width(r.Label))
	}

	var b strings.Builder
	for _, r := range rows {
		icon := dimStyle.Render(r.Icon)
		label := mutedStyle.Render(fmt.Sprintf("%-*s", labelWidth, r.Label))

		value := moneyStyle.Render(r.Value)
		if r.Severity != panel.Normal || !strings.HasPrefix(r.Value, "$") {
			value = SeverityStyle(r.Severity).Render(r.Value)
		}
		fmt.Fprintf(&b, "  %s  %s  %s\n", icon, label, value)
	}
	return b.String()
}

// RenderKV renders aligned key/value pairs, preserving order.
func RenderKV(pairs [][2]string) string {
	keyWidth := 0
	for _, p := range pairs {
		keyWidth = max(keyWidth, lipgloss.Width(p[0]))
	}

	var b strings.Builder
	for _, p := range pairs {
		fmt.Fprintf(&b, "  %s  %s\n",
			mutedStyle.Render(fmt.Sprintf("%-*s", keyWidth, p[0])),
			valueStyle.Render(p[1]))
	}
	return b.String()
}

// RenderError renders a one-line error message for stderr.
func RenderError(msg string) string {
	return errorStyle.Render("error: ") + msg
}
