package panel

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/ycstats/internal/model"
)

func sample(pct float64) *model.Stats {
	return &model.Stats{
		TotalBalance:                150,
		SubscriptionBalance:         80,
		PayAsYouGoBalance:           70,
		SubscriptionUsagePercentage: pct,
		LastUpdated:                 time.Date(2025, 6, 1, 9, 30, 15, 0, time.Local),
	}
}

func TestUsageBar(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{0, "░░░░░░░░░░"},
		{4.9, "░░░░░░░░░░"},
		{5, "█░░░░░░░░░"},
		{20, "██░░░░░░░░"},
		{55, "██████░░░░"},
		{100, "██████████"},
		{130, "██████████"},
		{-5, "░░░░░░░░░░"},
	}
	for _, tt := range tests {
		got := UsageBar(tt.pct)
		if got != tt.want {
			t.Errorf("UsageBar(%v) = %q, want %q", tt.pct, got, tt.want)
		}
		if n := utf8.RuneCountInString(got); n != BarWidth {
			t.Errorf("UsageBar(%v) has %d segments", tt.pct, n)
		}
	}
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, Normal, SeverityFor(0))
	assert.Equal(t, Normal, SeverityFor(80))
	assert.Equal(t, Warning, SeverityFor(80.1))
	assert.Equal(t, Warning, SeverityFor(90))
	assert.Equal(t, Error, SeverityFor(90.1))
	assert.Equal(t, Error, SeverityFor(100))
}

func TestRows(t *testing.T) {
	rows := Rows(sample(20))
	require.Len(t, rows, 5)

	assert.Equal(t, "$150.00", rows[0].Value)
	assert.Equal(t, "$80.00", rows[1].Value)
	assert.Equal(t, "$70.00", rows[2].Value)
	assert.Equal(t, "20.0% ██░░░░░░░░", rows[3].Value)
	assert.Equal(t, "09:30:15", rows[4].Value)

	for i, r := range rows {
		assert.Equal(t, Normal, r.Severity, "row %d", i)
	}
}

func TestRowsEscalateOnlyUsage(t *testing.T) {
	rows := Rows(sample(95))
	assert.Equal(t, Error, rows[3].Severity)
	for _, i := range []int{0, 1, 2, 4} {
		assert.Equal(t, Normal, rows[i].Severity)
	}
	assert.Equal(t, Warning, Rows(sample(85))[3].Severity)
}

func TestRowsPlaceholder(t *testing.T) {
	rows := Rows(nil)
	require.Len(t, rows, 1)
	assert.Equal(t, "No data yet", rows[0].Label)
	assert.Equal(t, "Run setup to configure", rows[0].Value)
}

func TestIndicator(t *testing.T) {
	assert.Equal(t, "yesCode: $150.00 (20.0% used)", Indicator(sample(20)))
	assert.Equal(t, "yesCode: no data", Indicator(nil))
}

func TestTooltipCarriesFiveFacts(t *testing.T) {
	tip := Tooltip(sample(20))
	for _, want := range []string{"$150.00", "$80.00", "$70.00", "20.0%", "09:30:15"} {
		assert.Contains(t, tip, want)
	}
	assert.NotContains(t, tip, "█")
	assert.True(t, strings.HasPrefix(Tooltip(nil), "yesCode usage"))
}

func TestWaybarJSON(t *testing.T) {
	data, err := json.Marshal(WaybarFor(sample(84.6)))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "yesCode: $150.00 (84.6% used)", got["text"])
	assert.Equal(t, "warning", got["class"])
	assert.EqualValues(t, 85, got["percentage"])

	assert.Equal(t, "nodata", WaybarFor(nil).Class)
}
