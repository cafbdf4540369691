// Package tui provides the interactive Bubble Tea dashboard for ycstats.
package tui

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/theirongolddev/ycstats/internal/balance"
	"github.com/theirongolddev/ycstats/internal/cli"
	"github.com/theirongolddev/ycstats/internal/config"
	"github.com/theirongolddev/ycstats/internal/model"
	"github.com/theirongolddev/ycstats/internal/panel"
	"github.com/theirongolddev/ycstats/internal/pipeline"
	"github.com/theirongolddev/ycstats/internal/scheduler"
	"github.com/theirongolddev/ycstats/internal/store"
	"github.com/theirongolddev/ycstats/internal/tui/components"
	"github.com/theirongolddev/ycstats/internal/tui/theme"
)

// Options wires the dashboard to its collaborators.
type Options struct {
	Config config.Config
	// ConfigPath receives settings changed from the configure menu; empty
	// keeps changes in memory only.
	ConfigPath string
	Client     pipeline.Fetcher
	// Store holds the API token and setup flag. It may be nil.
	Store store.KV
	Keys  store.KeyResolver
}

type statsMsg struct{ stats model.Stats }

type pollErrMsg struct{ err error }

// pollDoneMsg follows every poll; skipped means no API key was configured.
type pollDoneMsg struct {
	at      time.Time
	skipped bool
}

type tickMsg time.Time

// poller is shared by every copy of App. It owns the scheduler and feeds
// poll outcomes into sub.
type poller struct {
	sched     *scheduler.Scheduler
	refresher *pipeline.Refresher
	sub       chan tea.Msg
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu       sync.RWMutex
	settings pipeline.Settings
}

func newPoller(opts Options) *poller {
	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{
		sched:  scheduler.New(),
		sub:    make(chan tea.Msg, 8),
		ctx:    ctx,
		cancel: cancel,
		settings: pipeline.Settings{
			Endpoint:   opts.Config.API.Endpoint,
			DailyLimit: opts.Config.API.DailySubscriptionLimit,
		},
	}
	p.refresher = &pipeline.Refresher{
		Client:   opts.Client,
		Keys:     opts.Keys,
		Settings: p.currentSettings,
		OnStats:  func(s model.Stats) { p.send(statsMsg{stats: s}) },
		OnError:  func(err error) { p.send(pollErrMsg{err: err}) },
	}
	return p
}

func (p *poller) currentSettings() pipeline.Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

func (p *poller) apply(cfg config.Config) {
	p.mu.Lock()
	p.settings = pipeline.Settings{
		Endpoint:   cfg.API.Endpoint,
		DailyLimit: cfg.API.DailySubscriptionLimit,
	}
	p.mu.Unlock()
}

// send delivers msg unless the dashboard has shut down.
func (p *poller) send(msg tea.Msg) {
	select {
	case p.sub <- msg:
	case <-p.ctx.Done():
	}
}

func (p *poller) tick() {
	stats, err := p.refresher.Refresh(p.ctx)
	p.send(pollDoneMsg{at: time.Now(), skipped: stats == nil && err == nil})
}

func (p *poller) close() {
	p.closeOnce.Do(func() {
		p.sched.Stop()
		p.cancel()
	})
}

// App is the root Bubble Tea model.
type App struct {
	opts Options
	cfg  config.Config
	p    *poller

	// Data
	stats       *model.Stats
	prev        *model.Stats
	lastErr     error
	lastPoll    time.Time
	lastSuccess time.Time
	polled      bool
	configured  bool
	refreshing  bool

	// UI state
	width    int
	height   int
	showHelp bool
	notice   string
	now      time.Time
	spinner  spinner.Model

	// Forms
	setup *SetupForm
	menu  *ConfigureMenu
}

const (
	minTerminalWidth = 60
	maxContentWidth  = 110
)

// NewApp creates the dashboard. The first-run wizard is shown when no token
// is available and setup has not been dismissed before.
func NewApp(opts Options) App {
	needSetup, err := store.NeedsSetup(opts.Keys)
	if err != nil {
		log.Warn().Err(err).Msg("could not read setup state")
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Active.Accent)

	a := App{
		opts:    opts,
		cfg:     opts.Config,
		p:       newPoller(opts),
		now:     time.Now(),
		spinner: sp,
	}
	if needSetup {
		a.setup = NewSetupForm()
	} else {
		a.refreshing = true // Init starts polling
	}
	return a
}

// Close stops polling. It is safe to call more than once.
func (a App) Close() {
	a.p.close()
}

// Init implements tea.Model.
func (a App) Init() tea.Cmd {
	cmds := []tea.Cmd{
		a.spinner.Tick,
		tickCmd(),
		waitForMsg(a.p.sub),
	}
	if a.setup != nil {
		cmds = append(cmds, a.setup.Init())
	} else {
		cmds = append(cmds, a.startPollingCmd())
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case statsMsg:
		s := msg.stats
		a.prev = a.stats
		a.stats = &s
		a.lastErr = nil
		a.lastSuccess = s.LastUpdated
		a.configured = true
		return a, waitForMsg(a.p.sub)

	case pollErrMsg:
		a.lastErr = msg.err
		a.configured = true
		return a, waitForMsg(a.p.sub)

	case pollDoneMsg:
		a.refreshing = false
		a.polled = true
		a.lastPoll = msg.at
		if msg.skipped {
			a.configured = false
		}
		return a, waitForMsg(a.p.sub)

	case tickMsg:
		a.now = time.Time(msg)
		return a, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		// Global: quit
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
	}

	// Forms receive every remaining message; huh advances on its own messages.
	if a.setup != nil {
		return a.updateSetup(msg)
	}
	if a.menu != nil {
		return a.updateMenu(msg)
	}

	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return a, nil
	}
	key := keyMsg.String()

	// Help toggle
	if key == "?" {
		a.showHelp = !a.showHelp
		return a, nil
	}

	// Dismiss help
	if a.showHelp {
		a.showHelp = false
		return a, nil
	}

	switch key {
	case "q":
		return a, tea.Quit

	case "r":
		if a.refreshing {
			return a, nil
		}
		a.refreshing = true
		a.notice = ""
		return a, a.refreshCmd()

	case "c":
		a.notice = ""
		a.menu = NewConfigureMenu(a.cfg)
		return a, a.menu.Init()

	case "s":
		a.notice = ""
		a.setup = NewSetupForm()
		return a, a.setup.Init()
	}

	return a, nil
}

func (a App) updateSetup(msg tea.Msg) (tea.Model, tea.Cmd) {
	_, cmd := a.setup.Update(msg)
	if !a.setup.Completed {
		return a, cmd
	}

	res := a.setup.Result()
	a.setup = nil
	return a.applySetup(res)
}

// applySetup persists the wizard outcome and starts polling once a token exists.
func (a App) applySetup(res SetupResult) (tea.Model, tea.Cmd) {
	switch {
	case res.Declined:
		if err := store.MarkSetupSeen(a.opts.Store); err != nil {
			log.Warn().Err(err).Msg("could not remember dismissed setup")
		}
		// Polling stays off until a token is saved through c or s.
		a.notice = "Setup skipped. Press s to run it, or c to configure."
		return a, nil

	case res.Cancelled:
		a.notice = "Setup cancelled."
		return a, nil
	}

	if err := store.SaveAPIKey(a.opts.Store, res.Token); err != nil {
		a.notice = err.Error()
		return a, nil
	}
	if err := store.MarkSetupSeen(a.opts.Store); err != nil {
		log.Warn().Err(err).Msg("could not record completed setup")
	}
	if res.DailyLimit > 0 {
		if err := a.changeSetting("daily-limit", fmt.Sprintf("%g", res.DailyLimit)); err != nil {
			a.notice = err.Error()
		}
	}
	if a.notice == "" {
		a.notice = "Token saved."
	}
	a.refreshing = true
	return a, a.startPollingCmd()
}

func (a App) updateMenu(msg tea.Msg) (tea.Model, tea.Cmd) {
	_, cmd := a.menu.Update(msg)
	if !a.menu.Completed {
		return a, cmd
	}

	res := a.menu.Result()
	a.menu = nil
	return a.applyConfigure(res)
}

// applyConfigure persists one changed setting. A new token or interval
// restarts the timer, which polls right away; other changes poll once.
func (a App) applyConfigure(res ConfigureResult) (tea.Model, tea.Cmd) {
	if res.Cancelled {
		return a, nil
	}

	switch res.Action {
	case ActionToken:
		if err := store.SaveAPIKey(a.opts.Store, res.Value); err != nil {
			a.notice = err.Error()
			return a, nil
		}
		a.notice = "Token saved."
		a.refreshing = true
		return a, a.startPollingCmd()

	case ActionInterval:
		if err := a.changeSetting("interval", res.Value); err != nil {
			a.notice = err.Error()
			return a, nil
		}
		a.notice = "Refresh interval set to " + cli.FormatInterval(a.cfg.RefreshInterval()) + "."
		a.refreshing = true
		return a, a.startPollingCmd()

	case ActionEndpoint, ActionLimit:
		if err := a.changeSetting(res.Action, res.Value); err != nil {
			a.notice = err.Error()
			return a, nil
		}
		a.notice = "Settings saved."
		a.refreshing = true
		return a, a.refreshCmd()
	}
	return a, nil
}

// changeSetting updates the live config and, when a path is known, the
// config file. The file is re-read so environment overrides are not persisted.
func (a *App) changeSetting(key, value string) error {
	if err := a.cfg.Set(key, value); err != nil {
		return err
	}
	a.p.apply(a.cfg)

	if a.opts.ConfigPath == "" {
		return nil
	}
	fileCfg, err := config.LoadFrom(a.opts.ConfigPath)
	if err != nil {
		return err
	}
	if err := fileCfg.Set(key, value); err != nil {
		return err
	}
	if err := config.SaveTo(a.opts.ConfigPath, fileCfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}

func (a App) startPollingCmd() tea.Cmd {
	p, interval := a.p, a.cfg.RefreshInterval()
	return func() tea.Msg {
		if err := p.sched.Start(p.tick, interval); err != nil {
			p.send(pollErrMsg{err: err})
			p.send(pollDoneMsg{at: time.Now()})
		}
		return nil
	}
}

func (a App) refreshCmd() tea.Cmd {
	p := a.p
	return func() tea.Msg {
		p.tick()
		return nil
	}
}

func (a App) contentWidth() int {
	return min(a.width, maxContentWidth)
}

// View implements tea.Model.
func (a App) View() string {
	if a.width == 0 {
		return ""
	}

	if a.width < minTerminalWidth {
		return a.viewTooNarrow()
	}

	if a.setup != nil {
		return a.viewForm(a.setup.View())
	}
	if a.menu != nil {
		return a.viewForm(a.menu.View())
	}

	if a.showHelp {
		return a.viewHelp()
	}

	return a.viewMain()
}

func (a App) viewTooNarrow() string {
	h := max(a.height, 5)

	msg := fmt.Sprintf(
		"\n  Terminal too narrow (%d cols)\n\n  ycstats needs at least %d columns.\n",
		a.width,
		minTerminalWidth,
	)

	return padHeight(truncateHeight(msg, h), h)
}

func (a App) viewForm(form string) string {
	t := theme.Active
	cardStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.BorderAccent).
		Padding(1, 2).
		Width(min(a.contentWidth()-4, 70))

	hint := lipgloss.NewStyle().Foreground(t.TextDim).Render("enter to confirm · esc to cancel")
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center,
		cardStyle.Render(form+"\n"+hint))
}

func (a App) viewHelp() string {
	t := theme.Active

	keyStyle := lipgloss.NewStyle().
		Foreground(t.Accent).
		Bold(true)

	descStyle := lipgloss.NewStyle().
		Foreground(t.TextMuted)

	dimStyle := lipgloss.NewStyle().
		Foreground(t.TextDim)

	var b strings.Builder
	bindings := []struct{ key, desc string }{
		{"r", "Refresh balance now"},
		{"c", "Configure token, endpoint, interval or limit"},
		{"s", "Run first-time setup again"},
		{"?", "Toggle help"},
		{"q", "Quit"},
	}
	for _, bind := range bindings {
		fmt.Fprintf(&b, "%s  %s\n",
			keyStyle.Render(fmt.Sprintf("%-4s", bind.key)),
			descStyle.Render(bind.desc))
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Press any key to close"))

	card := components.ContentCard("◈ Keyboard Shortcuts", b.String(), min(a.contentWidth(), 60))
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, card)
}

func (a App) viewMain() string {
	t := theme.Active
	w := a.contentWidth()

	titleStyle := lipgloss.NewStyle().Foreground(t.AccentBright).Bold(true)
	mutedStyle := lipgloss.NewStyle().Foreground(t.TextMuted)
	errStyle := lipgloss.NewStyle().Foreground(t.Red)
	noticeStyle := lipgloss.NewStyle().Foreground(t.Yellow)

	var b strings.Builder
	b.WriteString(titleStyle.Render("◈ ycstats"))
	b.WriteString(mutedStyle.Render("  yesCode balance · " + endpointHost(a.cfg.API.Endpoint)))
	b.WriteString("\n\n")

	b.WriteString(a.viewBalance(w))
	b.WriteString("\n")

	if a.lastErr != nil {
		line := "✗ " + balance.Describe(a.lastErr)
		if a.stats != nil {
			line += " (showing last known balance)"
		}
		b.WriteString(errStyle.Render(line))
		b.WriteString("\n")
	}
	if a.notice != "" {
		b.WriteString(noticeStyle.Render(a.notice))
		b.WriteString("\n")
	}

	body := b.String()
	bar := a.viewStatusBar()

	h := max(a.height-lipgloss.Height(bar), 1)
	return padHeight(truncateHeight(body, h), h) + "\n" + bar
}

func (a App) viewBalance(w int) string {
	t := theme.Active
	mutedStyle := lipgloss.NewStyle().Foreground(t.TextMuted)

	if a.stats == nil {
		row := panel.Placeholder
		switch {
		case a.refreshing || (a.configured && !a.polled):
			row = panel.Row{Label: "Fetching balance", Value: a.spinner.View()}
		case a.configured && a.lastErr != nil:
			row = panel.Row{Label: "No data yet", Value: "Balance could not be fetched", Icon: "!", Severity: panel.Error}
		}
		body := lipgloss.NewStyle().Foreground(t.ForSeverity(row.Severity)).Render(row.Icon+" "+row.Label) +
			"\n" + mutedStyle.Render(row.Value)
		return components.AlertCard("yesCode", body, row.Severity, w)
	}

	s := *a.stats
	rows := panel.Rows(a.stats)

	var delta model.Delta
	if a.prev != nil {
		delta = model.Diff(*a.prev, s)
	}
	metrics := []components.Metric{
		{Label: rows[0].Icon + " " + rows[0].Label, Value: rows[0].Value, Delta: deltaText(delta.TotalBalance)},
		{Label: rows[1].Icon + " " + rows[1].Label, Value: rows[1].Value, Delta: deltaText(delta.SubscriptionBalance)},
		{Label: rows[2].Icon + " " + rows[2].Label, Value: rows[2].Value, Delta: deltaText(delta.PayAsYouGoBalance)},
	}

	usage := rows[3]
	barW := max(components.CardInnerWidth(w)-12, 10)
	usageBody := components.UsageBar("", s.SubscriptionUsagePercentage, 0, barW) + "\n" +
		mutedStyle.Render(fmt.Sprintf("of %s daily subscription limit", panel.Money(a.cfg.API.DailySubscriptionLimit)))

	updated := rows[4]
	updatedLine := mutedStyle.Render(fmt.Sprintf("%s %s %s (%s)",
		updated.Icon, updated.Label, updated.Value, cli.FormatAgo(a.lastSuccess, a.now)))

	return components.MetricCardRow(metrics, w) + "\n" +
		components.AlertCard(usage.Icon+" "+usage.Label, usageBody, usage.Severity, w) + "\n" +
		updatedLine
}

func (a App) viewStatusBar() string {
	t := theme.Active

	sev := panel.IndicatorSeverity(a.stats)
	left := lipgloss.NewStyle().
		Foreground(t.ForSeverity(sev)).
		Background(t.SurfaceHover).
		Bold(true).
		Render(panel.Indicator(a.stats))
	if a.stats != nil && a.width >= 90 {
		left += " " + components.CompactUsageBar(a.stats.SubscriptionUsagePercentage, 18)
	}

	interval := "paused"
	if a.p.sched.Running() {
		interval = "every " + cli.FormatInterval(a.p.sched.Interval())
	}
	right := fmt.Sprintf("%s · [r]efresh [c]onfigure [?]help [q]uit", interval)
	if a.refreshing {
		right = "refreshing… · " + right
	}

	return components.RenderStatusBar(a.width, left, right)
}

func deltaText(d float64) string {
	if d == 0 {
		return ""
	}
	return cli.FormatDelta(d) + " since last poll"
}

// endpointHost trims the endpoint to its host for the header.
func endpointHost(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForMsg blocks on the poller subscription and returns the next message.
func waitForMsg(sub chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-sub
	}
}

func truncateHeight(s string, limit int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= limit {
		return s
	}
	return strings.Join(lines[:limit], "\n")
}

func padHeight(s string, h int) string {
	lines := strings.Split(s, "\n")
	if len(lines) >= h {
		return s
	}
	padding := strings.Repeat("\n", h-len(lines))
	return s + padding
}
