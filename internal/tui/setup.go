package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/rs/zerolog/log"

	"github.com/theirongolddev/ycstats/internal/config"
	"github.com/theirongolddev/ycstats/internal/store"
)

// SetupResult is the outcome of the first-run setup wizard.
type SetupResult struct {
	// Declined is set when the welcome prompt was dismissed. It is remembered
	// so the wizard is not offered again.
	Declined bool
	// Cancelled is set when the token prompt was abandoned. Nothing is
	// remembered and the wizard will be offered next launch.
	Cancelled bool
	Token     string
	// DailyLimit is zero when the default should be kept.
	DailyLimit float64
}

type setupStage int

const (
	stageWelcome setupStage = iota
	stageToken
	stageLimit
)

// SetupForm walks through welcome, token and daily limit, one huh form per step.
type SetupForm struct {
	Completed bool
	form      *huh.Form
	stage     setupStage
	result    SetupResult

	start bool
	token string
	limit string
}

// NewSetupForm returns the wizard positioned at the welcome prompt.
func NewSetupForm() *SetupForm {
	sf := &SetupForm{start: true}
	sf.form = sf.welcomeForm()
	return sf
}

func (sf *SetupForm) welcomeForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Welcome to ycstats").
				Description("Configure your yesCode API token to start tracking your balance.").
				Affirmative("Set up now").
				Negative("Later").
				Value(&sf.start),
		),
	)
}

func (sf *SetupForm) tokenForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("yesCode API token").
				Description("Stored in the local secret store, never in config.toml.").
				Placeholder(store.TokenPrefix + "...").
				EchoMode(huh.EchoModePassword).
				Validate(store.ValidateToken).
				Value(&sf.token),
		),
	)
}

func (sf *SetupForm) limitForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Daily subscription limit (USD)").
				Description("Used to compute subscription usage. Leave blank for 100.").
				Placeholder("100").
				Validate(validateOptionalLimit).
				Value(&sf.limit),
		),
	)
}

// validateOptionalLimit accepts blank (keep default) or a positive number.
func validateOptionalLimit(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return validateLimit(s)
}

func validateLimit(s string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return errors.New("enter a number")
	}
	if f <= 0 {
		return errors.New("limit must be greater than 0")
	}
	return nil
}

// Init implements tea.Model.
func (sf *SetupForm) Init() tea.Cmd {
	return sf.form.Init()
}

// Update implements tea.Model.
func (sf *SetupForm) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.String() == "esc" {
		sf.cancel()
		return sf, nil
	}

	form, cmd := sf.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		sf.form = f
	}

	if sf.form.State == huh.StateCompleted {
		return sf, sf.advance()
	}
	return sf, cmd
}

// cancel handles esc at the current step.
func (sf *SetupForm) cancel() {
	switch sf.stage {
	case stageWelcome:
		sf.result.Declined = true
	case stageToken:
		sf.result.Cancelled = true
	case stageLimit:
		// The token is already accepted; keep the default limit.
		sf.result.Token = strings.TrimSpace(sf.token)
	}
	sf.Completed = true
}

// advance moves past a finished step and returns the next form's init command.
func (sf *SetupForm) advance() tea.Cmd {
	switch sf.stage {
	case stageWelcome:
		if !sf.start {
			sf.result.Declined = true
			sf.Completed = true
			return nil
		}
		sf.stage = stageToken
		sf.form = sf.tokenForm()

	case stageToken:
		sf.result.Token = strings.TrimSpace(sf.token)
		sf.stage = stageLimit
		sf.form = sf.limitForm()

	case stageLimit:
		if v := strings.TrimSpace(sf.limit); v != "" {
			// Validated by the form.
			sf.result.DailyLimit, _ = strconv.ParseFloat(v, 64)
		}
		sf.Completed = true
		return nil
	}
	return sf.form.Init()
}

// View implements tea.Model.
func (sf *SetupForm) View() string {
	if sf.form != nil {
		return sf.form.View()
	}
	return ""
}

// Result returns the wizard outcome once Completed is set.
func (sf *SetupForm) Result() SetupResult {
	return sf.result
}

// Configure menu actions.
const (
	ActionToken    = "token"
	ActionEndpoint = "endpoint"
	ActionInterval = "interval"
	ActionLimit    = "daily-limit"
)

// ConfigureResult is the outcome of the configure menu. Value holds the new
// setting in the textual form config.Config.Set accepts.
type ConfigureResult struct {
	Action    string
	Value     string
	Cancelled bool
}

// ConfigureMenu picks one setting and then edits it.
type ConfigureMenu struct {
	Completed bool
	cfg       config.Config
	form      *huh.Form
	picked    bool
	result    ConfigureResult

	action   string
	text     string
	interval int
}

// NewConfigureMenu returns the menu for the settings in cfg.
func NewConfigureMenu(cfg config.Config) *ConfigureMenu {
	cm := &ConfigureMenu{cfg: cfg, action: ActionToken, interval: cfg.API.RefreshIntervalSec}
	cm.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Configure ycstats").
				Options(
					huh.NewOption("Set API token", ActionToken),
					huh.NewOption(fmt.Sprintf("Change endpoint (%s)", cfg.API.Endpoint), ActionEndpoint),
					huh.NewOption(fmt.Sprintf("Change refresh interval (%ds)", cfg.API.RefreshIntervalSec), ActionInterval),
					huh.NewOption(fmt.Sprintf("Change daily subscription limit ($%g)", cfg.API.DailySubscriptionLimit), ActionLimit),
				).
				Value(&cm.action),
		),
	)
	return cm
}

// validateSetting checks value against a copy of the current config.
func (cm *ConfigureMenu) validateSetting(key string) func(string) error {
	return func(value string) error {
		next := cm.cfg
		return next.Set(key, value)
	}
}

func (cm *ConfigureMenu) editForm() *huh.Form {
	var field huh.Field
	switch cm.action {
	case ActionToken:
		field = huh.NewInput().
			Title("yesCode API token").
			Placeholder(store.TokenPrefix + "...").
			EchoMode(huh.EchoModePassword).
			Validate(store.ValidateToken).
			Value(&cm.text)
	case ActionEndpoint:
		cm.text = cm.cfg.API.Endpoint
		field = huh.NewInput().
			Title("Balance endpoint").
			Validate(cm.validateSetting("endpoint")).
			Value(&cm.text)
	case ActionInterval:
		opts := make([]huh.Option[int], 0, len(config.IntervalChoices))
		for _, c := range config.IntervalChoices {
			opts = append(opts, huh.NewOption(c.Label, c.Seconds))
		}
		field = huh.NewSelect[int]().
			Title("Refresh interval").
			Options(opts...).
			Value(&cm.interval)
	default:
		cm.text = strconv.FormatFloat(cm.cfg.API.DailySubscriptionLimit, 'f', -1, 64)
		field = huh.NewInput().
			Title("Daily subscription limit (USD)").
			Validate(validateLimit).
			Value(&cm.text)
	}
	return huh.NewForm(huh.NewGroup(field))
}

// Init implements tea.Model.
func (cm *ConfigureMenu) Init() tea.Cmd {
	return cm.form.Init()
}

// Update implements tea.Model.
func (cm *ConfigureMenu) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.String() == "esc" {
		cm.result = ConfigureResult{Action: cm.action, Cancelled: true}
		cm.Completed = true
		return cm, nil
	}

	form, cmd := cm.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		cm.form = f
	}

	if cm.form.State == huh.StateCompleted {
		return cm, cm.advance()
	}
	return cm, cmd
}

func (cm *ConfigureMenu) advance() tea.Cmd {
	if !cm.picked {
		cm.picked = true
		cm.form = cm.editForm()
		return cm.form.Init()
	}

	cm.result = ConfigureResult{Action: cm.action, Value: strings.TrimSpace(cm.text)}
	if cm.action == ActionInterval {
		cm.result.Value = strconv.Itoa(cm.interval)
	}
	cm.Completed = true
	log.Debug().Str("action", cm.action).Msg("configure menu completed")
	return nil
}

// View implements tea.Model.
func (cm *ConfigureMenu) View() string {
	if cm.form != nil {
		return cm.form.View()
	}
	return ""
}

// Result returns the menu outcome once Completed is set.
func (cm *ConfigureMenu) Result() ConfigureResult {
	return cm.result
}
