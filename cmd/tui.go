package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/ycstats/internal/config"
	"github.com/theirongolddev/ycstats/internal/tui"
	"github.com/theirongolddev/ycstats/internal/tui/theme"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive TUI dashboard",
	RunE:  runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	theme.SetActive(cfg.Appearance.Theme)

	// Log lines would corrupt the alt screen; send them to a file instead.
	logFile, err := openTUILog()
	if err != nil {
		setupLogging(io.Discard, logLevel(cfg.Log.Level))
	} else {
		defer func() { _ = logFile.Close() }()
		setupLogging(logFile, logLevel(cfg.Log.Level))
	}

	kv, closeStore := openStoreOrWarn()
	defer closeStore()

	// Force TrueColor profile so all background styling produces ANSI codes
	// Without this, lipgloss may default to Ascii profile (no colors)
	lipgloss.SetColorProfile(termenv.TrueColor)

	app := tui.NewApp(tui.Options{
		Config:     cfg,
		ConfigPath: configPath(),
		Client:     newClient(cfg),
		Store:      kv,
		Keys:       keyResolver(kv),
	})
	defer app.Close()

	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func openTUILog() (*os.File, error) {
	path := filepath.Join(config.CacheDir(), "tui.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600) //nolint:gosec // path under the user cache dir
}
