// Package cmd implements the ycstats CLI commands.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/theirongolddev/ycstats/internal/balance"
	"github.com/theirongolddev/ycstats/internal/cli"
	"github.com/theirongolddev/ycstats/internal/config"
	"github.com/theirongolddev/ycstats/internal/store"
)

var (
	flagConfig   string
	flagLogLevel string
	flagQuiet    bool
	flagNoStore  bool
)

var rootCmd = &cobra.Command{
	Use:   "ycstats",
	Short: "yesCode balance monitor",
	Long: "Track your yesCode balance and subscription usage from the terminal,\n" +
		"a status bar, or a background daemon.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
	RunE:              runStatus,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.RenderError(err.Error()))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default "+config.Path()+")")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Only log errors")
	rootCmd.PersistentFlags().BoolVar(&flagNoStore, "no-store", false, "Do not open the secret store; read the token from YESCODE_API_KEY only")
}

// initRuntime loads .env and points logging at stderr before any command runs.
func initRuntime(_ *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	setupLogging(os.Stderr, logLevel(""))
	return nil
}

// setupLogging routes the global logger to w at the given level.
func setupLogging(w io.Writer, level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
	out := w
	if f, ok := w.(*os.File); ok && (f == os.Stderr || f == os.Stdout) {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.Kitchen,
			NoColor:    !term.IsTerminal(int(f.Fd())), //nolint:gosec // fd fits in int
		}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// logLevel resolves --quiet, then --log-level, then the configured level.
func logLevel(configured string) zerolog.Level {
	if flagQuiet {
		return zerolog.ErrorLevel
	}
	for _, name := range []string{flagLogLevel, configured} {
		if name == "" {
			continue
		}
		if lvl, err := zerolog.ParseLevel(strings.ToLower(name)); err == nil {
			return lvl
		}
	}
	return zerolog.WarnLevel
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.Path()
}

// loadConfig reads the config file plus environment overrides and applies
// its log level unless a flag already chose one.
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadPath(configPath())
	if err != nil {
		return cfg, err
	}
	if flagLogLevel == "" && !flagQuiet {
		zerolog.SetGlobalLevel(logLevel(cfg.Log.Level))
	}
	return cfg, nil
}

// openStore opens the secret store. The returned KV is nil with --no-store.
func openStore() (store.KV, func(), error) {
	if flagNoStore {
		return nil, func() {}, nil
	}
	s, err := store.Open(config.StorePath())
	if err != nil {
		return nil, func() {}, err
	}
	return s, func() { _ = s.Close() }, nil
}

// openStoreOrWarn is openStore for commands that can run on the env token alone.
func openStoreOrWarn() (store.KV, func()) {
	kv, closeFn, err := openStore()
	if err != nil {
		log.Warn().Err(err).Msg("secret store unavailable, using " + config.EnvAPIKey + " only")
	}
	return kv, closeFn
}

func keyResolver(kv store.KV) store.KeyResolver {
	return store.KeyResolver{KV: kv, EnvVar: config.EnvAPIKey}
}

func newClient(cfg config.Config) *balance.Client {
	return balance.NewClient(balance.WithTimeout(cfg.RequestTimeout()))
}
