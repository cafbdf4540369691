package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/ycstats/internal/cli"
	"github.com/theirongolddev/ycstats/internal/config"
	"github.com/theirongolddev/ycstats/internal/store"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Long: "Change one setting and save it. A running daemon picks the change up.\n\n" +
		"Keys: token, " + strings.Join(config.SettableKeys, ", "),
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	kv, closeStore := openStoreOrWarn()
	defer closeStore()
	keys := keyResolver(kv)

	path := configPath()
	fmt.Printf("  Config file: %s\n", path)
	if _, err := os.Stat(path); err == nil {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	fmt.Println()

	token, err := keys.APIKey()
	if err != nil {
		return err
	}
	source := keys.Source()
	if source == "env" {
		source = "environment (" + config.EnvAPIKey + ")"
	}
	if source == "" {
		source = "-"
	}

	fmt.Println(cli.RenderTitle("API"))
	fmt.Print(cli.RenderKV([][2]string{
		{"Endpoint", cfg.API.Endpoint},
		{"Refresh interval", cli.FormatInterval(cfg.RefreshInterval())},
		{"Daily limit", cli.FormatCost(cfg.API.DailySubscriptionLimit)},
		{"Request timeout", timeoutText(cfg)},
		{"Token", cli.MaskSecret(token)},
		{"Token source", source},
	}))
	fmt.Println()

	fmt.Println(cli.RenderTitle("DAEMON"))
	fmt.Print(cli.RenderKV([][2]string{
		{"Address", cfg.Daemon.Addr},
		{"Events buffer", fmt.Sprintf("%d", cfg.Daemon.EventsBuffer)},
		{"Skip overlapping ticks", fmt.Sprintf("%v", cfg.Daemon.SkipOverlappingTicks)},
	}))
	fmt.Println()

	fmt.Println(cli.RenderTitle("OTHER"))
	fmt.Print(cli.RenderKV([][2]string{
		{"Theme", cfg.Appearance.Theme},
		{"Log level", cfg.Log.Level},
		{"State database", config.StorePath()},
	}))
	fmt.Println()

	fmt.Println("  Run `ycstats setup` or `ycstats config set <key> <value>` to change settings.")
	return nil
}

func timeoutText(cfg config.Config) string {
	if cfg.API.TimeoutSec == 0 {
		return "none"
	}
	return cli.FormatInterval(cfg.RequestTimeout())
}

func runConfigSet(_ *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	if key == "token" {
		kv, closeStore, err := openStore()
		if err != nil {
			return fmt.Errorf("opening secret store: %w", err)
		}
		defer closeStore()
		if err := store.SaveAPIKey(kv, value); err != nil {
			return err
		}
		if err := store.MarkSetupSeen(kv); err != nil {
			return err
		}
		fmt.Printf("  Saved token %s\n", cli.MaskSecret(strings.TrimSpace(value)))
		return nil
	}

	if err := setConfigValue(configPath(), key, value); err != nil {
		return err
	}
	fmt.Printf("  Set %s = %s in %s\n", key, strings.TrimSpace(value), configPath())
	return nil
}

// setConfigValue changes one key in the config file. Environment overrides
// are not applied, so they never leak into the file.
func setConfigValue(path, key, value string) error {
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return err
	}
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := config.SaveTo(path, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}
