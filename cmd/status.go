package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/theirongolddev/ycstats/internal/balance"
	"github.com/theirongolddev/ycstats/internal/cli"
	"github.com/theirongolddev/ycstats/internal/config"
	"github.com/theirongolddev/ycstats/internal/model"
	"github.com/theirongolddev/ycstats/internal/panel"
	"github.com/theirongolddev/ycstats/internal/pipeline"
	"github.com/theirongolddev/ycstats/internal/store"
)

const fetchTimeout = 30 * time.Second

var flagStatusFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Fetch the balance once and print it",
	RunE:  runStatus,
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, statusCmd} {
		c.Flags().StringVarP(&flagStatusFormat, "format", "f", "text", "Output format: text, json, yaml")
	}
	rootCmd.AddCommand(statusCmd)
}

// statusReport is the machine-readable form of `ycstats status`.
type statusReport struct {
	Configured bool         `json:"configured" yaml:"configured"`
	Endpoint   string       `json:"endpoint" yaml:"endpoint"`
	Indicator  string       `json:"indicator" yaml:"indicator"`
	Severity   string       `json:"severity" yaml:"severity"`
	Stats      *model.Stats `json:"stats,omitempty" yaml:"stats,omitempty"`
}

func runStatus(_ *cobra.Command, _ []string) error {
	switch flagStatusFormat {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown format %q (one of: text, json, yaml)", flagStatusFormat)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	kv, closeStore := openStoreOrWarn()
	defer closeStore()

	stats, err := fetchOnce(cfg, keyResolver(kv))
	if err != nil {
		return errors.New(balance.Describe(err))
	}

	report := statusReport{
		Configured: stats != nil,
		Endpoint:   cfg.API.Endpoint,
		Indicator:  panel.Indicator(stats),
		Severity:   panel.IndicatorSeverity(stats).String(),
		Stats:      stats,
	}

	switch flagStatusFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer func() { _ = enc.Close() }()
		return enc.Encode(report)
	}

	if stats == nil {
		printNotConfigured()
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("YESCODE BALANCE"))
	fmt.Println()
	fmt.Print(cli.RenderRows(panel.Rows(stats)))
	fmt.Println()
	return nil
}

// fetchOnce runs a single poll. It returns (nil, nil) when no token is configured.
func fetchOnce(cfg config.Config, keys store.KeyResolver) (*model.Stats, error) {
	r := &pipeline.Refresher{
		Client: newClient(cfg),
		Keys:   keys,
		Settings: func() pipeline.Settings {
			return pipeline.Settings{
				Endpoint:   cfg.API.Endpoint,
				DailyLimit: cfg.API.DailySubscriptionLimit,
			}
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	return r.Refresh(ctx)
}

func printNotConfigured() {
	fmt.Println()
	fmt.Println("  No yesCode API token configured.")
	fmt.Println()
	fmt.Println("  Configure it with one of:")
	fmt.Println("    ycstats setup                                  (interactive)")
	fmt.Println("    ycstats config set token cr_...                (stored locally)")
	fmt.Printf("    %s=cr_... ycstats status             (one-shot)\n", config.EnvAPIKey)
	fmt.Println()
}
