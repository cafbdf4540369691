package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/ycstats/internal/balance"
	"github.com/theirongolddev/ycstats/internal/panel"
)

var flagBarWaybar bool

var barCmd = &cobra.Command{
	Use:   "bar",
	Short: "Print a one-line balance indicator for status bars",
	Long: "Print the balance indicator for waybar, polybar, tmux and similar.\n" +
		"Failures are reported in the output and never change the exit code.",
	RunE: runBar,
}

func init() {
	barCmd.Flags().BoolVar(&flagBarWaybar, "waybar", false, "Emit waybar custom-module JSON")
	rootCmd.AddCommand(barCmd)
}

func runBar(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	kv, closeStore := openStoreOrWarn()
	defer closeStore()

	stats, err := fetchOnce(cfg, keyResolver(kv))
	if err != nil {
		log.Warn().Err(err).Msg("balance fetch failed")
		return printBar(panel.Waybar{
			Text:    "yesCode: error",
			Tooltip: "yesCode usage\n\n" + balance.Describe(err),
			Class:   panel.Error.String(),
		})
	}
	return printBar(panel.WaybarFor(stats))
}

func printBar(w panel.Waybar) error {
	if flagBarWaybar {
		return json.NewEncoder(os.Stdout).Encode(w)
	}
	fmt.Println(w.Text)
	return nil
}
