package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/theirongolddev/ycstats/internal/cli"
	"github.com/theirongolddev/ycstats/internal/config"
	"github.com/theirongolddev/ycstats/internal/store"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "First-time setup wizard",
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(_ *cobra.Command, _ []string) error {
	kv, closeStore, err := openStore()
	if err != nil {
		return fmt.Errorf("opening secret store: %w", err)
	}
	defer closeStore()
	if kv == nil {
		return store.ErrNoStore
	}

	cfg, err := config.LoadFrom(configPath())
	if err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	keys := keyResolver(kv)

	fmt.Println()
	fmt.Println("  Welcome to ycstats!")
	fmt.Println()
	fmt.Println("  Configure your yesCode API token to start tracking your balance.")
	if existing, _ := keys.APIKey(); existing != "" {
		fmt.Printf("  Current token: %s (%s)\n", cli.MaskSecret(existing), keys.Source())
	}
	fmt.Println()

	// 1. Welcome
	fmt.Print("  Set up now? [Y/n] ")
	answer, err := readLine(reader)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if a := strings.ToLower(answer); a == "n" || a == "no" {
		if err := store.MarkSetupSeen(kv); err != nil {
			return err
		}
		fmt.Println()
		fmt.Println("  Skipped. Run `ycstats setup` anytime.")
		return nil
	}
	fmt.Println()

	// 2. Token
	fmt.Println("  1. yesCode API token")
	fmt.Println("     Stored in " + config.StorePath() + ", never in the config file.")
	var token string
	for {
		token, err = readSecret(reader, "     token (cr_...) > ")
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if token == "" {
			// Not remembered: setup is offered again next time.
			fmt.Println()
			fmt.Println("  Cancelled.")
			return nil
		}
		verr := store.ValidateToken(token)
		if verr == nil {
			break
		}
		if errors.Is(err, io.EOF) {
			return verr
		}
		fmt.Printf("     %s\n", verr)
	}
	if err := store.SaveAPIKey(kv, token); err != nil {
		return err
	}
	if err := store.MarkSetupSeen(kv); err != nil {
		return err
	}
	fmt.Println()

	// 3. Daily limit
	fmt.Println("  2. Daily subscription limit (USD)")
	fmt.Println("     Used to compute subscription usage.")
	for {
		fmt.Printf("     [%g] > ", cfg.API.DailySubscriptionLimit)
		line, err := readLine(reader)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if line == "" {
			break
		}
		limit, perr := strconv.ParseFloat(line, 64)
		if perr != nil || limit <= 0 {
			fmt.Println("     Enter a number greater than 0.")
			if errors.Is(err, io.EOF) {
				break
			}
			continue
		}
		if err := setConfigValue(configPath(), "daily-limit", line); err != nil {
			return err
		}
		break
	}

	fmt.Println()
	fmt.Printf("  Token saved: %s\n", cli.MaskSecret(token))
	fmt.Printf("  Config: %s\n", configPath())
	fmt.Println("  Run `ycstats` to check your balance, or `ycstats tui` for the dashboard.")
	fmt.Println()
	return nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	return strings.TrimSpace(line), err
}

// readSecret reads without echo when stdin is a terminal.
func readSecret(r *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd()) //nolint:gosec // fd fits in int
	if !term.IsTerminal(fd) {
		return readLine(r)
	}
	b, err := term.ReadPassword(fd)
	fmt.Println()
	return strings.TrimSpace(string(b)), err
}
