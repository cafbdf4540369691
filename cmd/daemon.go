package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/ycstats/internal/cli"
	"github.com/theirongolddev/ycstats/internal/config"
	"github.com/theirongolddev/ycstats/internal/daemon"
	"github.com/theirongolddev/ycstats/internal/metrics"
	"github.com/theirongolddev/ycstats/internal/panel"
)

type daemonRuntimeState struct {
	PID        int       `json:"pid"`
	Addr       string    `json:"addr"`
	StartedAt  time.Time `json:"started_at"`
	ConfigPath string    `json:"config_path"`
}

var (
	flagDaemonAddr         string
	flagDaemonInterval     time.Duration
	flagDaemonDetach       bool
	flagDaemonPIDFile      string
	flagDaemonLogFile      string
	flagDaemonEventsBuffer int
	flagDaemonChild        bool
	flagEventsLimit        int
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run a background balance daemon with HTTP, SSE and WebSocket endpoints",
	RunE:  runDaemon,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon process and API status",
	RunE:  runDaemonStatus,
}

var daemonEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent balance events from the running daemon",
	RunE:  runDaemonEvents,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runDaemonStop,
}

func init() {
	defaultPID := filepath.Join(config.CacheDir(), "ycstatsd.pid")
	defaultLog := filepath.Join(config.CacheDir(), "ycstatsd.log")
	defaults := config.DefaultConfig()

	daemonCmd.PersistentFlags().StringVar(&flagDaemonAddr, "addr", defaults.Daemon.Addr, "HTTP listen address (overrides config)")
	daemonCmd.PersistentFlags().DurationVar(&flagDaemonInterval, "interval", defaults.RefreshInterval(), "Polling interval (overrides config)")
	daemonCmd.PersistentFlags().StringVar(&flagDaemonPIDFile, "pid-file", defaultPID, "PID file path")
	daemonCmd.PersistentFlags().StringVar(&flagDaemonLogFile, "log-file", defaultLog, "Log file path for detached mode")
	daemonCmd.PersistentFlags().IntVar(&flagDaemonEventsBuffer, "events-buffer", defaults.Daemon.EventsBuffer, "Max in-memory events retained (overrides config)")

	daemonCmd.Flags().BoolVar(&flagDaemonDetach, "detach", false, "Run daemon as a background process")
	daemonCmd.Flags().BoolVar(&flagDaemonChild, "child", false, "Internal: mark detached child process")
	_ = daemonCmd.Flags().MarkHidden("child")

	daemonEventsCmd.Flags().IntVarP(&flagEventsLimit, "limit", "n", 20, "Show at most this many events (0 = all)")

	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonEventsCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	if flagDaemonDetach && flagDaemonChild {
		return errors.New("invalid daemon launch mode")
	}

	if flagDaemonDetach {
		return startDaemonDetached()
	}

	return runDaemonForeground(cmd)
}

func startDaemonDetached() error {
	if err := ensureDaemonNotRunning(flagDaemonPIDFile); err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	args := filterDetachArg(os.Args[1:])
	args = append(args, "--child")

	if err := os.MkdirAll(filepath.Dir(flagDaemonPIDFile), 0o750); err != nil {
		return fmt.Errorf("create daemon directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(flagDaemonLogFile), 0o750); err != nil {
		return fmt.Errorf("create daemon log directory: %w", err)
	}

	//nolint:gosec // daemon log path is configured by the local user
	logf, err := os.OpenFile(flagDaemonLogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open daemon log file: %w", err)
	}
	defer func() { _ = logf.Close() }()

	cmd := exec.Command(exe, args...) //nolint:gosec // exe/args come from current process invocation
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.Stdin = nil
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start detached daemon: %w", err)
	}

	fmt.Printf("  Started daemon (pid %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", flagDaemonPIDFile)
	fmt.Printf("  API: http://%s/v1/status\n", daemonAddr())
	fmt.Printf("  Log: %s\n", flagDaemonLogFile)
	return nil
}

// daemonFlagOverrides applies explicitly set daemon flags on top of cfg.
func daemonFlagOverrides(cmd *cobra.Command) func(*config.Config) {
	flags := cmd.Flags()
	return func(cfg *config.Config) {
		if flags.Changed("addr") {
			cfg.Daemon.Addr = flagDaemonAddr
		}
		if flags.Changed("interval") {
			cfg.API.RefreshIntervalSec = int(flagDaemonInterval.Seconds())
		}
		if flags.Changed("events-buffer") {
			cfg.Daemon.EventsBuffer = flagDaemonEventsBuffer
		}
	}
}

func runDaemonForeground(cmd *cobra.Command) error {
	if err := ensureDaemonNotRunning(flagDaemonPIDFile); err != nil {
		return err
	}

	override := daemonFlagOverrides(cmd)
	load := func() (config.Config, error) {
		cfg, err := config.LoadPath(configPath())
		if err != nil {
			return cfg, err
		}
		override(&cfg)
		return cfg, cfg.Validate()
	}

	cfg, err := load()
	if err != nil {
		return err
	}
	if flagLogLevel == "" && !flagQuiet {
		setupLogging(os.Stderr, logLevel(cfg.Log.Level))
	}

	if err := os.MkdirAll(filepath.Dir(flagDaemonPIDFile), 0o750); err != nil {
		return fmt.Errorf("create daemon directory: %w", err)
	}

	pid := os.Getpid()
	if err := writePID(flagDaemonPIDFile, pid); err != nil {
		return err
	}
	defer func() { _ = os.Remove(flagDaemonPIDFile) }()

	state := daemonRuntimeState{
		PID:        pid,
		Addr:       cfg.Daemon.Addr,
		StartedAt:  time.Now(),
		ConfigPath: configPath(),
	}
	_ = writeState(statePath(flagDaemonPIDFile), state)
	defer func() { _ = os.Remove(statePath(flagDaemonPIDFile)) }()

	kv, closeStore := openStoreOrWarn()
	defer closeStore()

	svc := daemon.New(cfg, daemon.Deps{
		Client:     newClient(cfg),
		Keys:       keyResolver(kv),
		Metrics:    metrics.New(),
		ConfigPath: configPath(),
		Load:       load,
	})

	fmt.Printf("  ycstats daemon listening on http://%s\n", cfg.Daemon.Addr)
	fmt.Printf("  Polling %s every %s\n", cfg.API.Endpoint, cli.FormatInterval(cfg.RefreshInterval()))
	fmt.Printf("  Stop with: ycstats daemon stop --pid-file %s\n", flagDaemonPIDFile)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("daemon stopped")
	return nil
}

// daemonAddr is the address a detached child will listen on.
func daemonAddr() string {
	if flagDaemonAddr != config.DefaultConfig().Daemon.Addr {
		return flagDaemonAddr
	}
	if cfg, err := config.LoadPath(configPath()); err == nil {
		return cfg.Daemon.Addr
	}
	return flagDaemonAddr
}

func runDaemonStatus(_ *cobra.Command, _ []string) error {
	pid, err := readPID(flagDaemonPIDFile)
	if err != nil {
		fmt.Printf("  Daemon: not running (pid file not found)\n")
		return nil
	}

	alive := processAlive(pid)
	if !alive {
		fmt.Printf("  Daemon: stale pid file (pid %d not alive)\n", pid)
		return nil
	}

	addr := daemonAddr()
	if st, err := readState(statePath(flagDaemonPIDFile)); err == nil && st.Addr != "" {
		addr = st.Addr
	}

	fmt.Printf("  Daemon PID: %d\n", pid)
	fmt.Printf("  Address: http://%s\n", addr)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/v1/status") //nolint:noctx // short status probe
	if err != nil {
		fmt.Printf("  API status: unreachable (%v)\n", err)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("  API status: HTTP %d\n", resp.StatusCode)
		return nil
	}

	var st daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		fmt.Printf("  API status: malformed response (%v)\n", err)
		return nil
	}

	lastPoll := "pending"
	if !st.LastPollAt.IsZero() {
		lastPoll = st.LastPollAt.Local().Format(time.RFC3339)
	}
	nextPoll := "-"
	if !st.NextPollAt.IsZero() {
		nextPoll = st.NextPollAt.Local().Format(time.RFC3339)
	}

	pairs := [][2]string{
		{"Endpoint", st.Endpoint},
		{"Interval", cli.FormatInterval(time.Duration(st.PollIntervalSec) * time.Second)},
		{"Last poll", lastPoll},
		{"Next poll", nextPoll},
		{"Polls", fmt.Sprintf("%d (%d failed)", st.PollCount, st.ErrorCount)},
		{"Subscribers", fmt.Sprintf("%d", st.SubscriberCount)},
		{"Balance", st.Indicator},
	}
	if !st.Configured && st.PollCount > 0 {
		pairs = append(pairs, [2]string{"Token", "not configured"})
	}
	if st.LastError != "" {
		pairs = append(pairs, [2]string{"Last error", st.LastError + " (" + st.LastErrorKind + ")"})
	}
	fmt.Print(cli.RenderKV(pairs))
	return nil
}

func runDaemonEvents(_ *cobra.Command, _ []string) error {
	addr := daemonAddr()
	if st, err := readState(statePath(flagDaemonPIDFile)); err == nil && st.Addr != "" {
		addr = st.Addr
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/v1/events") //nolint:noctx // short probe
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", addr, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned HTTP %d", resp.StatusCode)
	}

	var events []daemon.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return fmt.Errorf("decode events: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("  No events yet.")
		return nil
	}

	fmt.Print(cli.RenderTable(eventsTable(events, flagEventsLimit)))
	return nil
}

// eventsTable lists events newest first.
func eventsTable(events []daemon.Event, limit int) cli.Table {
	t := cli.Table{
		Title:      "Events",
		Headers:    []string{"Time", "Type", "Total", "Change", "Detail"},
		RightAlign: []bool{false, false, true, true, false},
	}
	for i := len(events) - 1; i >= 0; i-- {
		if limit > 0 && len(t.Rows) == limit {
			break
		}
		ev := events[i]
		total, change, detail := "-", "-", ""
		if ev.Stats != nil {
			total = cli.FormatCost(ev.Stats.TotalBalance)
			detail = panel.Percent(ev.Stats.SubscriptionUsagePercentage) + " used"
		}
		if ev.Delta != nil {
			change = cli.FormatDelta(ev.Delta.TotalBalance)
		}
		if ev.Type == daemon.EventPollError {
			detail = ev.Error
		}
		t.Rows = append(t.Rows, []string{
			ev.Timestamp.Local().Format("2006-01-02 15:04:05"),
			ev.Type,
			total,
			change,
			detail,
		})
	}
	return t
}

func runDaemonStop(_ *cobra.Command, _ []string) error {
	pid, err := readPID(flagDaemonPIDFile)
	if err != nil {
		return errors.New("daemon is not running")
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find daemon process: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon process: %w", err)
	}

	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			_ = os.Remove(flagDaemonPIDFile)
			_ = os.Remove(statePath(flagDaemonPIDFile))
			fmt.Printf("  Stopped daemon (pid %d)\n", pid)
			return nil
		}
		time.Sleep(150 * time.Millisecond)
	}

	return fmt.Errorf("daemon (pid %d) did not exit in time", pid)
}

func filterDetachArg(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--detach" || strings.HasPrefix(a, "--detach=") {
			continue
		}
		out = append(out, a)
	}
	return out
}

func ensureDaemonNotRunning(pidFile string) error {
	pid, err := readPID(pidFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if processAlive(pid) {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	_ = os.Remove(pidFile)
	_ = os.Remove(statePath(pidFile))
	return nil
}

func writePID(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

func readPID(path string) (int, error) {
	//nolint:gosec // daemon pid path is configured by the local user
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s", path)
	}
	return pid, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func statePath(pidFile string) string {
	return pidFile + ".json"
}

func writeState(path string, st daemonRuntimeState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func readState(path string) (daemonRuntimeState, error) {
	var st daemonRuntimeState
	//nolint:gosec // daemon state path is configured by the local user
	data, err := os.ReadFile(path)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, err
	}
	return st, nil
}
