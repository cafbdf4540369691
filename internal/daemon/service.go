// Package daemon provides the long-running background balance monitor service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/theirongolddev/ycstats/internal/balance"
	"github.com/theirongolddev/ycstats/internal/config"
	"github.com/theirongolddev/ycstats/internal/metrics"
	"github.com/theirongolddev/ycstats/internal/model"
	"github.com/theirongolddev/ycstats/internal/panel"
	"github.com/theirongolddev/ycstats/internal/pipeline"
	"github.com/theirongolddev/ycstats/internal/scheduler"
)

// Event types.
const (
	EventSnapshot     = "snapshot"
	EventBalanceDelta = "balance_delta"
	EventPollError    = "poll_error"
)

// Event is emitted whenever the balance moves or a poll fails.
type Event struct {
	ID        int64        `json:"id"`
	Type      string       `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Stats     *model.Stats `json:"stats,omitempty"`
	Delta     *model.Delta `json:"delta,omitempty"`
	Error     string       `json:"error,omitempty"`
	ErrorKind string       `json:"error_kind,omitempty"`
}

// Status is served at /v1/status.
type Status struct {
	StartedAt       time.Time    `json:"started_at"`
	LastPollAt      time.Time    `json:"last_poll_at"`
	LastSuccessAt   time.Time    `json:"last_success_at"`
	NextPollAt      time.Time    `json:"next_poll_at"`
	PollIntervalSec int          `json:"poll_interval_sec"`
	PollCount       int64        `json:"poll_count"`
	ErrorCount      int64        `json:"error_count"`
	Endpoint        string       `json:"endpoint"`
	Configured      bool         `json:"configured"`
	Stats           *model.Stats `json:"stats,omitempty"`
	Indicator       string       `json:"indicator"`
	LastError       string       `json:"last_error,omitempty"`
	LastErrorKind   string       `json:"last_error_kind,omitempty"`
	EventCount      int          `json:"event_count"`
	SubscriberCount int          `json:"subscriber_count"`
}

// Deps are the collaborators the service polls through.
type Deps struct {
	Client  pipeline.Fetcher
	Keys    pipeline.KeySource
	Metrics *metrics.Metrics // optional

	// ConfigPath is watched for changes; empty disables reloading.
	ConfigPath string
	// Load re-reads configuration after ConfigPath changes.
	Load func() (config.Config, error)
}

// Service provides the daemon runtime and HTTP API.
type Service struct {
	deps      Deps
	sched     *scheduler.Scheduler
	refresher *pipeline.Refresher

	mu            sync.RWMutex
	cfg           config.Config
	runCtx        context.Context
	startedAt     time.Time
	lastPollAt    time.Time
	lastSuccessAt time.Time
	pollCount     int64
	errorCount    int64
	configured    bool
	lastError     string
	lastErrorKind string
	stats         *model.Stats
	nextEventID   int64
	events        []Event

	nextSubID int
	subs      map[int]chan Event
}

// New returns a new daemon service with the provided config.
func New(cfg config.Config, deps Deps) *Service {
	if cfg.Daemon.EventsBuffer < 1 {
		cfg.Daemon.EventsBuffer = 200
	}
	if cfg.Daemon.Addr == "" {
		cfg.Daemon.Addr = config.DefaultConfig().Daemon.Addr
	}

	s := &Service{
		deps:      deps,
		sched:     scheduler.New(scheduler.WithSkipOverlap(cfg.Daemon.SkipOverlappingTicks)),
		cfg:       cfg,
		runCtx:    context.Background(),
		startedAt: time.Now(),
		subs:      make(map[int]chan Event),
	}

	var observer pipeline.Observer
	if deps.Metrics != nil {
		observer = deps.Metrics
	}
	s.refresher = &pipeline.Refresher{
		Client:   deps.Client,
		Keys:     deps.Keys,
		Observer: observer,
		Settings: s.settings,
	}
	return s
}

// Run serves HTTP, polls on schedule and watches the config file until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	s.mu.Lock()
	s.runCtx = ctx
	addr := s.cfg.Daemon.Addr
	interval := s.cfg.RefreshInterval()
	s.mu.Unlock()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("daemon listen on %s: %w", addr, err)
	}

	if err := s.sched.Start(s.tick, interval); err != nil {
		_ = ln.Close()
		return err
	}

	server := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("daemon http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.sched.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if s.deps.ConfigPath != "" && s.deps.Load != nil {
		g.Go(func() error {
			return config.Watch(ctx, s.deps.ConfigPath, config.DefaultDebounce, s.reload)
		})
	}

	log.Info().Str("addr", ln.Addr().String()).Dur("interval", interval).Msg("daemon started")

	return g.Wait()
}

func (s *Service) settings() pipeline.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pipeline.Settings{
		Endpoint:   s.cfg.API.Endpoint,
		DailyLimit: s.cfg.API.DailySubscriptionLimit,
	}
}

func (s *Service) pollContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runCtx
}

// tick runs one poll and folds its outcome into the service state.
func (s *Service) tick() {
	stats, err := s.refresher.Refresh(s.pollContext())
	s.record(stats, err, time.Now())
}

// record folds one poll outcome into the state. IDs are assigned and events
// appended under one lock so the ring stays ordered across overlapping ticks.
func (s *Service) record(stats *model.Stats, err error, now time.Time) {
	var (
		ev      Event
		publish bool
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPollAt = now
	s.pollCount++

	switch {
	case err != nil:
		s.errorCount++
		s.lastError = balance.Describe(err)
		s.lastErrorKind = balance.Kind(err)
		s.nextEventID++
		ev = Event{
			ID:        s.nextEventID,
			Type:      EventPollError,
			Timestamp: now,
			Error:     s.lastError,
			ErrorKind: s.lastErrorKind,
		}
		publish = true

	case stats == nil:
		s.configured = false

	default:
		prev := s.stats
		s.configured = true
		s.lastSuccessAt = now
		s.lastError = ""
		s.lastErrorKind = ""
		s.stats = stats

		if prev == nil {
			s.nextEventID++
			ev = Event{
				ID:        s.nextEventID,
				Type:      EventSnapshot,
				Timestamp: now,
				Stats:     stats,
			}
			publish = true
		} else if delta := model.Diff(*prev, *stats); !delta.IsZero() {
			s.nextEventID++
			ev = Event{
				ID:        s.nextEventID,
				Type:      EventBalanceDelta,
				Timestamp: now,
				Stats:     stats,
				Delta:     &delta,
			}
			publish = true
		}
	}

	if publish {
		s.publishLocked(ev)
	}
}

// TimeoutSetter is implemented by fetchers whose request deadline can change
// at runtime, such as *balance.Client.
type TimeoutSetter interface {
	SetTimeout(d time.Duration)
}

// Apply swaps in new settings. An interval or overlap-policy change restarts
// the timer, which polls immediately; any other change triggers an immediate
// poll. A new request timeout applies from the next fetch.
func (s *Service) Apply(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.cfg
	// Listener and buffer settings only take effect on restart.
	cfg.Daemon.Addr = prev.Daemon.Addr
	cfg.Daemon.EventsBuffer = prev.Daemon.EventsBuffer
	s.cfg = cfg
	s.mu.Unlock()

	if cfg.RequestTimeout() != prev.RequestTimeout() {
		if ts, ok := s.deps.Client.(TimeoutSetter); ok {
			ts.SetTimeout(cfg.RequestTimeout())
			log.Info().Dur("timeout", cfg.RequestTimeout()).Msg("request timeout changed")
		} else {
			log.Warn().Msg("request timeout change needs a daemon restart")
		}
	}

	skipChanged := cfg.Daemon.SkipOverlappingTicks != prev.Daemon.SkipOverlappingTicks
	if skipChanged {
		s.sched.SetSkipOverlap(cfg.Daemon.SkipOverlappingTicks)
	}

	intervalChanged := cfg.RefreshInterval() != prev.RefreshInterval()
	if (intervalChanged || skipChanged) && s.sched.Running() {
		log.Info().
			Dur("from", prev.RefreshInterval()).
			Dur("to", cfg.RefreshInterval()).
			Bool("skip_overlap", cfg.Daemon.SkipOverlappingTicks).
			Msg("poll schedule changed, restarting scheduler")
		return s.sched.Start(s.tick, cfg.RefreshInterval())
	}

	go s.tick()
	return nil
}

func (s *Service) reload() {
	cfg, err := s.deps.Load()
	if err != nil {
		log.Warn().Err(err).Msg("config reload failed, keeping previous settings")
		return
	}
	if err := s.Apply(cfg); err != nil {
		log.Warn().Err(err).Msg("config reload rejected")
	}
}

// RefreshNow polls immediately and returns the resulting status.
func (s *Service) RefreshNow() Status {
	s.tick()
	return s.snapshotStatus()
}

func (s *Service) publishEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked(ev)
}

// publishLocked appends ev to the ring and fans it out. s.mu must be held.
func (s *Service) publishLocked(ev Event) {
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.Daemon.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.Daemon.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Service) snapshotStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		StartedAt:       s.startedAt,
		LastPollAt:      s.lastPollAt,
		LastSuccessAt:   s.lastSuccessAt,
		NextPollAt:      s.sched.NextRun(),
		PollIntervalSec: s.cfg.API.RefreshIntervalSec,
		PollCount:       s.pollCount,
		ErrorCount:      s.errorCount,
		Endpoint:        s.cfg.API.Endpoint,
		Configured:      s.configured,
		Stats:           s.stats,
		Indicator:       panel.Indicator(s.stats),
		LastError:       s.lastError,
		LastErrorKind:   s.lastErrorKind,
		EventCount:      len(s.events),
		SubscriberCount: len(s.subs),
	}
}

// currentEvent is the synthetic event sent to new stream subscribers.
func (s *Service) currentEvent() Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Event{
		Type:      EventSnapshot,
		Timestamp: time.Now(),
		Stats:     s.stats,
	}
}

func (s *Service) addSubscriber(ch chan Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Service) removeSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}
