// Package scheduler runs the balance poll immediately and then on a fixed interval.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// ErrInvalidInterval is returned for intervals shorter than one second.
var ErrInvalidInterval = errors.New("scheduler: interval must be at least one second")

// Scheduler owns at most one armed timer at a time.
// Ticks are fire-and-forget: a slow tick does not delay or cancel the next one
// unless skip-overlap is enabled.
type Scheduler struct {
	mu          sync.Mutex
	cron        *cron.Cron
	interval    time.Duration
	skipOverlap bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSkipOverlap drops a tick when the previous one is still in flight.
func WithSkipOverlap(skip bool) Option {
	return func(s *Scheduler) { s.skipOverlap = skip }
}

// New returns an idle Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetSkipOverlap changes overlap handling. It applies from the next Start.
func (s *Scheduler) SetSkipOverlap(skip bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipOverlap = skip
}

// SkipOverlap reports whether overlapping ticks are dropped.
func (s *Scheduler) SkipOverlap() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipOverlap
}

// Start cancels any existing timer, runs fn once right away and then every
// interval until Stop or the next Start.
func (s *Scheduler) Start(fn func(), interval time.Duration) error {
	if fn == nil {
		return errors.New("scheduler: nil poll function")
	}
	if interval < time.Second {
		return fmt.Errorf("%w (got %s)", ErrInvalidInterval, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	wrappers := []cron.JobWrapper{cron.Recover(cronLogger{})}
	if s.skipOverlap {
		wrappers = append(wrappers, cron.SkipIfStillRunning(cronLogger{}))
	}
	job := cron.NewChain(wrappers...).Then(cron.FuncJob(fn))

	c := cron.New()
	c.Schedule(cron.Every(interval), job)
	c.Start()

	s.cron = c
	s.interval = interval

	log.Debug().
		Dur("interval", interval).
		Bool("skip_overlap", s.skipOverlap).
		Msg("poll scheduler started")

	go job.Run()
	return nil
}

// Stop disarms the timer. In-flight ticks are left to finish on their own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.cron == nil {
		return
	}
	s.cron.Stop()
	s.cron = nil
	s.interval = 0
	log.Debug().Msg("poll scheduler stopped")
}

// Running reports whether a timer is armed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// Interval returns the armed interval, or zero when idle.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// NextRun returns the next scheduled tick, or the zero time when idle.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) entryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return 0
	}
	return len(s.cron.Entries())
}

// cronLogger routes cron's internal logging to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
