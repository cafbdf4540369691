package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/theirongolddev/ycstats/internal/balance"
	"github.com/theirongolddev/ycstats/internal/model"
)

// Poll outcomes reported to an Observer besides the balance error kinds.
const (
	ResultOK      = "ok"
	ResultSkipped = "skipped"
)

// Fetcher is the balance endpoint client.
type Fetcher interface {
	FetchBalance(ctx context.Context, endpoint, apiKey string) (*balance.RawBalance, error)
}

// KeySource yields the current API key; "" means not configured.
type KeySource interface {
	APIKey() (string, error)
}

// KeyFunc adapts a function to KeySource.
type KeyFunc func() (string, error)

// APIKey implements KeySource.
func (f KeyFunc) APIKey() (string, error) { return f() }

// Settings are the poll parameters read at the start of every tick.
type Settings struct {
	Endpoint   string
	DailyLimit float64
}

// Observer receives poll outcomes, typically for metrics.
type Observer interface {
	ObservePoll(result string, elapsed time.Duration)
	ObserveStats(stats model.Stats)
}

// Refresher performs a single fetch-and-derive tick.
type Refresher struct {
	Client   Fetcher
	Settings func() Settings
	Keys     KeySource
	Observer Observer // optional

	// OnStats is called with every freshly derived Stats.
	OnStats func(model.Stats)
	// OnError is called with every failed tick. Not-configured ticks are not failures.
	OnError func(error)
}

// Refresh runs one tick. It returns (nil, nil) when no API key is configured.
func (r *Refresher) Refresh(ctx context.Context) (*model.Stats, error) {
	start := time.Now()
	tickID := uuid.NewString()
	settings := r.Settings()

	logger := log.With().Str("tick_id", tickID).Str("endpoint", settings.Endpoint).Logger()

	key, err := r.Keys.APIKey()
	if err != nil {
		err = fmt.Errorf("reading API key: %w", err)
		r.fail(logger, err, start)
		return nil, err
	}

	raw, err := r.Client.FetchBalance(ctx, settings.Endpoint, key)
	if err != nil {
		r.fail(logger, err, start)
		return nil, err
	}
	if raw == nil {
		logger.Debug().Msg("balance poll skipped: no API key configured")
		r.observe(ResultSkipped, start)
		return nil, nil
	}

	stats := DeriveStats(*raw, settings.DailyLimit)
	logger.Debug().
		Float64("total_balance", stats.TotalBalance).
		Float64("usage_pct", stats.SubscriptionUsagePercentage).
		Dur("elapsed", time.Since(start)).
		Msg("balance poll ok")

	r.observe(ResultOK, start)
	if r.Observer != nil {
		r.Observer.ObserveStats(stats)
	}
	if r.OnStats != nil {
		r.OnStats(stats)
	}
	return &stats, nil
}

func (r *Refresher) fail(logger zerolog.Logger, err error, start time.Time) {
	kind := balance.Kind(err)
	logger.Warn().Err(err).Str("kind", kind).Msg("balance poll failed")
	r.observe(kind, start)
	if r.OnError != nil {
		r.OnError(err)
	}
}

func (r *Refresher) observe(result string, start time.Time) {
	if r.Observer != nil {
		r.Observer.ObservePoll(result, time.Since(start))
	}
}
