package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/ycstats/internal/balance"
	"github.com/theirongolddev/ycstats/internal/model"
)

type fakeFetcher struct {
	raw   *balance.RawBalance
	err   error
	calls int
	gotEP string
}

func (f *fakeFetcher) FetchBalance(_ context.Context, endpoint, apiKey string) (*balance.RawBalance, error) {
	f.calls++
	f.gotEP = endpoint
	if apiKey == "" {
		return nil, nil
	}
	return f.raw, f.err
}

type recordingObserver struct {
	results []string
	stats   []model.Stats
}

func (o *recordingObserver) ObservePoll(result string, _ time.Duration) {
	o.results = append(o.results, result)
}

func (o *recordingObserver) ObserveStats(s model.Stats) { o.stats = append(o.stats, s) }

func newRefresher(f Fetcher, key string) (*Refresher, *[]model.Stats, *[]error, *recordingObserver) {
	var (
		got  []model.Stats
		errs []error
		obs  = &recordingObserver{}
	)
	r := &Refresher{
		Client:   f,
		Settings: func() Settings { return Settings{Endpoint: "https://example.test/balance", DailyLimit: 100} },
		Keys:     KeyFunc(func() (string, error) { return key, nil }),
		Observer: obs,
		OnStats:  func(s model.Stats) { got = append(got, s) },
		OnError:  func(err error) { errs = append(errs, err) },
	}
	return r, &got, &errs, obs
}

func TestRefreshSuccess(t *testing.T) {
	f := &fakeFetcher{raw: &balance.RawBalance{TotalBalance: 150, SubscriptionBalance: 80, PayAsYouGoBalance: 70}}
	r, got, errs, obs := newRefresher(f, "cr_abc")

	stats, err := r.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stats)

	assert.InDelta(t, 20.0, stats.SubscriptionUsagePercentage, 1e-9)
	assert.Len(t, *got, 1)
	assert.Empty(t, *errs)
	assert.Equal(t, []string{ResultOK}, obs.results)
	assert.Len(t, obs.stats, 1)
	assert.Equal(t, "https://example.test/balance", f.gotEP)
}

func TestRefreshNotConfiguredIsSilent(t *testing.T) {
	f := &fakeFetcher{}
	r, got, errs, obs := newRefresher(f, "")

	stats, err := r.Refresh(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, stats)
	assert.Empty(t, *got)
	assert.Empty(t, *errs)
	assert.Equal(t, []string{ResultSkipped}, obs.results)
}

func TestRefreshUnauthorizedProducesNoStats(t *testing.T) {
	f := &fakeFetcher{err: balance.ErrUnauthorized}
	r, got, errs, obs := newRefresher(f, "cr_abc")

	stats, err := r.Refresh(context.Background())
	assert.ErrorIs(t, err, balance.ErrUnauthorized)
	assert.Nil(t, stats)
	assert.Empty(t, *got)
	require.Len(t, *errs, 1)
	assert.Equal(t, []string{balance.KindAuth}, obs.results)
}

func TestRefreshKeySourceError(t *testing.T) {
	f := &fakeFetcher{}
	r, _, errs, _ := newRefresher(f, "")
	r.Keys = KeyFunc(func() (string, error) { return "", errors.New("store locked") })

	_, err := r.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading API key")
	assert.Len(t, *errs, 1)
	assert.Zero(t, f.calls)
}

func TestRefreshReadsSettingsEachTick(t *testing.T) {
	f := &fakeFetcher{raw: &balance.RawBalance{SubscriptionBalance: 40}}
	r, _, _, _ := newRefresher(f, "cr_abc")

	limit := 100.0
	r.Settings = func() Settings { return Settings{Endpoint: "https://a.test", DailyLimit: limit} }

	first, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 60.0, first.SubscriptionUsagePercentage, 1e-9)

	limit = 50
	second, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 20.0, second.SubscriptionUsagePercentage, 1e-9)
}
