package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/ycstats/internal/balance"
	"github.com/theirongolddev/ycstats/internal/config"
	"github.com/theirongolddev/ycstats/internal/metrics"
	"github.com/theirongolddev/ycstats/internal/pipeline"
)

// scriptedFetcher returns queued responses in order, repeating the last one.
type scriptedFetcher struct {
	mu    sync.Mutex
	raws  []*balance.RawBalance
	errs  []error
	calls int
}

func (f *scriptedFetcher) FetchBalance(_ context.Context, _, apiKey string) (*balance.RawBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.TrimSpace(apiKey) == "" {
		return nil, nil
	}
	i := min(f.calls, len(f.raws)-1)
	f.calls++
	return f.raws[i], f.errs[i]
}

func (f *scriptedFetcher) push(raw *balance.RawBalance, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raws = append(f.raws, raw)
	f.errs = append(f.errs, err)
}

func (f *scriptedFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// timeoutFetcher records runtime timeout changes.
type timeoutFetcher struct {
	*scriptedFetcher
	timeout time.Duration
	mu      sync.Mutex
}

func (f *timeoutFetcher) SetTimeout(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeout = d
}

func (f *timeoutFetcher) current() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timeout
}

func raw(total, sub, payg float64) *balance.RawBalance {
	return &balance.RawBalance{TotalBalance: total, SubscriptionBalance: sub, PayAsYouGoBalance: payg}
}

func newTestService(t *testing.T, f *scriptedFetcher, key string) *Service {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Daemon.EventsBuffer = 10
	return New(cfg, Deps{
		Client:  f,
		Keys:    pipeline.KeyFunc(func() (string, error) { return key, nil }),
		Metrics: metrics.New(),
	})
}

func TestPublishEventRingBuffer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Daemon.EventsBuffer = 2
	s := New(cfg, Deps{})

	s.publishEvent(Event{ID: 1})
	s.publishEvent(Event{ID: 2})
	s.publishEvent(Event{ID: 3})

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.events) != 2 {
		t.Fatalf("events len = %d, want 2", len(s.events))
	}
	if s.events[0].ID != 2 || s.events[1].ID != 3 {
		t.Fatalf("events ring contains IDs [%d, %d], want [2, 3]", s.events[0].ID, s.events[1].ID)
	}
}

func TestConcurrentRecordsKeepEventOrder(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Daemon.EventsBuffer = 500
	s := New(cfg, Deps{})

	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.record(nil, balance.ErrNotFound, time.Now())
		}()
	}
	wg.Wait()

	s.mu.RLock()
	defer s.mu.RUnlock()
	require.Len(t, s.events, 200)
	for i, ev := range s.events {
		require.EqualValues(t, i+1, ev.ID, "event %d out of order", i)
	}
}

func TestTickEmitsSnapshotThenDeltas(t *testing.T) {
	f := &scriptedFetcher{}
	f.push(raw(150, 80, 70), nil)
	f.push(raw(150, 80, 70), nil)
	f.push(raw(140, 70, 70), nil)
	s := newTestService(t, f, "cr_test")

	s.tick()
	s.tick()
	s.tick()

	s.mu.RLock()
	events := append([]Event(nil), s.events...)
	s.mu.RUnlock()

	require.Len(t, events, 2, "unchanged balance must not emit an event")
	assert.Equal(t, EventSnapshot, events[0].Type)
	assert.Equal(t, EventBalanceDelta, events[1].Type)
	require.NotNil(t, events[1].Delta)
	assert.InDelta(t, -10, events[1].Delta.TotalBalance, 1e-9)
	assert.InDelta(t, -10, events[1].Delta.SubscriptionBalance, 1e-9)
	assert.InDelta(t, 10, events[1].Delta.UsagePercentage, 1e-9)

	st := s.snapshotStatus()
	assert.EqualValues(t, 3, st.PollCount)
	assert.True(t, st.Configured)
	assert.Equal(t, "yesCode: $140.00 (30.0% used)", st.Indicator)
}

func TestTickErrorKeepsLastStats(t *testing.T) {
	f := &scriptedFetcher{}
	f.push(raw(150, 80, 70), nil)
	f.push(nil, balance.ErrUnauthorized)
	s := newTestService(t, f, "cr_test")

	s.tick()
	s.tick()

	st := s.snapshotStatus()
	require.NotNil(t, st.Stats, "stale data must persist after a failed poll")
	assert.Equal(t, 150.0, st.Stats.TotalBalance)
	assert.Equal(t, "invalid API token", st.LastError)
	assert.Equal(t, balance.KindAuth, st.LastErrorKind)
	assert.EqualValues(t, 1, st.ErrorCount)

	s.mu.RLock()
	last := s.events[len(s.events)-1]
	s.mu.RUnlock()
	assert.Equal(t, EventPollError, last.Type)
	assert.Equal(t, balance.KindAuth, last.ErrorKind)
}

func TestTickWithoutKeyIsSilent(t *testing.T) {
	f := &scriptedFetcher{}
	f.push(raw(150, 80, 70), nil)
	s := newTestService(t, f, "")

	s.tick()

	st := s.snapshotStatus()
	assert.False(t, st.Configured)
	assert.Empty(t, st.LastError)
	assert.Nil(t, st.Stats)
	assert.Zero(t, st.EventCount)
	assert.Equal(t, "yesCode: no data", st.Indicator)
}

func TestHTTPHandlers(t *testing.T) {
	f := &scriptedFetcher{}
	f.push(raw(150, 80, 70), nil)
	s := newTestService(t, f, "cr_test")
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/refresh?wait=1", "application/json", http.NoBody)
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, st.Stats)
	assert.Equal(t, 20.0, st.Stats.SubscriptionUsagePercentage)
	assert.Equal(t, config.DefaultConfig().API.Endpoint, st.Endpoint)

	resp, err = http.Get(srv.URL + "/v1/events")
	require.NoError(t, err)
	var events []Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	_ = resp.Body.Close()
	require.Len(t, events, 1)
	assert.Equal(t, EventSnapshot, events[0].Type)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `ycstats_polls_total{result="ok"} 1`)
	assert.Contains(t, string(body), `ycstats_balance_usd{kind="total"} 150`)
}

func TestRefreshIsAsyncByDefault(t *testing.T) {
	f := &scriptedFetcher{}
	f.push(raw(150, 80, 70), nil)
	s := newTestService(t, f, "cr_test")

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/refresh", http.NoBody))
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Eventually(t, func() bool { return f.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestStreamSendsCurrentStateThenEvents(t *testing.T) {
	f := &scriptedFetcher{}
	f.push(raw(150, 80, 70), nil)
	s := newTestService(t, f, "cr_test")
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/stream", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if l := lines.Text(); strings.HasPrefix(l, "event: ") {
				return strings.TrimPrefix(l, "event: ")
			}
		}
		return ""
	}

	assert.Equal(t, EventSnapshot, next())

	assert.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.subs) == 1
	}, time.Second, 10*time.Millisecond)

	f.push(nil, &balance.HTTPError{StatusCode: 502})
	s.tick() // first scripted response: snapshot event
	s.tick() // second: poll error

	assert.Equal(t, EventSnapshot, next())
	assert.Equal(t, EventPollError, next())
}

func TestWebSocketStreamsEvents(t *testing.T) {
	f := &scriptedFetcher{}
	f.push(raw(150, 80, 70), nil)
	s := newTestService(t, f, "cr_test")
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/ws", nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	var ev Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, EventSnapshot, ev.Type)
	assert.Nil(t, ev.Stats, "nothing polled yet")

	assert.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.subs) == 1
	}, time.Second, 10*time.Millisecond)

	s.tick()
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, EventSnapshot, ev.Type)
	require.NotNil(t, ev.Stats)
	assert.Equal(t, 150.0, ev.Stats.TotalBalance)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.subs) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestApplyRestartsSchedulerOnIntervalChange(t *testing.T) {
	f := &scriptedFetcher{}
	f.push(raw(150, 80, 70), nil)
	s := newTestService(t, f, "cr_test")

	require.NoError(t, s.sched.Start(s.tick, time.Hour))
	defer s.sched.Stop()
	assert.Eventually(t, func() bool { return f.count() == 1 }, time.Second, 10*time.Millisecond)

	cfg := config.DefaultConfig()
	cfg.API.RefreshIntervalSec = 1800
	require.NoError(t, s.Apply(cfg))
	assert.Equal(t, 30*time.Minute, s.sched.Interval())
	assert.Eventually(t, func() bool { return f.count() == 2 }, time.Second, 10*time.Millisecond)

	cfg.API.DailySubscriptionLimit = 200
	require.NoError(t, s.Apply(cfg))
	assert.Equal(t, 30*time.Minute, s.sched.Interval(), "limit change keeps the timer")
	assert.Eventually(t, func() bool { return f.count() == 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 200.0, s.settings().DailyLimit)

	bad := cfg
	bad.API.DailySubscriptionLimit = 0
	require.Error(t, s.Apply(bad))
	assert.Equal(t, 200.0, s.settings().DailyLimit)
}

func TestApplyReloadsTimeoutAndOverlapPolicy(t *testing.T) {
	f := &timeoutFetcher{scriptedFetcher: &scriptedFetcher{}}
	f.push(raw(150, 80, 70), nil)
	cfg := config.DefaultConfig()
	s := New(cfg, Deps{
		Client: f,
		Keys:   pipeline.KeyFunc(func() (string, error) { return "cr_test", nil }),
	})

	require.NoError(t, s.sched.Start(s.tick, time.Hour))
	defer s.sched.Stop()
	assert.Eventually(t, func() bool { return f.count() == 1 }, time.Second, 10*time.Millisecond)
	require.False(t, s.sched.SkipOverlap())

	next := cfg
	next.API.TimeoutSec = 7
	next.Daemon.SkipOverlappingTicks = true
	require.NoError(t, s.Apply(next))

	assert.Equal(t, 7*time.Second, f.current())
	assert.True(t, s.sched.SkipOverlap())
	assert.True(t, s.sched.Running())
	assert.Eventually(t, func() bool { return f.count() == 2 }, time.Second, 10*time.Millisecond,
		"overlap policy change restarts the timer, which polls immediately")
}

func TestWriteJSONUnencodableIs500(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusOK, map[string]float64{"total": math.Inf(1)})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotEqual(t, "application/json", rr.Header().Get("Content-Type"))
}
