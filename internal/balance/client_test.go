package balance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "cr_test", r.Header.Get("X-API-Key"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetchBalanceSuccess(t *testing.T) {
	srv, hits := newServer(t, http.StatusOK,
		`{"balance":1,"pay_as_you_go_balance":70,"subscription_balance":80,"total_balance":150}`)

	raw, err := NewClient().FetchBalance(context.Background(), srv.URL, "cr_test")
	require.NoError(t, err)
	require.NotNil(t, raw)

	assert.Equal(t, 150.0, raw.TotalBalance)
	assert.Equal(t, 80.0, raw.SubscriptionBalance)
	assert.Equal(t, 70.0, raw.PayAsYouGoBalance)
	assert.Equal(t, 1.0, raw.Balance)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchBalanceEmptyKeySkipsNetwork(t *testing.T) {
	srv, hits := newServer(t, http.StatusOK, `{}`)

	for _, key := range []string{"", "   "} {
		raw, err := NewClient().FetchBalance(context.Background(), srv.URL, key)
		assert.NoError(t, err)
		assert.Nil(t, raw)
	}
	assert.Equal(t, int32(0), hits.Load())
}

func TestFetchBalanceStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   string
	}{
		{"unauthorized", http.StatusUnauthorized, KindAuth},
		{"not found", http.StatusNotFound, KindNotFound},
		{"server error", http.StatusInternalServerError, KindHTTP},
		{"forbidden", http.StatusForbidden, KindHTTP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newServer(t, tt.status, `{"error":"nope"}`)

			raw, err := NewClient().FetchBalance(context.Background(), srv.URL, "cr_test")
			require.Error(t, err)
			assert.Nil(t, raw)
			assert.Equal(t, tt.kind, Kind(err))
		})
	}
}

func TestFetchBalanceUnauthorizedIsSentinel(t *testing.T) {
	srv, _ := newServer(t, http.StatusUnauthorized, ``)

	_, err := NewClient().FetchBalance(context.Background(), srv.URL, "cr_test")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "invalid API token", Describe(err))
}

func TestFetchBalanceHTTPErrorCarriesStatus(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadGateway, ``)

	_, err := NewClient().FetchBalance(context.Background(), srv.URL, "cr_test")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Contains(t, Describe(err), "502")
}

func TestFetchBalanceParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"not json", `<html>oops</html>`, ""},
		{"array", `[1,2,3]`, ""},
		{"missing total", `{"subscription_balance":1,"pay_as_you_go_balance":2}`, "total_balance"},
		{"string amount", `{"total_balance":"10","subscription_balance":1,"pay_as_you_go_balance":2}`, "total_balance"},
		{"null subscription", `{"total_balance":10,"subscription_balance":null,"pay_as_you_go_balance":2}`, "subscription_balance"},
		{"overflowing total", `{"total_balance":1e999,"subscription_balance":80,"pay_as_you_go_balance":70}`, "total_balance"},
		{"overflowing negative payg", `{"total_balance":10,"subscription_balance":80,"pay_as_you_go_balance":-1e400}`, "pay_as_you_go_balance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newServer(t, http.StatusOK, tt.body)

			_, err := NewClient().FetchBalance(context.Background(), srv.URL, "cr_test")
			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, tt.field, parseErr.Field)
			assert.Equal(t, KindParse, Kind(err))
		})
	}
}

func TestFetchBalanceBalanceFieldOptional(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK,
		`{"total_balance":50,"subscription_balance":0,"pay_as_you_go_balance":50}`)

	raw, err := NewClient().FetchBalance(context.Background(), srv.URL, "cr_test")
	require.NoError(t, err)
	assert.Zero(t, raw.Balance)
	assert.Equal(t, 50.0, raw.TotalBalance)
}

func TestFetchBalanceUnderflowIsZero(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK,
		`{"balance":1e999,"total_balance":1e-400,"subscription_balance":80,"pay_as_you_go_balance":70}`)

	raw, err := NewClient().FetchBalance(context.Background(), srv.URL, "cr_test")
	require.NoError(t, err)
	assert.Zero(t, raw.TotalBalance)
	assert.Zero(t, raw.Balance, "out-of-range optional balance is dropped")

	_, err = json.Marshal(raw)
	assert.NoError(t, err)
}

func TestSetTimeoutAppliesToNextFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(300 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte(`{"total_balance":1,"subscription_balance":1,"pay_as_you_go_balance":0}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(WithTimeout(20 * time.Millisecond))
	_, err := c.FetchBalance(context.Background(), srv.URL, "cr_test")
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)

	c.SetTimeout(0)
	raw, err := c.FetchBalance(context.Background(), srv.URL, "cr_test")
	require.NoError(t, err)
	assert.Equal(t, 1.0, raw.TotalBalance)
}

func TestFetchBalanceNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient().FetchBalance(context.Background(), url, "cr_test")
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, KindNetwork, Kind(err))
	assert.Contains(t, Describe(err), "network request failed")
}

func TestFetchBalanceTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(WithTimeout(50 * time.Millisecond))
	_, err := c.FetchBalance(context.Background(), srv.URL, "cr_test")
	assert.Equal(t, KindNetwork, Kind(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKindNil(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "", Describe(nil))
}
