// Package balance provides a client for the account balance endpoint.
package balance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// DefaultEndpoint is the hosted balance endpoint.
	DefaultEndpoint = "https://co.yes.vg/api/v1/claude/balance"

	maxBodySize = 1 << 20 // 1 MB
	userAgent   = "ycstats/1.0"
)

// requiredFields must be present and numeric in every successful response.
var requiredFields = []string{"total_balance", "subscription_balance", "pay_as_you_go_balance"}

// Client fetches the raw balance from the endpoint.
type Client struct {
	http    *http.Client
	timeout atomic.Int64 // nanoseconds; 0 means none
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets a per-request deadline. Zero keeps the transport default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.SetTimeout(d)
	}
}

// SetTimeout changes the per-request deadline for subsequent fetches.
// Zero or negative removes it.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout.Store(int64(max(d, 0)))
}

// NewClient returns a Client with no request timeout.
func NewClient(opts ...Option) *Client {
	c := &Client{http: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchBalance performs one GET against endpoint.
// An empty apiKey means "not configured": it returns (nil, nil) without
// touching the network.
func (c *Client) FetchBalance(ctx context.Context, endpoint, apiKey string) (*RawBalance, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, nil
	}

	if timeout := time.Duration(c.timeout.Load()); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("balance: creating request: %w", err)
	}
	req.Header.Set("X-API-Key", apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	//nolint:gosec // endpoint is operator configuration
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusNotFound:
		return nil, ErrNotFound
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("reading response: %w", err)}
	}

	return parseBalance(body)
}

// parseBalance validates body and extracts the balance fields.
// Missing or non-numeric required fields are rejected rather than zeroed.
func parseBalance(body []byte) (*RawBalance, error) {
	if !gjson.ValidBytes(body) {
		return nil, &ParseError{Err: errors.New("invalid JSON")}
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, &ParseError{Err: errors.New("expected a JSON object")}
	}

	vals := make(map[string]float64, len(requiredFields))
	for _, field := range requiredFields {
		f, err := finiteNumber(doc.Get(field))
		if err != nil {
			return nil, &ParseError{Field: field, Err: err}
		}
		vals[field] = f
	}

	raw := &RawBalance{
		TotalBalance:        vals["total_balance"],
		SubscriptionBalance: vals["subscription_balance"],
		PayAsYouGoBalance:   vals["pay_as_you_go_balance"],
	}
	// balance is informational; tolerate its absence or a bad value.
	if f, err := finiteNumber(doc.Get("balance")); err == nil {
		raw.Balance = f
	}
	return raw, nil
}

// finiteNumber returns v as a float64. JSON numbers that overflow float64
// (e.g. 1e999) are rejected since they cannot be re-encoded.
func finiteNumber(v gjson.Result) (float64, error) {
	if !v.Exists() {
		return 0, errors.New("missing")
	}
	if v.Type != gjson.Number {
		return 0, fmt.Errorf("expected number, got %s", v.Type)
	}
	f, err := strconv.ParseFloat(v.Raw, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("invalid number %q: %w", v.Raw, err)
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("number %s out of range", v.Raw)
	}
	return f, nil
}
