package balance

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized indicates the endpoint rejected the API token (HTTP 401).
	ErrUnauthorized = errors.New("balance: invalid API token")
	// ErrNotFound indicates the configured endpoint does not exist (HTTP 404).
	ErrNotFound = errors.New("balance: endpoint does not exist")
)

// HTTPError is returned for any other non-2xx response.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("balance: request failed with status %d", e.StatusCode)
}

// ParseError is returned when the body is not JSON or lacks a numeric field.
type ParseError struct {
	Field string // empty when the body itself is malformed
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("balance: parsing response field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("balance: parsing response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NetworkError wraps transport-level failures (DNS, refused, timeout).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("balance: network request failed: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Error kinds reported by Kind.
const (
	KindAuth     = "auth"
	KindNotFound = "not_found"
	KindHTTP     = "http"
	KindParse    = "parse"
	KindNetwork  = "network"
	KindUnknown  = "unknown"
)

// Kind classifies err into one of the Kind* labels. It returns "" for nil.
func Kind(err error) string {
	if err == nil {
		return ""
	}

	var (
		httpErr  *HTTPError
		parseErr *ParseError
		netErr   *NetworkError
	)
	switch {
	case errors.Is(err, ErrUnauthorized):
		return KindAuth
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.As(err, &httpErr):
		return KindHTTP
	case errors.As(err, &parseErr):
		return KindParse
	case errors.As(err, &netErr):
		return KindNetwork
	default:
		return KindUnknown
	}
}

// Describe returns a short operator-facing message for err.
func Describe(err error) string {
	var httpErr *HTTPError
	switch Kind(err) {
	case KindAuth:
		return "invalid API token"
	case KindNotFound:
		return "API endpoint does not exist"
	case KindHTTP:
		errors.As(err, &httpErr)
		return fmt.Sprintf("API request failed: status %d", httpErr.StatusCode)
	case KindParse:
		return "could not parse the balance response"
	case KindNetwork:
		var netErr *NetworkError
		errors.As(err, &netErr)
		return fmt.Sprintf("network request failed: %v", netErr.Err)
	case "":
		return ""
	default:
		return err.Error()
	}
}
