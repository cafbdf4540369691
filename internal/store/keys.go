package store

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// TokenPrefix is the prefix every yesCode API token carries.
const TokenPrefix = "cr_"

// ErrBadToken is returned by ValidateToken.
var ErrBadToken = errors.New("API token must start with " + TokenPrefix)

// ErrNoStore is returned when a write needs the secret store but none is open.
var ErrNoStore = errors.New("no secret store available; set YESCODE_API_KEY instead")

// KeyResolver finds the API key: first the environment, then the store.
// It satisfies pipeline.KeySource.
type KeyResolver struct {
	KV     KV
	EnvVar string
}

// APIKey returns the configured key, or "" when none is set.
func (r KeyResolver) APIKey() (string, error) {
	if r.EnvVar != "" {
		if v := strings.TrimSpace(os.Getenv(r.EnvVar)); v != "" {
			return v, nil
		}
	}
	if r.KV == nil {
		return "", nil
	}
	v, err := r.KV.Get(APIKeyName)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

// Source reports where the key came from: "env", "store" or "".
func (r KeyResolver) Source() string {
	if r.EnvVar != "" && strings.TrimSpace(os.Getenv(r.EnvVar)) != "" {
		return "env"
	}
	if r.KV == nil {
		return ""
	}
	if v, err := r.KV.Get(APIKeyName); err == nil && strings.TrimSpace(v) != "" {
		return "store"
	}
	return ""
}

// ValidateToken checks a token typed by the operator.
func ValidateToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("API token cannot be empty")
	}
	if !strings.HasPrefix(token, TokenPrefix) {
		return ErrBadToken
	}
	return nil
}

// SaveAPIKey validates and stores token.
func SaveAPIKey(kv KV, token string) error {
	if err := ValidateToken(token); err != nil {
		return err
	}
	if kv == nil {
		return ErrNoStore
	}
	if err := kv.Set(APIKeyName, strings.TrimSpace(token)); err != nil {
		return fmt.Errorf("saving API token: %w", err)
	}
	return nil
}

// NeedsSetup reports whether the first-run prompt should be offered:
// no token is available and the operator has not dismissed setup.
func NeedsSetup(r KeyResolver) (bool, error) {
	key, err := r.APIKey()
	if err != nil {
		return false, err
	}
	if key != "" {
		return false, nil
	}
	if r.KV == nil {
		return true, nil
	}
	seen, err := r.KV.Flag(SeenSetupKey)
	if err != nil {
		return false, err
	}
	return !seen, nil
}

// MarkSetupSeen records that the operator dismissed or finished setup.
func MarkSetupSeen(kv KV) error {
	if kv == nil {
		return ErrNoStore
	}
	return kv.SetFlag(SeenSetupKey, true)
}
