// Package csrf manages per-action anti-forgery tokens backed by a
// session store.
//
// A token string has two parts joined by a dot: a fresh random client
// key and the hex HMAC-SHA256 of that key under a per-action secret
// held only in the session. Because the key is new on every issuance,
// the same logical token produces different wire bytes each time,
// which keeps compression-oracle attacks from recovering it while
// validation still only needs to recompute the HMAC.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/leafpress/auth/session"
)

const (
	// TokenSize is the length in bytes of the random token parts.
	TokenSize = 20

	// DefaultValidity bounds a token's age when the caller does not
	// supply its own window.
	DefaultValidity = time.Hour

	sessionKey      = "csrf"
	defaultSelector = "_"
	delimiter       = "."
)

// record is the server-held secret for one action.
type record struct {
	Secret   string
	IssuedAt int64
	Reuse    bool
}

// Manager issues and validates tokens for one session.
type Manager struct {
	session session.Store
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager over the given session store.
func NewManager(s session.Store, opts ...Option) *Manager {
	m := &Manager{session: s, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token returns a token string for the action. If a non-expired secret
// already exists for the action it is reused, so multiple forms on one
// page validate against the same secret, but the returned string still
// differs per call. The reuse flag of the latest issuance wins: with
// reuse false the token is consumed by its first successful Check.
func (m *Manager) Token(action string, reuse bool) (string, error) {
	tokens := m.tokens()
	index := selector(action)

	rec, ok := tokens[index]
	if !ok {
		secret, err := randomHex()
		if err != nil {
			return "", err
		}
		rec = record{Secret: secret}
	}
	rec.IssuedAt = m.now().Unix()
	rec.Reuse = reuse
	tokens[index] = rec
	m.session.Set(sessionKey, tokens)

	key, err := randomHex()
	if err != nil {
		return "", err
	}
	return key + delimiter + tokenHMAC(rec.Secret, key), nil
}

// Check validates a submitted token for the action. Expired secrets
// are dropped, as are single-use secrets after their first successful
// validation. A non-positive validity falls back to DefaultValidity.
func (m *Manager) Check(token, action string, validity time.Duration) bool {
	tokens := m.tokens()
	index := selector(action)

	rec, ok := tokens[index]
	if !ok {
		return false
	}

	if validity <= 0 {
		validity = DefaultValidity
	}
	if m.now().Unix() > rec.IssuedAt+int64(validity.Seconds()) {
		m.drop(index, tokens)
		return false
	}

	key, submittedHMAC, ok := strings.Cut(token, delimiter)
	if !ok {
		return false
	}

	valid := hmac.Equal([]byte(tokenHMAC(rec.Secret, key)), []byte(submittedHMAC))

	if valid && !rec.Reuse {
		m.drop(index, tokens)
	}
	return valid
}

// RemoveTokens clears all token state for the session. Called after
// every successful authentication so pre-auth tokens cannot replay
// across the privilege boundary.
func (m *Manager) RemoveTokens() {
	m.session.Remove(sessionKey)
}

func (m *Manager) tokens() map[string]record {
	if v, ok := m.session.Get(sessionKey); ok {
		if tokens, ok := v.(map[string]record); ok {
			return tokens
		}
	}
	return make(map[string]record)
}

func (m *Manager) drop(index string, tokens map[string]record) {
	delete(tokens, index)
	m.session.Set(sessionKey, tokens)
}

func selector(action string) string {
	if action == "" {
		return defaultSelector
	}
	return action
}

func tokenHMAC(secret, key string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

func randomHex() (string, error) {
	raw := make([]byte, TokenSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("csrf: reading randomness: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
