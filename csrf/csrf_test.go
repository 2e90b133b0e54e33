package csrf

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafpress/auth/session"
)

func newTestManager(t *testing.T, now *time.Time) *Manager {
	t.Helper()
	return NewManager(session.NewMemoryStore(), WithClock(func() time.Time { return *now }))
}

func TestTokenValidates(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := newTestManager(t, &now)

	token, err := m.Token("login", true)
	require.NoError(t, err)
	assert.True(t, m.Check(token, "login", 0))
}

func TestTokenFormat(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := newTestManager(t, &now)

	token, err := m.Token("", true)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], 2*TokenSize)
	assert.Len(t, parts[1], 64) // hex sha256
}

func TestTwoIssuancesBothValidate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := newTestManager(t, &now)

	first, err := m.Token("login", true)
	require.NoError(t, err)
	second, err := m.Token("login", true)
	require.NoError(t, err)

	// Same server-side secret, different wire bytes.
	assert.NotEqual(t, first, second)
	assert.True(t, m.Check(first, "login", 0))
	assert.True(t, m.Check(second, "login", 0))
}

func TestSingleUseTokenConsumedOnFirstCheck(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := newTestManager(t, &now)

	token, err := m.Token("login", false)
	require.NoError(t, err)

	assert.True(t, m.Check(token, "login", 0))
	assert.False(t, m.Check(token, "login", 0))
}

func TestSingleUseTokenKeptAfterFailedCheck(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := newTestManager(t, &now)

	token, err := m.Token("login", false)
	require.NoError(t, err)

	assert.False(t, m.Check("bogus.bogus", "login", 0))
	assert.True(t, m.Check(token, "login", 0))
}

func TestTokenExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := newTestManager(t, &now)

	token, err := m.Token("login", true)
	require.NoError(t, err)

	now = now.Add(DefaultValidity + time.Second)
	assert.False(t, m.Check(token, "login", 0))

	// The expired secret was dropped, so a re-issued token uses a
	// fresh one and the old string stays invalid.
	_, err = m.Token("login", true)
	require.NoError(t, err)
	assert.False(t, m.Check(token, "login", 0))
}

func TestTokenCustomValidity(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := newTestManager(t, &now)

	token, err := m.Token("login", true)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	assert.False(t, m.Check(token, "login", time.Minute))
}

func TestTokenActionIsolation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := newTestManager(t, &now)

	token, err := m.Token("login", true)
	require.NoError(t, err)

	assert.False(t, m.Check(token, "registration", 0))
	assert.False(t, m.Check(token, "", 0))
}

func TestCheckMalformed(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := newTestManager(t, &now)

	_, err := m.Token("login", true)
	require.NoError(t, err)

	assert.False(t, m.Check("", "login", 0))
	assert.False(t, m.Check("no-delimiter", "login", 0))
	assert.False(t, m.Check("a.b.c", "login", 0))
}

func TestCheckUnknownAction(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := newTestManager(t, &now)

	assert.False(t, m.Check("x.y", "never-issued", 0))
}

func TestRemoveTokens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := newTestManager(t, &now)

	token, err := m.Token("login", true)
	require.NoError(t, err)

	m.RemoveTokens()
	assert.False(t, m.Check(token, "login", 0))
}
