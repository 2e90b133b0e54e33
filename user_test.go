package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserUnauthenticatedHasNoAuthenticator(t *testing.T) {
	u := NewUser()
	u.SetID("alice")
	u.SetAuthenticated(true)
	u.SetAuthenticator("localAuth")
	require.Equal(t, "localAuth", u.Authenticator())

	u.SetAuthenticated(false)
	assert.Empty(t, u.Authenticator())
}

func TestUserGroups(t *testing.T) {
	u := NewUser()
	u.AddGroups("admins", "editors", "admins")

	assert.Equal(t, []string{"admins", "editors"}, u.Groups())
	assert.True(t, u.HasGroup("editors"))
	assert.False(t, u.HasGroup("viewers"))

	// Mutating the returned slice must not affect the user.
	groups := u.Groups()
	groups[0] = "changed"
	assert.True(t, u.HasGroup("admins"))
}

func TestUserDisplayNameFallsBackToID(t *testing.T) {
	u := NewUser()
	u.SetID("alice")
	assert.Equal(t, "alice", u.DisplayName())

	u.SetDisplayName("Alice A.")
	assert.Equal(t, "Alice A.", u.DisplayName())
}

func TestEncodeUserRequiresAuthentication(t *testing.T) {
	u := NewUser()
	u.SetID("alice")

	_, err := EncodeUser(u)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestUserRoundTrip(t *testing.T) {
	u := NewUser()
	u.SetID("alice")
	u.SetAuthenticated(true)
	u.SetAuthenticator("localAuth")
	u.AddGroups("admins")
	u.SetDisplayName("Alice A.")
	u.SetAttribute("email", "alice@example.com")

	data, err := EncodeUser(u)
	require.NoError(t, err)

	restored, err := DecodeUser(data)
	require.NoError(t, err)
	assert.Equal(t, "alice", restored.ID())
	assert.True(t, restored.Authenticated())
	assert.Equal(t, "localAuth", restored.Authenticator())
	assert.Equal(t, []string{"admins"}, restored.Groups())
	assert.Equal(t, "Alice A.", restored.DisplayName())
	email, ok := restored.Attribute("email")
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", email)
}

func TestDecodeUserRejectsBadEnvelopes(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{{"},
		{"wrong version", `{"v":2,"id":"a","authenticator":"localAuth"}`},
		{"missing id", `{"v":1,"authenticator":"localAuth"}`},
		{"missing authenticator", `{"v":1,"id":"a"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeUser([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidUserData)
		})
	}
}
