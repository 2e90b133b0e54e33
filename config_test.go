package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "index", cfg.Pages.Index)
	assert.Equal(t, "login", cfg.Pages.Login)
	assert.Equal(t, "index", cfg.AfterLogin)
	assert.Equal(t, time.Hour, cfg.CSRF.Validity.Duration)
	assert.Equal(t, "bcrypt", cfg.LocalAuth.Encoder)
	assert.Equal(t, 10000, cfg.LocalAuth.Registration.MaxUsers)
	assert.Equal(t, 3, cfg.LocalAuth.Registration.NameLenMin)
	assert.Equal(t, 20, cfg.LocalAuth.Registration.NameLenMax)
	assert.Equal(t, 10, cfg.LocalAuth.PasswordReset.TokenIDLen)
	assert.Equal(t, 50, cfg.LocalAuth.PasswordReset.TokenLen)
	assert.Equal(t, 2*time.Hour, cfg.LocalAuth.PasswordReset.TokenValidity.Duration)
	assert.Equal(t, 30*time.Minute, cfg.LocalAuth.PasswordReset.ResetTimeout.Duration)
}

func TestLoadConfigDurations(t *testing.T) {
	cfg, err := LoadConfig([]byte(`
session:
  timeout: 86400
  idle: 2h
  rotation: 30m
`))
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.Session.Timeout.Duration)
	assert.Equal(t, 2*time.Hour, cfg.Session.Idle.Duration)
	assert.Equal(t, 30*time.Minute, cfg.Session.Rotation.Duration)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	_, err := LoadConfig([]byte("sesion:\n  timeout: 1h\n"))
	assert.Error(t, err)
}

func TestValidateRejectsPlaintextInProduction(t *testing.T) {
	cfg := Config{Production: true}
	cfg.LocalAuth.Encoder = "plaintext"
	assert.Error(t, cfg.Validate())

	dev := Config{}
	dev.LocalAuth.Encoder = "plaintext"
	assert.NoError(t, dev.Validate())
}

func TestValidateTokenLengths(t *testing.T) {
	cfg := Config{}
	cfg.LocalAuth.PasswordReset.TokenIDLen = 20
	cfg.LocalAuth.PasswordReset.TokenLen = 20
	assert.Error(t, cfg.Validate())
}

func TestValidateRulePaths(t *testing.T) {
	cfg := Config{Access: map[string]ACLRule{"missing-slash": {}}}
	assert.Error(t, cfg.Validate())

	trailing := Config{Access: map[string]ACLRule{"/sub/": {}}}
	assert.Error(t, trailing.Validate())

	ok := Config{Access: map[string]ACLRule{"/": {}, "/sub/page": {Users: []string{"a"}}}}
	assert.NoError(t, ok.Validate())
}

func TestValidatePageLockReferences(t *testing.T) {
	cfg := Config{PageLock: PageLockConfig{
		Pages: map[string]LockRule{"/secret": {LockID: "nope"}},
	}}
	assert.Error(t, cfg.Validate())

	ok := Config{PageLock: PageLockConfig{
		Locks: map[string]LockConfig{"l1": {Key: "$2y$10$hash"}},
		Pages: map[string]LockRule{"/secret": {LockID: "l1"}},
	}}
	assert.NoError(t, ok.Validate())
}

func TestValidateOAuthProviders(t *testing.T) {
	cfg := Config{OAuth: OAuthConfig{Providers: map[string]ProviderConfig{
		"idp": {ClientID: "x"},
	}}}
	assert.Error(t, cfg.Validate())
}
