// Package localauth implements username/password authentication:
// login with rate limiting and timing-uniform verification,
// self-service registration, an email password-reset protocol, and
// authenticated password change. It is registered with the auth.Plugin
// under the name "localAuth".
package localauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leafpress/auth"
	"github.com/leafpress/auth/mail"
	"github.com/leafpress/auth/password"
	"github.com/leafpress/auth/ratelimit"
)

// Name is the authenticator name recorded on users this module logs in.
const Name = "localAuth"

// CSRF action selectors. Reset and account forms use the default
// selector.
const (
	loginCSRFAction    = "login"
	registerCSRFAction = "register"
)

// Module is the local-accounts authenticator.
type Module struct {
	storage  Storage
	limiter  ratelimit.Limiter
	encoders *password.Registry
	policy   *password.Policy
	mailer   mail.Mailer
	log      *zap.Logger

	cfg   auth.LocalAuthConfig
	pages auth.PagesConfig

	resetURL func(token string) string
	now      func() time.Time
}

// Option configures the module.
type Option func(*Module)

// WithLogger sets the module logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Module) { m.log = log }
}

// WithEncoders replaces the default encoder registry.
func WithEncoders(r *password.Registry) Option {
	return func(m *Module) { m.encoders = r }
}

// WithMailer sets the mailer used for reset links. Without one, reset
// requests are accepted but no mail leaves the system.
func WithMailer(mailer mail.Mailer) Option {
	return func(m *Module) { m.mailer = mailer }
}

// WithResetURL sets the host's builder for the absolute reset link
// embedding the given token. The default produces a bare page link
// usable only for tests.
func WithResetURL(build func(token string) string) Option {
	return func(m *Module) { m.resetURL = build }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Module) { m.now = now }
}

// New builds the module from a validated configuration.
func New(cfg *auth.Config, storage Storage, limiter ratelimit.Limiter, opts ...Option) (*Module, error) {
	policy, err := cfg.LocalAuth.Policy.Build()
	if err != nil {
		return nil, err
	}
	m := &Module{
		storage:  storage,
		limiter:  limiter,
		encoders: password.NewDefaultRegistry(),
		policy:   policy,
		log:      zap.NewNop(),
		cfg:      cfg.LocalAuth,
		pages:    cfg.Pages,
		now:      time.Now,
	}
	m.resetURL = func(token string) string {
		return m.pages.PasswordReset + "?confirm=" + token
	}
	for _, opt := range opts {
		opt(m)
	}
	// Resolve the default encoder now so a bad name fails at startup,
	// not on the first login.
	if _, err := m.encoders.Get(m.cfg.Encoder); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Module) Name() string { return Name }

// HandleRequest routes the module's pages.
func (m *Module) HandleRequest(c *auth.Context) error {
	switch c.Request.PageID {
	case m.pages.Login:
		return m.handleLogin(c)
	case m.pages.Register:
		return m.handleRegistration(c)
	case m.pages.Account:
		return m.handleAccountPage(c)
	case m.pages.PasswordReset:
		return m.handlePasswordReset(c)
	}
	return nil
}

func (m *Module) handleLogin(c *auth.Context) error {
	c.Response.AddAllowed(m.pages.Login)

	if !c.Request.IsPost() || !c.Request.Form.Has("username") || !c.Request.Form.Has("password") {
		return nil
	}

	if !c.ValidCSRF(c.Request.FormValue("csrf_token"), loginCSRFAction) {
		m.redirectToLogin(c)
		return nil
	}

	username := strings.ToLower(strings.TrimSpace(c.Request.FormValue("username")))
	pass := c.Request.FormValue("password")

	// A read-only check first: an already blocked caller gets the
	// limiter's message without a credential check consuming work.
	decision, err := m.limiter.Action(c.Context(), ratelimit.ActionLogin, false, m.loginParams(c, username))
	if err != nil {
		return err
	}
	if !decision.Allowed {
		c.FlashError(decision.Message)
		m.redirectToLogin(c)
		return nil
	}

	ok, userData, err := m.loginAttempt(c.Context(), username, pass)
	if err != nil {
		return err
	}
	if !ok {
		m.logInvalidAttempt(c, username)
		if _, err := m.limiter.Action(c.Context(), ratelimit.ActionLogin, true, m.loginParams(c, username)); err != nil {
			return err
		}
		c.FlashError("Invalid username or password")
		m.redirectToLogin(c)
		return nil
	}

	if m.needsRehash(userData) {
		diverted, err := m.rehashPassword(c, username, pass)
		if err != nil || diverted {
			return err
		}
	}

	if userData.PasswordReset {
		// A pending forced reset replaces the login.
		c.FlashError("Please set a new password.")
		m.startResetSession(c, username)
		c.Response.RedirectToPage(m.pages.PasswordReset, nil)
		return nil
	}

	m.login(c, username, userData)
	return c.AfterLogin()
}

// loginAttempt verifies credentials. The encode and verify calls are
// performed against a random dummy password even when the user does
// not exist, so the response time does not separate "unknown user"
// from "wrong password".
func (m *Module) loginAttempt(ctx context.Context, username, pass string) (bool, *UserData, error) {
	userData, found, err := m.storage.UserByName(ctx, username)
	if err != nil {
		return false, nil, err
	}

	encoder, err := m.encoderFor(userData)
	if err != nil {
		return false, nil, err
	}

	dummy, err := randomHex(32)
	if err != nil {
		return false, nil, err
	}
	dummyHash, err := encoder.Encode(dummy)
	if err != nil {
		return false, nil, err
	}

	if !found {
		encoder.IsValid(dummyHash, pass)
		return false, nil, nil
	}
	return encoder.IsValid(userData.PasswordHash, pass), userData, nil
}

// login builds the authenticated user from stored data and attaches it
// to the context. The session commit happens in Context.AfterLogin.
func (m *Module) login(c *auth.Context, id string, userData *UserData) {
	u := auth.NewUser()
	u.SetID(id)
	u.SetAuthenticated(true)
	u.SetAuthenticator(Name)
	u.AddGroups(userData.Groups...)
	u.SetDisplayName(userData.DisplayName)
	u.SetAttribute("email", userData.Email)
	for k, v := range userData.Attributes {
		u.SetAttribute(k, v)
	}
	c.User = u
}

// encoderFor resolves the per-user encoder override, falling back to
// the configured default.
func (m *Module) encoderFor(userData *UserData) (password.Encoder, error) {
	name := m.cfg.Encoder
	if userData != nil && userData.Encoder != "" {
		name = userData.Encoder
	}
	return m.encoders.Get(name)
}

// encodePassword fills the user record with the freshly encoded
// password under the current default scheme and clears a pending
// forced reset.
func (m *Module) encodePassword(userData *UserData, pass string) error {
	encoder, err := m.encoders.Get(m.cfg.Encoder)
	if err != nil {
		return err
	}
	hash, err := encoder.Encode(pass)
	if err != nil {
		return err
	}
	userData.PasswordHash = hash
	userData.Encoder = m.cfg.Encoder
	userData.PasswordReset = false
	return nil
}

// needsRehash reports whether the stored hash should be transparently
// re-encoded on this login.
func (m *Module) needsRehash(userData *UserData) bool {
	if !m.cfg.Login.PasswordRehash {
		return false
	}
	if userData.Encoder != "" && userData.Encoder != m.cfg.Encoder {
		return true
	}
	encoder, err := m.encoderFor(userData)
	if err != nil {
		return false
	}
	return encoder.NeedsRehash(userData.PasswordHash)
}

// rehashPassword re-stores the verified password under the current
// scheme. When the new encoder cannot accept the password (length
// cap), the user is diverted into the reset flow instead; the returned
// bool reports that divert.
func (m *Module) rehashPassword(c *auth.Context, username, pass string) (bool, error) {
	userData, found, err := m.storage.UserByName(c.Context(), username)
	if err != nil || !found {
		return false, err
	}
	if err := m.encodePassword(userData, pass); err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) {
			c.FlashError("Please set a new password.")
			m.startResetSession(c, username)
			c.Response.RedirectToPage(m.pages.PasswordReset, nil)
			return true, nil
		}
		return false, err
	}
	return false, m.storage.SaveUser(c.Context(), username, userData)
}

// checkPasswordPolicy flashes every violated constraint, including the
// active encoder's input cap, and reports overall validity.
func (m *Module) checkPasswordPolicy(c *auth.Context, pass string) (bool, error) {
	valid := true

	encoder, err := m.encoders.Get(m.cfg.Encoder)
	if err != nil {
		return false, err
	}
	if max := encoder.MaxAllowedLen(); max > 0 && len(pass) > max {
		c.FlashError(fmt.Sprintf("Maximum length is %d.", max))
		valid = false
	}

	for _, msg := range m.policy.Check(pass) {
		c.FlashError(msg)
		valid = false
	}
	return valid, nil
}

// redirectToLogin preserves the afterLogin parameter across the
// redirect so a successful retry still lands on the requested page.
func (m *Module) redirectToLogin(c *auth.Context) {
	target := c.Request.FormValue("afterLogin")
	if target == "" {
		target = c.Request.QueryValue("afterLogin")
	}
	c.RedirectToLogin(target)
}

func (m *Module) loginParams(c *auth.Context, username string) ratelimit.Params {
	return ratelimit.Params{Address: c.Request.RemoteAddr, Account: username}
}

func (m *Module) logInvalidAttempt(c *auth.Context, username string) {
	// Cap the logged name so an oversized submission cannot bloat the
	// log entry.
	max := m.cfg.Registration.NameLenMax
	if len(username) > max {
		username = username[:max] + " (trimmed)"
	}
	m.log.Info("invalid login attempt",
		zap.String("user", username),
		zap.String("address", c.Request.RemoteAddr))
}

func validEmail(email string) bool {
	addr, err := netmail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func randomHex(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("localauth: reading randomness: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
