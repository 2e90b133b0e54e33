// Package oauth bridges login to external OAuth 2.0 identity
// providers using the authorization code grant. It owns no identity
// data of its own: the provider's ID token is mapped onto a User and
// handed to the same post-login sequence as local authentication.
package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/leafpress/auth"
	"github.com/leafpress/auth/ratelimit"
)

// Name identifies this module as an authenticator.
const Name = "OAuth"

const loginCSRFAction = "OAuth"

const (
	sessionProviderKey = "oauth_provider"
	sessionStateKey    = "oauth2state"
)

// Module handles the provider handoff on the login page and the code
// exchange on the callback page.
type Module struct {
	cfg       auth.OAuthConfig
	loginPage string
	limiter   ratelimit.Limiter
	providers map[string]*oauth2.Config
	log       *zap.Logger
}

// Option configures the module.
type Option func(*Module)

func WithLogger(log *zap.Logger) Option {
	return func(m *Module) { m.log = log }
}

func New(cfg *auth.Config, limiter ratelimit.Limiter, opts ...Option) *Module {
	m := &Module{
		cfg:       cfg.OAuth,
		loginPage: cfg.Pages.Login,
		limiter:   limiter,
		providers: make(map[string]*oauth2.Config),
		log:       zap.NewNop(),
	}
	if m.limiter == nil {
		m.limiter = ratelimit.Null{}
	}
	for _, opt := range opts {
		opt(m)
	}

	for name, p := range m.cfg.Providers {
		m.providers[name] = &oauth2.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  p.AuthURL,
				TokenURL: p.TokenURL,
			},
			RedirectURL: p.RedirectURL,
			Scopes:      p.Scopes,
		}
	}
	return m
}

func (m *Module) Name() string { return Name }

func (m *Module) HandleRequest(c *auth.Context) error {
	if !m.cfg.Enabled {
		return nil
	}
	switch {
	case c.Request.PageID == m.loginPage && c.Request.IsPost() && c.Request.Form.Has("oauth"):
		return m.begin(c)
	case c.Request.PageID == m.cfg.CallbackPage && m.validCallback(c):
		return m.callback(c)
	}
	return nil
}

// begin hands the browser to the chosen provider. The state nonce is
// bound to a freshly rotated session so the callback cannot be
// replayed into a fixated session.
func (m *Module) begin(c *auth.Context) error {
	if !c.ValidCSRF(c.Request.FormValue("csrf_token"), loginCSRFAction) {
		c.RedirectToLogin("")
		return nil
	}

	name := c.Request.FormValue("oauth")
	conf, ok := m.providers[name]
	if !ok {
		c.FlashError("Requested provider is not available.")
		c.RedirectToLogin("")
		return nil
	}

	// The login page's afterLogin parameter must survive the external
	// round trip.
	c.SaveAfterLogin()

	state, err := randomHex(16)
	if err != nil {
		return err
	}
	if err := c.Session.Migrate(true); err != nil {
		return err
	}
	c.Session.Set(sessionProviderKey, name)
	c.Session.Set(sessionStateKey, state)

	m.log.Info("oauth authentication started",
		zap.String("provider", name),
		zap.String("address", c.Request.RemoteAddr))
	c.Response.RedirectToURL(conf.AuthCodeURL(state))
	return nil
}

// validCallback requires the session half of the state handshake: a
// pending provider name and a non-empty state nonce, plus a state
// query parameter to compare against. Anything else on the callback
// page is not ours to handle.
func (m *Module) validCallback(c *auth.Context) bool {
	if _, ok := c.Session.Get(sessionProviderKey); !ok {
		return false
	}
	if c.Request.QueryValue("state") == "" {
		return false
	}
	raw, ok := c.Session.Get(sessionStateKey)
	if !ok {
		return false
	}
	state, ok := raw.(string)
	return ok && state != ""
}

func (m *Module) callback(c *auth.Context) error {
	rawName, _ := c.Session.Get(sessionProviderKey)
	name, _ := rawName.(string)
	c.Session.Remove(sessionProviderKey)

	rawState, _ := c.Session.Get(sessionStateKey)
	state, _ := rawState.(string)
	c.Session.Remove(sessionStateKey)

	conf, ok := m.providers[name]
	if !ok {
		return fmt.Errorf("oauth: provider %q removed during authentication", name)
	}

	if c.Request.QueryValue("state") != state {
		m.log.Warn("oauth response state mismatch",
			zap.String("provider", name),
			zap.String("address", c.Request.RemoteAddr))
		c.FlashError("Invalid OAuth response.")
		c.RedirectToLogin("")
		return nil
	}

	if errCode := c.Request.QueryValue("error"); errCode != "" {
		return m.providerError(c, name, errCode)
	}
	code := c.Request.QueryValue("code")
	if code == "" {
		return m.providerError(c, name, "no_code")
	}

	params := ratelimit.Params{Address: c.Request.RemoteAddr}
	decision, err := m.limiter.Action(c.Context(), ratelimit.ActionOAuth, false, params)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		c.FlashError(decision.Message)
		c.RedirectToLogin("")
		return nil
	}

	token, err := conf.Exchange(c.Context(), code)
	if err != nil {
		m.log.Error("oauth code exchange failed",
			zap.String("provider", name),
			zap.Error(err))
		if _, lerr := m.limiter.Action(c.Context(), ratelimit.ActionOAuth, true, params); lerr != nil {
			return lerr
		}
		c.FlashError("Failed to get an access token or user details.")
		c.RedirectToLogin("")
		return nil
	}

	u, err := m.userFromToken(name, token)
	if err != nil {
		m.log.Error("oauth identity extraction failed",
			zap.String("provider", name),
			zap.Error(err))
		c.FlashError("Failed to get an access token or user details.")
		c.RedirectToLogin("")
		return nil
	}

	c.User = u
	m.log.Info("oauth login",
		zap.String("provider", name),
		zap.String("user", u.ID()))
	return c.AfterLogin()
}

func (m *Module) providerError(c *auth.Context, name, code string) error {
	if len(code) > 100 {
		code = code[:100]
	}
	m.log.Info("oauth error response",
		zap.String("provider", name),
		zap.String("code", code))
	c.FlashError(fmt.Sprintf("The provider returned an error (%s)", code))
	c.RedirectToLogin("")
	return nil
}

// userFromToken maps the ID token's claims onto a User. The token came
// straight from the provider's token endpoint over TLS, so the claims
// are used without signature verification.
func (m *Module) userFromToken(name string, token *oauth2.Token) (*auth.User, error) {
	p := m.cfg.Providers[name]

	rawID, _ := token.Extra("id_token").(string)
	if rawID == "" {
		return nil, fmt.Errorf("oauth: token response carries no id_token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawID, claims); err != nil {
		return nil, fmt.Errorf("oauth: parse id_token: %w", err)
	}

	idClaim := p.UserIDClaim
	if idClaim == "" {
		idClaim = "sub"
	}
	id, _ := claims[idClaim].(string)
	if id == "" {
		return nil, fmt.Errorf("oauth: id_token has no usable %q claim", idClaim)
	}

	u := auth.NewUser()
	u.SetID(id)
	u.SetAuthenticated(true)
	u.SetAuthenticator(Name)
	u.AddGroups(p.Groups...)
	u.SetAttribute("provider", name)

	nameClaim := p.NameClaim
	if nameClaim == "" {
		nameClaim = "name"
	}
	if display, ok := claims[nameClaim].(string); ok {
		u.SetDisplayName(display)
	}
	return u, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
