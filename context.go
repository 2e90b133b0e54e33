package auth

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/leafpress/auth/csrf"
	"github.com/leafpress/auth/session"
)

// Session keys owned by the plugin.
const (
	sessionUserKey    = "user"
	sessionCreatedKey = "_created"
	sessionActiveKey  = "_active"
	sessionRotatedKey = "_rotated"

	sessionAfterLoginKey = "afterLogin"
)

/// Context carries the per-request state through module dispatch: the
// request and response, the session, the restored user, and the CSRF
// manager bound to this session.
type Context struct {
	Request  *Request
	Response *Response
	Session  session.Store
	CSRF     *csrf.Manager
	User     *User

	plugin *Plugin
	ctx    context.Context
}

// Context returns the transport request's context for storage and
// mail calls, defaulting to context.Background.
func (c *Context) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// SetContext attaches the transport request's context.
func (c *Context) SetContext(ctx context.Context) { c.ctx = ctx }

// Config returns the plugin configuration.
func (c *Context) Config() *Config { return &c.plugin.cfg }

// Logger returns the plugin logger.
func (c *Context) Logger() *zap.Logger { return c.plugin.log }

// Now returns the current time from the plugin clock.
func (c *Context) Now() time.Time { return c.plugin.now() }

// CSRFToken returns a token for the action, for embedding in a form.
func (c *Context) CSRFToken(action string, reuse bool) (string, error) {
	return c.CSRF.Token(action, reuse)
}

// ValidCSRF checks a submitted token for the action. Failures are
// logged at warning level with the requesting address; the caller is
// expected to redirect away without side effects.
func (c *Context) ValidCSRF(token, action string) bool {
	if c.CSRF.Check(token, action, c.plugin.cfg.CSRF.Validity.Duration) {
		return true
	}
	c.plugin.log.Warn("csrf validation failed",
		zap.String("action", action),
		zap.String("page", c.Request.PageID),
		zap.String("address", c.Request.RemoteAddr))
	return false
}

// FlashError queues a user-facing error for the next rendered page.
func (c *Context) FlashError(msg string) {
	c.Session.AddFlash(FlashError, msg)
}

// FlashSuccess queues a user-facing success message.
func (c *Context) FlashSuccess(msg string) {
	c.Session.AddFlash(FlashSuccess, msg)
}

// RedirectToLogin redirects to the login page, preserving the
// originally requested page for the post-login redirect.
func (c *Context) RedirectToLogin(afterLogin string) {
	var query url.Values
	if afterLogin != "" && ValidPageID(afterLogin) {
		query = url.Values{"afterLogin": {afterLogin}}
	}
	c.Response.RedirectToPage(c.plugin.cfg.Pages.Login, query)
}

// AfterLogin commits an authenticated user to the session and finishes
// the login: the session id rotates so a pre-login id cannot be fixed,
// all pre-auth CSRF tokens are dropped, and the user is redirected to
// the page from the afterLogin parameter when it names a valid page,
// or to the configured landing page otherwise.
func (c *Context) AfterLogin() error {
	if err := c.Session.Migrate(true); err != nil {
		return err
	}
	encoded, err := EncodeUser(c.User)
	if err != nil {
		return err
	}
	c.Session.Set(sessionUserKey, encoded)
	c.Session.Set(sessionRotatedKey, c.plugin.now().Unix())
	c.CSRF.RemoveTokens()

	c.plugin.log.Info("user logged in",
		zap.String("user", c.User.ID()),
		zap.String("authenticator", c.User.Authenticator()),
		zap.String("address", c.Request.RemoteAddr))

	page := c.plugin.cfg.AfterLogin
	if target := c.afterLoginParam(); target != "" {
		page = target
	}
	c.Response.RedirectToPage(page, nil)
	return nil
}

// SaveAfterLogin stashes the request's afterLogin parameter in the
// session for flows that finish on a later request, such as an
// external identity-provider round trip.
func (c *Context) SaveAfterLogin() {
	target := c.Request.FormValue("afterLogin")
	if target == "" {
		target = c.Request.QueryValue("afterLogin")
	}
	if target != "" && ValidPageID(target) {
		c.Session.Set(sessionAfterLoginKey, target)
	}
}

// afterLoginParam resolves the post-login redirect request. Only
// internal page ids are accepted, never URLs, and the host's page
// check (when configured) must know the page.
func (c *Context) afterLoginParam() string {
	target := c.Request.FormValue("afterLogin")
	if target == "" {
		target = c.Request.QueryValue("afterLogin")
	}
	if target == "" {
		if raw, ok := c.Session.Get(sessionAfterLoginKey); ok {
			target, _ = raw.(string)
			c.Session.Remove(sessionAfterLoginKey)
		}
	}
	if target == "" || !ValidPageID(target) {
		return ""
	}
	if c.plugin.pageExists != nil && !c.plugin.pageExists(target) {
		return ""
	}
	return target
}

// Logout invalidates the session and resets the user to blank.
func (c *Context) Logout() error {
	user := c.User.ID()
	if err := c.Session.Invalidate(); err != nil {
		return err
	}
	c.User = NewUser()
	c.plugin.log.Info("user logged out",
		zap.String("user", user),
		zap.String("address", c.Request.RemoteAddr))
	c.Response.RedirectToPage(c.plugin.cfg.AfterLogout, nil)
	return nil
}
