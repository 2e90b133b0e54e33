package auth

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/leafpress/auth/csrf"
	"github.com/leafpress/auth/session"
)

// Plugin is the orchestrator the host CMS drives. Modules are
// registered once at startup; each request then flows through
// NewContext and HandleRequest.
type Plugin struct {
	cfg     Config
	log     *zap.Logger
	modules []Module
	byName  map[string]Module

	// pageExists lets the host veto afterLogin redirect targets that
	// do not resolve to a real page.
	pageExists func(string) bool
	now        func() time.Time
}

// PluginOption configures a Plugin.
type PluginOption func(*Plugin)

// WithLogger sets the structured logger used by the plugin and handed
// to module contexts.
func WithLogger(log *zap.Logger) PluginOption {
	return func(p *Plugin) { p.log = log }
}

// WithPageCheck registers the host's page-existence check.
func WithPageCheck(exists func(pageID string) bool) PluginOption {
	return func(p *Plugin) { p.pageExists = exists }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) PluginOption {
	return func(p *Plugin) { p.now = now }
}

// NewPlugin validates the configuration and returns a plugin with no
// modules registered.
func NewPlugin(cfg Config, opts ...PluginOption) (*Plugin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Plugin{
		cfg:    cfg,
		log:    zap.NewNop(),
		byName: make(map[string]Module),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Register adds a module. Dispatch order is registration order.
func (p *Plugin) Register(m Module) error {
	name := m.Name()
	if _, exists := p.byName[name]; exists {
		return fmt.Errorf("%w: %q", ErrModuleRegistered, name)
	}
	p.byName[name] = m
	p.modules = append(p.modules, m)
	return nil
}

// Module returns a registered module by name.
func (p *Plugin) Module(name string) (Module, bool) {
	m, ok := p.byName[name]
	return m, ok
}

// Config returns the validated configuration.
func (p *Plugin) Config() *Config { return &p.cfg }

// NewContext builds the per-request context. The user is restored from
// the session when a valid serialized identity is present; anything
// malformed discards the session entirely.
func (p *Plugin) NewContext(req *Request, sess session.Store) *Context {
	c := &Context{
		Request:  req,
		Response: NewResponse(),
		Session:  sess,
		CSRF:     csrf.NewManager(sess, csrf.WithClock(p.now)),
		User:     NewUser(),
		plugin:   p,
	}
	if raw, ok := sess.Get(sessionUserKey); ok {
		data, isBytes := raw.([]byte)
		if !isBytes {
			p.log.Warn("session user entry has unexpected type")
			_ = sess.Invalidate()
			return c
		}
		user, err := DecodeUser(data)
		if err != nil {
			p.log.Warn("discarding session with invalid user data", zap.Error(err))
			_ = sess.Invalidate()
			return c
		}
		c.User = user
	}
	return c
}

// HandleRequest runs one request through session maintenance, logout
// handling, module dispatch, and the authorization pass. Module errors
// stop the dispatch, flip the response into a safe error state, and
// propagate to the host.
func (p *Plugin) HandleRequest(c *Context) error {
	if err := p.maintainSession(c); err != nil {
		return err
	}

	if c.Request.IsPost() && c.Request.FormValue("logout") != "" {
		return p.handleLogout(c)
	}

	for _, m := range p.modules {
		handler, ok := m.(RequestHandler)
		if !ok {
			continue
		}
		if err := handler.HandleRequest(c); err != nil {
			p.log.Error("module request handling failed",
				zap.String("module", m.Name()),
				zap.String("page", c.Request.PageID),
				zap.Error(err))
			p.failSafe(c, err)
			return err
		}
		if c.Response.Halted() {
			break
		}
	}

	if _, _, redirected := c.Response.Redirect(); redirected || c.Response.Halted() {
		return nil
	}
	return p.authorize(c)
}

// authorize gives every access-controlling module a chance to deny the
// requested page. Pages a module marked allowed are exempt.
func (p *Plugin) authorize(c *Context) error {
	pageID := c.Request.PageID
	if c.Response.Allowed(pageID) {
		return nil
	}
	for _, m := range p.modules {
		controller, ok := m.(AccessController)
		if !ok {
			continue
		}
		if controller.CheckAccess(c, pageID) {
			continue
		}
		if err := controller.DenyAccessIfRestricted(c, pageID); err != nil {
			p.log.Error("access control failed",
				zap.String("module", m.Name()),
				zap.String("page", pageID),
				zap.Error(err))
			p.failSafe(c, err)
			return err
		}
		return nil
	}
	return nil
}

// maintainSession enforces the configured session lifetime bounds and
// periodic id rotation. Expired sessions are invalidated and the user
// reset before any module runs.
func (p *Plugin) maintainSession(c *Context) error {
	now := p.now().Unix()

	created, ok := sessionUnix(c.Session, sessionCreatedKey)
	if !ok {
		created = now
		c.Session.Set(sessionCreatedKey, created)
	}
	active, _ := sessionUnix(c.Session, sessionActiveKey)

	timeout := int64(p.cfg.Session.Timeout.Duration.Seconds())
	idle := int64(p.cfg.Session.Idle.Duration.Seconds())

	expired := (timeout > 0 && now-created > timeout) ||
		(idle > 0 && active > 0 && now-active > idle)
	if expired {
		if err := c.Session.Invalidate(); err != nil {
			return err
		}
		c.User = NewUser()
		c.Session.Set(sessionCreatedKey, now)
	}

	rotation := int64(p.cfg.Session.Rotation.Duration.Seconds())
	if rotation > 0 && !expired {
		rotated, ok := sessionUnix(c.Session, sessionRotatedKey)
		if !ok {
			c.Session.Set(sessionRotatedKey, now)
		} else if now-rotated > rotation {
			if err := c.Session.Migrate(true); err != nil {
				return err
			}
			c.Session.Set(sessionRotatedKey, now)
		}
	}

	c.Session.Set(sessionActiveKey, now)
	return nil
}

// handleLogout processes a logout submission. The CSRF check keeps a
// forged cross-site POST from ending the session.
func (p *Plugin) handleLogout(c *Context) error {
	if !c.ValidCSRF(c.Request.FormValue("csrf_token"), "logout") {
		c.FlashError("Invalid request, try again.")
		c.Response.RedirectToPage(c.Request.PageID, nil)
		return nil
	}
	return c.Logout()
}

// failSafe flips the response to a minimal error state. Detail stays
// in the log unless debug mode is on.
func (p *Plugin) failSafe(c *Context, err error) {
	c.Response.SetStatus(http.StatusInternalServerError)
	if p.cfg.Debug {
		c.Response.Output("error", err.Error())
	}
	c.Response.Halt()
}

func sessionUnix(s session.Store, key string) (int64, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	ts, ok := v.(int64)
	return ts, ok
}
