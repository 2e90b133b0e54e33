package authz

import (
	"fmt"
	"net/http"
	"slices"

	"go.uber.org/zap"

	"github.com/leafpress/auth"
	"github.com/leafpress/auth/password"
	"github.com/leafpress/auth/ratelimit"
	"github.com/leafpress/auth/session"
)

// LockName identifies the shared-secret access controller.
const LockName = "pageLock"

const (
	unlockCSRFAction   = "unlock"
	sessionUnlockedKey = "unlocked"
)

// PageLock guards pages behind a shared key. Unlock state is a set of
// lock ids in the session, so it survives login and logout and is not
// tied to any user identity.
type PageLock struct {
	cfg      auth.PageLockConfig
	limiter  ratelimit.Limiter
	encoders *password.Registry
	log      *zap.Logger
}

// LockOption configures a PageLock.
type LockOption func(*PageLock)

func WithLockLogger(log *zap.Logger) LockOption {
	return func(l *PageLock) { l.log = log }
}

func WithLockEncoders(r *password.Registry) LockOption {
	return func(l *PageLock) { l.encoders = r }
}

func NewPageLock(cfg *auth.Config, limiter ratelimit.Limiter, opts ...LockOption) (*PageLock, error) {
	l := &PageLock{
		cfg:      cfg.PageLock,
		limiter:  limiter,
		encoders: password.NewDefaultRegistry(),
		log:      zap.NewNop(),
	}
	if l.limiter == nil {
		l.limiter = ratelimit.Null{}
	}
	for _, opt := range opts {
		opt(l)
	}

	// Resolve every configured encoder now rather than on the first
	// unlock attempt.
	if _, err := l.encoders.Get(l.cfg.Encoder); err != nil {
		return nil, err
	}
	for id, lock := range l.cfg.Locks {
		if _, err := l.encoderFor(lock); err != nil {
			return nil, fmt.Errorf("authz: lock %q: %w", id, err)
		}
	}
	return l, nil
}

func (l *PageLock) Name() string { return LockName }

// HandleRequest processes unlock and relock submissions on any page
// and always publishes the open lock ids, so a theme can offer a
// "close session" control.
func (l *PageLock) HandleRequest(c *auth.Context) error {
	if c.Request.IsPost() && c.Request.Form.Has("page_key") {
		if err := l.handleUnlock(c); err != nil {
			return err
		}
	}

	// Relocking is independent of the plugin logout: an authenticated
	// user keeps the session and only drops the open locks.
	if c.Request.IsPost() && c.Request.Form.Has("logout_locks") &&
		c.ValidCSRF(c.Request.FormValue("csrf_token"), "") {
		if err := c.Session.Migrate(true); err != nil {
			return err
		}
		c.Session.Set(sessionUnlockedKey, []string{})
	}

	c.Response.Output("locks", unlockedIDs(c.Session))
	return nil
}

func (l *PageLock) handleUnlock(c *auth.Context) error {
	pageID := c.Request.PageID

	// Every outcome returns to the submitting page.
	c.Response.RedirectToPage(pageID, nil)

	if !c.ValidCSRF(c.Request.FormValue("csrf_token"), unlockCSRFAction) {
		return nil
	}

	params := ratelimit.Params{Address: c.Request.RemoteAddr}
	decision, err := l.limiter.Action(c.Context(), ratelimit.ActionPageLock, false, params)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		c.FlashError(decision.Message)
		return nil
	}

	lockID, ok := l.lockFor(pageID)
	if !ok {
		return nil
	}
	lock := l.cfg.Locks[lockID]

	encoder, err := l.encoderFor(lock)
	if err != nil {
		return err
	}
	if !encoder.IsValid(lock.Key, c.Request.FormValue("page_key")) {
		c.FlashError("The specified key is invalid")
		l.log.Info("failed unlock attempt",
			zap.String("lock", lockID),
			zap.String("address", c.Request.RemoteAddr))
		_, err := l.limiter.Action(c.Context(), ratelimit.ActionPageLock, true, params)
		return err
	}

	ids := unlockedIDs(c.Session)
	if !slices.Contains(ids, lockID) {
		ids = append(ids, lockID)
	}
	// Rotate before widening the session's privileges.
	if err := c.Session.Migrate(true); err != nil {
		return err
	}
	c.Session.Set(sessionUnlockedKey, ids)
	l.log.Info("page unlocked",
		zap.String("lock", lockID),
		zap.String("address", c.Request.RemoteAddr))
	return nil
}

func (l *PageLock) CheckAccess(c *auth.Context, pageID string) bool {
	lockID, ok := l.lockFor(pageID)
	if !ok {
		return true
	}
	return slices.Contains(unlockedIDs(c.Session), lockID)
}

// DenyAccessIfRestricted serves the lock's alternate content with a
// 403 instead of redirecting, so the unlock form renders in place of
// the protected page.
func (l *PageLock) DenyAccessIfRestricted(c *auth.Context, pageID string) error {
	lockID, ok := l.lockFor(pageID)
	if !ok || slices.Contains(unlockedIDs(c.Session), lockID) {
		return nil
	}

	c.Response.Output("unlock_action", pageID)
	if file := l.cfg.Locks[lockID].File; file != "" {
		c.Response.SetContentFile(file)
	}
	c.Response.SetStatus(http.StatusForbidden)
	return nil
}

func (l *PageLock) lockFor(pageID string) (string, bool) {
	rule, ok := ruleFor(l.cfg.Pages, pageID, func(r auth.LockRule) bool {
		return recursiveEnabled(r.Recursive)
	})
	if !ok || rule.LockID == "" {
		return "", false
	}
	return rule.LockID, true
}

func (l *PageLock) encoderFor(lock auth.LockConfig) (password.Encoder, error) {
	name := l.cfg.Encoder
	if lock.Encoder != "" {
		name = lock.Encoder
	}
	return l.encoders.Get(name)
}

func unlockedIDs(s session.Store) []string {
	raw, ok := s.Get(sessionUnlockedKey)
	if !ok {
		return nil
	}
	ids, _ := raw.([]string)
	return ids
}
