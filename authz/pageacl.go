package authz

import (
	"fmt"
	"net/http"
	"slices"

	"go.uber.org/zap"

	"github.com/leafpress/auth"
)

// ACLName identifies the rule-based access controller.
const ACLName = "pageACL"

// PageACL restricts pages to explicit users or groups. A page with no
// governing rule is open; a governing rule with neither users nor
// groups is an explicit deny-all.
type PageACL struct {
	rules   map[string]auth.ACLRule
	runtime map[string]auth.ACLRule
	log     *zap.Logger
}

// ACLOption configures a PageACL.
type ACLOption func(*PageACL)

func WithACLLogger(log *zap.Logger) ACLOption {
	return func(a *PageACL) { a.log = log }
}

func NewPageACL(cfg *auth.Config, opts ...ACLOption) *PageACL {
	a := &PageACL{
		rules:   cfg.Access,
		runtime: make(map[string]auth.ACLRule),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *PageACL) Name() string { return ACLName }

// AddRule registers a supplemental rule at runtime, for other modules
// guarding their own pages. Runtime rules are consulted only when no
// configured rule governs the page.
func (a *PageACL) AddRule(path string, rule auth.ACLRule) error {
	if !auth.ValidRulePath(path) {
		return fmt.Errorf("authz: rule path %q must start with a slash and not end with one", path)
	}
	a.runtime[path] = rule
	return nil
}

func (a *PageACL) CheckAccess(c *auth.Context, pageID string) bool {
	rule, found := ruleFor(a.rules, pageID, aclRecursive)
	if !found {
		rule, found = ruleFor(a.runtime, pageID, aclRecursive)
	}
	if !found {
		return true
	}

	if c.User.ID() != "" && slices.Contains(rule.Users, c.User.ID()) {
		return true
	}
	for _, group := range c.User.Groups() {
		if slices.Contains(rule.Groups, group) {
			return true
		}
	}
	return false
}

func (a *PageACL) DenyAccessIfRestricted(c *auth.Context, pageID string) error {
	if a.CheckAccess(c, pageID) {
		return nil
	}

	if c.User.Authenticated() {
		// Logged in without permission: a 403, not a redirect.
		a.log.Info("page access denied",
			zap.String("user", c.User.ID()),
			zap.String("page", pageID))
		c.Response.SetStatus(http.StatusForbidden)
		return nil
	}

	c.FlashError("Login first to access this page")
	c.RedirectToLogin(pageID)
	return nil
}

func aclRecursive(r auth.ACLRule) bool { return recursiveEnabled(r.Recursive) }
