package authz

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafpress/auth"
	"github.com/leafpress/auth/session"
)

func boolPtr(v bool) *bool { return &v }

func newACLPlugin(t *testing.T, access map[string]auth.ACLRule) (*auth.Plugin, *PageACL) {
	t.Helper()
	cfg := auth.Config{Access: access}
	p, err := auth.NewPlugin(cfg, auth.WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }))
	require.NoError(t, err)
	a := NewPageACL(p.Config())
	require.NoError(t, p.Register(a))
	return p, a
}

func sessionWith(t *testing.T, id string, groups ...string) session.Store {
	t.Helper()
	u := auth.NewUser()
	u.SetID(id)
	u.SetAuthenticated(true)
	u.SetAuthenticator("localAuth")
	u.AddGroups(groups...)
	data, err := auth.EncodeUser(u)
	require.NoError(t, err)
	sess := session.NewMemoryStore()
	sess.Set("user", data)
	return sess
}

func getPage(page string) *auth.Request {
	return &auth.Request{PageID: page, Method: http.MethodGet, RemoteAddr: "10.0.0.1"}
}

func TestACLDecisions(t *testing.T) {
	access := map[string]auth.ACLRule{
		"/docs":    {Groups: []string{"staff"}},
		"/private": {Users: []string{"alice"}},
		"/frozen":  {},
		"/wiki":    {Users: []string{"bob"}, Recursive: boolPtr(false)},
	}

	cases := []struct {
		name   string
		page   string
		id     string
		groups []string
		want   bool
	}{
		{"no rule allows anyone", "blog/post", "", nil, true},
		{"user allowlist match", "private", "alice", nil, true},
		{"user allowlist miss", "private", "mallory", nil, false},
		{"group intersection", "docs", "carol", []string{"staff", "extra"}, true},
		{"group miss", "docs", "carol", []string{"readers"}, false},
		{"recursive ancestor governs descendants", "docs/internal/page", "carol", []string{"readers"}, false},
		{"recursive ancestor admits by group", "docs/internal/page", "carol", []string{"staff"}, true},
		{"non-recursive rule skips descendants", "wiki/subpage", "mallory", nil, true},
		{"non-recursive rule still exact-matches", "wiki", "mallory", nil, false},
		{"empty rule denies everyone", "frozen", "alice", []string{"staff"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, a := newACLPlugin(t, access)

			var sess session.Store = session.NewMemoryStore()
			if tc.id != "" {
				sess = sessionWith(t, tc.id, tc.groups...)
			}
			c := p.NewContext(getPage(tc.page), sess)
			assert.Equal(t, tc.want, a.CheckAccess(c, tc.page))
		})
	}
}

func TestACLDenyAuthenticatedGets403(t *testing.T) {
	p, _ := newACLPlugin(t, map[string]auth.ACLRule{"/private": {Users: []string{"alice"}}})

	sess := sessionWith(t, "mallory")
	c := p.NewContext(getPage("private"), sess)
	require.NoError(t, p.HandleRequest(c))

	assert.Equal(t, http.StatusForbidden, c.Response.Status())
	_, _, redirected := c.Response.Redirect()
	assert.False(t, redirected)
}

func TestACLDenyAnonymousRedirectsToLogin(t *testing.T) {
	p, _ := newACLPlugin(t, map[string]auth.ACLRule{"/private": {Users: []string{"alice"}}})

	sess := session.NewMemoryStore()
	c := p.NewContext(getPage("private/notes"), sess)
	require.NoError(t, p.HandleRequest(c))

	page, query, ok := c.Response.Redirect()
	require.True(t, ok)
	assert.Equal(t, "login", page)
	assert.Equal(t, url.Values{"afterLogin": {"private/notes"}}, query)
	assert.Equal(t, []any{"Login first to access this page"}, sess.Flashes(auth.FlashError))
}

func TestACLRuntimeRulesAreFallbackOnly(t *testing.T) {
	p, a := newACLPlugin(t, map[string]auth.ACLRule{"/docs": {Groups: []string{"staff"}}})

	// A runtime rule guards its own page.
	require.NoError(t, a.AddRule("/extension", auth.ACLRule{Users: []string{"alice"}}))
	c := p.NewContext(getPage("extension"), session.NewMemoryStore())
	assert.False(t, a.CheckAccess(c, "extension"))

	c = p.NewContext(getPage("extension"), sessionWith(t, "alice"))
	assert.True(t, a.CheckAccess(c, "extension"))

	// A configured rule cannot be widened at runtime.
	require.NoError(t, a.AddRule("/docs", auth.ACLRule{Users: []string{"mallory"}}))
	c = p.NewContext(getPage("docs"), sessionWith(t, "mallory"))
	assert.False(t, a.CheckAccess(c, "docs"))

	assert.Error(t, a.AddRule("no-slash", auth.ACLRule{}))
	assert.Error(t, a.AddRule("/trailing/", auth.ACLRule{}))
}
