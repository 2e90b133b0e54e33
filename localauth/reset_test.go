package localauth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafpress/auth"
	"github.com/leafpress/auth/password"
	"github.com/leafpress/auth/ratelimit"
	"github.com/leafpress/auth/session"
)

func seedResetUser(f *fixture) {
	f.seedUser("alice", &UserData{
		Email:        "alice@example.com",
		PasswordHash: "secret123",
		Encoder:      password.PlaintextName,
	})
}

func requestReset(f *fixture, sess session.Store, email string) *auth.Context {
	f.t.Helper()
	return f.run(sess, postRequest("password_reset", url.Values{
		"reset_email": {email},
		"csrf_token":  {f.csrfToken(sess, "")},
	}))
}

// mailedToken pulls the confirm token out of the captured mail body.
func mailedToken(t *testing.T, body string) string {
	t.Helper()
	_, after, found := strings.Cut(body, "confirm=")
	require.True(t, found, "mail body carries no reset link: %q", body)
	token := strings.TrimSpace(after)
	require.NotEmpty(t, token)
	return token
}

func visitLink(f *fixture, sess session.Store, token string) *auth.Context {
	f.t.Helper()
	return f.run(sess, &auth.Request{
		PageID:     "password_reset",
		Method:     http.MethodGet,
		Query:      url.Values{"confirm": {token}},
		RemoteAddr: "10.0.0.1",
	})
}

func submitNewPassword(f *fixture, sess session.Store, pass, repeat string) *auth.Context {
	f.t.Helper()
	return f.run(sess, postRequest("password_reset", url.Values{
		"new_password":        {pass},
		"new_password_repeat": {repeat},
		"csrf_token":          {f.csrfToken(sess, "")},
	}))
}

func TestPasswordResetEndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	seedResetUser(f)

	// Stage 1: request a link by email.
	sess := session.NewMemoryStore()
	c := requestReset(f, sess, "alice@example.com")

	page, _, ok := c.Response.Redirect()
	require.True(t, ok)
	assert.Equal(t, "password_reset", page)
	assert.Equal(t, []any{"Reset link sent via email."}, sess.Flashes(auth.FlashSuccess))
	require.Equal(t, 1, f.mailer.sent)
	assert.Equal(t, "alice@example.com", f.mailer.to)
	assert.Equal(t, "Password Reset", f.mailer.subject)

	// The follow-up render shows the confirmation, not the form.
	c = f.run(sess, &auth.Request{PageID: "password_reset", Method: http.MethodGet, RemoteAddr: "10.0.0.1"})
	assert.Equal(t, true, c.Response.Outputs()["resetSent"])

	token := mailedToken(t, f.mailer.body)
	assert.Len(t, token, 2*(10+50))

	// Stage 2: the link opens a time-boxed reset session.
	c = visitLink(f, sess, token)
	page, _, ok = c.Response.Redirect()
	require.True(t, ok)
	assert.Equal(t, "password_reset", page)
	assert.Equal(t, []any{"Please set a new password."}, sess.Flashes(auth.FlashSuccess))
	_, hasReset := sess.Get(resetSessionKey)
	require.True(t, hasReset)

	// The form render is now the new-password form.
	c = f.run(sess, &auth.Request{PageID: "password_reset", Method: http.MethodGet, RemoteAddr: "10.0.0.1"})
	assert.Equal(t, true, c.Response.Outputs()["isReset"])

	// Stage 3: setting the password ends authenticated.
	c = submitNewPassword(f, sess, "BrandNew123", "BrandNew123")
	require.True(t, c.User.Authenticated())
	assert.Equal(t, "alice", c.User.ID())

	stored, _, err := f.dir.UserByName(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "BrandNew123", stored.PasswordHash)
	assert.False(t, stored.PasswordReset)
	_, hasReset = sess.Get(resetSessionKey)
	assert.False(t, hasReset)
}

func TestResetRequestResponseHidesAccountExistence(t *testing.T) {
	f := newFixture(t, nil)
	seedResetUser(f)

	known := session.NewMemoryStore()
	requestReset(f, known, "alice@example.com")
	knownFlash := known.Flashes(auth.FlashSuccess)

	unknown := session.NewMemoryStore()
	requestReset(f, unknown, "nobody@example.com")
	unknownFlash := unknown.Flashes(auth.FlashSuccess)

	assert.Equal(t, knownFlash, unknownFlash)
	assert.Equal(t, 1, f.mailer.sent, "no mail goes out for an unknown address")
}

func TestResetRequestRateLimited(t *testing.T) {
	f := newFixture(t, nil)
	f.limiter.deny = map[string]string{ratelimit.ActionPasswordReset: "wait 60 minutes"}
	seedResetUser(f)

	sess := session.NewMemoryStore()
	requestReset(f, sess, "alice@example.com")

	assert.Equal(t, []any{"wait 60 minutes"}, errorFlashes(sess))
	assert.Zero(t, f.mailer.sent)
}

func TestResetLinkIsSingleUse(t *testing.T) {
	f := newFixture(t, nil)
	seedResetUser(f)

	sess := session.NewMemoryStore()
	requestReset(f, sess, "alice@example.com")
	sess.Flashes(auth.FlashSuccess)
	sess.Flashes("_pwresetsent")
	token := mailedToken(t, f.mailer.body)

	visitLink(f, sess, token)
	sess.Flashes(auth.FlashSuccess)

	// The lookup consumed the stored record, so the same link now
	// fails and tears down the reset session it opened.
	visitLink(f, sess, token)
	assert.Equal(t, []any{"Reset link has expired."}, errorFlashes(sess))
	_, hasReset := sess.Get(resetSessionKey)
	assert.False(t, hasReset)
}

func TestResetLinkExpires(t *testing.T) {
	f := newFixture(t, nil)
	seedResetUser(f)

	sess := session.NewMemoryStore()
	requestReset(f, sess, "alice@example.com")
	sess.Flashes(auth.FlashSuccess)
	sess.Flashes("_pwresetsent")
	token := mailedToken(t, f.mailer.body)

	f.now = f.now.Add(2*time.Hour + time.Second)

	visitLink(f, sess, token)
	assert.Equal(t, []any{"Reset link has expired."}, errorFlashes(sess))
}

func TestResetLinkWrongVerifierRejected(t *testing.T) {
	f := newFixture(t, nil)
	seedResetUser(f)

	sess := session.NewMemoryStore()
	requestReset(f, sess, "alice@example.com")
	sess.Flashes(auth.FlashSuccess)
	sess.Flashes("_pwresetsent")
	token := mailedToken(t, f.mailer.body)

	// Same record id, corrupted verifier tail.
	tampered := token[:len(token)-1]
	if token[len(token)-1] == 'a' {
		tampered += "b"
	} else {
		tampered += "a"
	}

	visitLink(f, sess, tampered)
	assert.Equal(t, []any{"Reset link has expired."}, errorFlashes(sess))
	_, hasReset := sess.Get(resetSessionKey)
	assert.False(t, hasReset)
}

func TestResetMalformedTokenIgnored(t *testing.T) {
	f := newFixture(t, nil)
	seedResetUser(f)

	for _, token := range []string{"short", strings.Repeat("zz", 60), strings.Repeat("AB", 60)} {
		sess := session.NewMemoryStore()
		c := visitLink(f, sess, token)

		// No storage lookup result to report; the plain request form
		// renders.
		_, _, redirected := c.Response.Redirect()
		assert.False(t, redirected, "token %q", token)
		assert.Empty(t, errorFlashes(sess))
	}
}

func TestResetSessionDeadline(t *testing.T) {
	f := newFixture(t, nil)
	seedResetUser(f)

	sess := session.NewMemoryStore()
	requestReset(f, sess, "alice@example.com")
	sess.Flashes(auth.FlashSuccess)
	sess.Flashes("_pwresetsent")
	token := mailedToken(t, f.mailer.body)
	visitLink(f, sess, token)
	sess.Flashes(auth.FlashSuccess)

	f.now = f.now.Add(31 * time.Minute)

	c := submitNewPassword(f, sess, "BrandNew123", "BrandNew123")
	assert.False(t, c.User.Authenticated())
	assert.Equal(t, []any{"Page validity expired, please try again."}, errorFlashes(sess))
	page, _, ok := c.Response.Redirect()
	require.True(t, ok)
	assert.Equal(t, "login", page)
	_, hasReset := sess.Get(resetSessionKey)
	assert.False(t, hasReset)
}

func TestResetMismatchedPasswordsKeepSession(t *testing.T) {
	f := newFixture(t, nil)
	seedResetUser(f)

	sess := session.NewMemoryStore()
	requestReset(f, sess, "alice@example.com")
	sess.Flashes(auth.FlashSuccess)
	sess.Flashes("_pwresetsent")
	visitLink(f, sess, mailedToken(t, f.mailer.body))
	sess.Flashes(auth.FlashSuccess)

	c := submitNewPassword(f, sess, "BrandNew123", "Different123")
	assert.False(t, c.User.Authenticated())
	assert.Equal(t, []any{"The passwords do not match."}, errorFlashes(sess))

	// The reset session survives a bad submission.
	_, hasReset := sess.Get(resetSessionKey)
	assert.True(t, hasReset)
}

func TestResetDisabled(t *testing.T) {
	f := newFixture(t, nil)
	f.module.cfg.PasswordReset.Enabled = false
	seedResetUser(f)

	sess := session.NewMemoryStore()
	requestReset(f, sess, "alice@example.com")
	assert.Zero(t, f.mailer.sent)
	assert.Empty(t, sess.Flashes(auth.FlashSuccess))
}
