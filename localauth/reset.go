package localauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/leafpress/auth"
	"github.com/leafpress/auth/ratelimit"
)

const resetSessionKey = "pwreset"

// resetSession authorizes one user to set a new password until the
// deadline, without being logged in.
type resetSession struct {
	User       string
	ValidUntil int64
}

var hexTokenPattern = regexp.MustCompile(`^[a-f0-9]+$`)

func (m *Module) handlePasswordReset(c *auth.Context) error {
	if err := m.checkResetLink(c); err != nil {
		return err
	}
	if _, _, redirected := c.Response.Redirect(); redirected {
		return nil
	}

	if raw, ok := c.Session.Get(resetSessionKey); ok {
		if rs, ok := raw.(resetSession); ok {
			return m.finishPasswordReset(c, rs)
		}
		c.Session.Remove(resetSessionKey)
	}
	return m.beginPasswordReset(c)
}

// beginPasswordReset serves the request form and turns a submitted
// email into a mailed reset link. The response is identical whether or
// not the email matched an account.
func (m *Module) beginPasswordReset(c *auth.Context) error {
	if !m.cfg.PasswordReset.Enabled {
		return nil
	}
	c.Response.AddAllowed(m.pages.PasswordReset)

	// Right after a submission, render the confirmation instead of
	// the form again.
	if len(c.Session.Flashes("_pwresetsent")) > 0 {
		c.Response.Output("resetSent", true)
		return nil
	}

	if !c.Request.IsPost() || !c.Request.Form.Has("reset_email") {
		return nil
	}

	if !c.ValidCSRF(c.Request.FormValue("csrf_token"), "") {
		c.Response.RedirectToPage(m.pages.PasswordReset, nil)
		return nil
	}

	email := strings.TrimSpace(c.Request.FormValue("reset_email"))
	if !validEmail(email) {
		c.FlashError("Email address does not have a valid format.")
		c.Response.RedirectToPage(m.pages.PasswordReset, nil)
		return nil
	}

	decision, err := m.limiter.Action(c.Context(), ratelimit.ActionPasswordReset, true,
		ratelimit.Params{Address: c.Request.RemoteAddr, Email: email})
	if err != nil {
		return err
	}
	if !decision.Allowed {
		c.FlashError(decision.Message)
		c.Response.RedirectToPage(m.pages.PasswordReset, nil)
		return nil
	}

	userData, found, err := m.storage.UserByEmail(c.Context(), email)
	if err != nil {
		return err
	}
	if found {
		if err := m.sendResetMail(c, userData); err != nil {
			return err
		}
	}

	c.Session.AddFlash("_pwresetsent", true)
	c.FlashSuccess("Reset link sent via email.")
	c.Response.RedirectToPage(m.pages.PasswordReset, nil)
	return nil
}

// checkResetLink consumes a reset link's confirm token. Malformed
// tokens are ignored before any storage access; a stored token is
// deleted by the lookup itself, so every link works at most once. Any
// link visit, valid or not, ends a previously active reset session.
func (m *Module) checkResetLink(c *auth.Context) error {
	pr := m.cfg.PasswordReset
	token := c.Request.QueryValue("confirm")
	wantLen := 2 * (pr.TokenIDLen + pr.TokenLen)
	if !pr.Enabled || token == "" || len(token) != wantLen || !hexTokenPattern.MatchString(token) {
		return nil
	}

	c.Session.Remove(resetSessionKey)

	tokenID := token[:2*pr.TokenIDLen]
	verifier := token[2*pr.TokenIDLen:]

	rec, found, err := m.storage.TakeResetToken(c.Context(), tokenID)
	if err != nil {
		return err
	}
	if !found || m.now().Unix() > rec.ValidUntil || !verifierMatches(verifier, rec.TokenHash) {
		c.FlashError("Reset link has expired.")
		m.log.Warn("bad reset token",
			zap.String("address", c.Request.RemoteAddr))
		c.Response.RedirectToPage(m.pages.PasswordReset, nil)
		return nil
	}

	c.FlashSuccess("Please set a new password.")
	m.startResetSession(c, rec.User)
	m.log.Info("valid reset link visited",
		zap.String("user", rec.User),
		zap.String("address", c.Request.RemoteAddr))
	c.Response.RedirectToPage(m.pages.PasswordReset, nil)
	return nil
}

// finishPasswordReset serves the completion form during an active
// reset session and applies the new password, ending with the same
// session commit as a normal login.
func (m *Module) finishPasswordReset(c *auth.Context, rs resetSession) error {
	if m.now().Unix() > rs.ValidUntil {
		c.Session.Remove(resetSessionKey)
		c.FlashError("Page validity expired, please try again.")
		c.RedirectToLogin("")
		return nil
	}

	c.Response.AddAllowed(m.pages.PasswordReset)
	c.Response.Output("isReset", true)

	form := c.Request.Form
	if !c.Request.IsPost() || !form.Has("new_password") || !form.Has("new_password_repeat") {
		return nil
	}

	if !c.ValidCSRF(c.Request.FormValue("csrf_token"), "") {
		c.Response.RedirectToPage(m.pages.PasswordReset, nil)
		return nil
	}

	pass := c.Request.FormValue("new_password")
	if pass != c.Request.FormValue("new_password_repeat") {
		c.FlashError("The passwords do not match.")
		c.Response.RedirectToPage(m.pages.PasswordReset, nil)
		return nil
	}

	okPolicy, err := m.checkPasswordPolicy(c, pass)
	if err != nil {
		return err
	}
	if !okPolicy {
		c.Response.RedirectToPage(m.pages.PasswordReset, nil)
		return nil
	}

	c.Session.Remove(resetSessionKey)

	userData, found, err := m.storage.UserByName(c.Context(), rs.User)
	if err != nil {
		return err
	}
	if !found {
		// The account disappeared between link and completion.
		c.FlashError("Page validity expired, please try again.")
		c.RedirectToLogin("")
		return nil
	}
	if err := m.encodePassword(userData, pass); err != nil {
		return err
	}
	if err := m.storage.SaveUser(c.Context(), rs.User, userData); err != nil {
		return err
	}

	m.log.Info("completed password reset",
		zap.String("user", rs.User),
		zap.String("address", c.Request.RemoteAddr))

	m.login(c, rs.User, userData)
	return c.AfterLogin()
}

// startResetSession rotates the session id and authorizes rs.User to
// set a new password within the configured window.
func (m *Module) startResetSession(c *auth.Context, user string) {
	_ = c.Session.Migrate(true)
	c.Session.Set(resetSessionKey, resetSession{
		User:       user,
		ValidUntil: m.now().Unix() + int64(m.cfg.PasswordReset.ResetTimeout.Duration.Seconds()),
	})
}

// createResetToken stores a new grant and returns the link token:
// token-id prefix plus verifier, both hex. Only the verifier's hash is
// stored.
func (m *Module) createResetToken(c *auth.Context, username string) (string, error) {
	pr := m.cfg.PasswordReset
	tokenID, err := randomHex(pr.TokenIDLen)
	if err != nil {
		return "", err
	}
	verifier, err := randomHex(pr.TokenLen)
	if err != nil {
		return "", err
	}
	err = m.storage.SaveResetToken(c.Context(), tokenID, ResetToken{
		TokenHash:  hashVerifier(verifier),
		User:       username,
		ValidUntil: m.now().Unix() + int64(pr.TokenValidity.Duration.Seconds()),
	})
	if err != nil {
		return "", err
	}
	return tokenID + verifier, nil
}

// sendResetMail mails a fresh reset link. Delivery failure is logged
// and swallowed: the requester's response must not reveal it.
func (m *Module) sendResetMail(c *auth.Context, userData *UserData) error {
	if m.mailer == nil {
		m.log.Error("reset mail requested but no mailer is configured")
		return nil
	}

	token, err := m.createResetToken(c, userData.Name)
	if err != nil {
		return err
	}
	url := m.resetURL(token)

	pr := m.cfg.PasswordReset
	body := strings.ReplaceAll(pr.EmailMessage, "%url%", url)
	body = strings.ReplaceAll(body, "%username%", userData.Name)

	m.mailer.Setup()
	m.mailer.SetTo(userData.Email)
	m.mailer.SetSubject(pr.EmailSubject)
	m.mailer.SetBody(body)
	if err := m.mailer.Send(c.Context()); err != nil {
		m.log.Error("reset mail delivery failed", zap.Error(err))
		return nil
	}
	m.log.Info("reset mail sent", zap.String("user", userData.Name))
	return nil
}

// hashVerifier hashes the hex verifier string as transmitted, so the
// stored value never reproduces the link.
func hashVerifier(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return hex.EncodeToString(sum[:])
}

func verifierMatches(verifier, storedHash string) bool {
	computed := hashVerifier(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
