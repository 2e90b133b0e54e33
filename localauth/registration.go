package localauth

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/leafpress/auth"
	"github.com/leafpress/auth/ratelimit"
)

func (m *Module) handleRegistration(c *auth.Context) error {
	if !m.cfg.Registration.Enabled {
		return nil
	}
	if c.User.Authenticated() {
		c.Response.RedirectToPage(m.pages.Index, nil)
		return nil
	}

	c.Response.AddAllowed(m.pages.Register)

	form := c.Request.Form
	if !c.Request.IsPost() || !form.Has("username") || !form.Has("email") ||
		!form.Has("password") || !form.Has("password_repeat") {
		return nil
	}

	if !c.ValidCSRF(c.Request.FormValue("csrf_token"), registerCSRFAction) {
		c.Response.RedirectToPage(m.pages.Register, nil)
		return nil
	}

	// The capacity ceiling fails fast, before any input is looked at.
	count, err := m.storage.UsersCount(c.Context())
	if err != nil {
		return err
	}
	if count >= m.cfg.Registration.MaxUsers {
		c.FlashError("New registrations are currently disabled.")
		c.Response.RedirectToPage(m.pages.Register, nil)
		return nil
	}

	username := strings.ToLower(strings.TrimSpace(c.Request.FormValue("username")))
	email := strings.TrimSpace(c.Request.FormValue("email"))
	pass := c.Request.FormValue("password")
	passRepeat := c.Request.FormValue("password_repeat")

	valid, err := m.validateRegistration(c, username, email, pass, passRepeat)
	if err != nil {
		return err
	}
	if !valid {
		// Refill the form on the next render; the password is never
		// echoed back.
		c.Session.AddFlash(auth.FlashOld, map[string]string{
			"username": username,
			"email":    email,
		})
		c.Response.RedirectToPage(m.pages.Register, nil)
		return nil
	}

	decision, err := m.limiter.Action(c.Context(), ratelimit.ActionRegistration, true,
		ratelimit.Params{Address: c.Request.RemoteAddr})
	if err != nil {
		return err
	}
	if !decision.Allowed {
		c.FlashError(decision.Message)
		c.Response.RedirectToPage(m.pages.Register, nil)
		return nil
	}

	m.logRegistration(c, username, email, count)

	userData := &UserData{Email: email}
	if err := m.encodePassword(userData, pass); err != nil {
		return err
	}
	if err := m.storage.SaveUser(c.Context(), username, userData); err != nil {
		return err
	}

	c.FlashSuccess("Registration completed successfully, you can now log in.")
	c.RedirectToLogin("")
	return nil
}

// validateRegistration runs every check and flashes every failure, so
// the user sees the full list instead of one problem per submission.
func (m *Module) validateRegistration(c *auth.Context, username, email, pass, passRepeat string) (bool, error) {
	valid := true

	if !m.storage.ValidName(username) {
		valid = false
		c.FlashError("The username contains invalid characters.")
	}

	min, max := m.cfg.Registration.NameLenMin, m.cfg.Registration.NameLenMax
	if len(username) < min || len(username) > max {
		valid = false
		c.FlashError(fmt.Sprintf("Length of a username must be between %d-%d characters.", min, max))
	}

	if !validEmail(email) {
		valid = false
		c.FlashError("Email address does not have a valid format.")
	} else {
		_, taken, err := m.storage.UserByEmail(c.Context(), email)
		if err != nil {
			return false, err
		}
		if taken {
			valid = false
			c.FlashError("This email is already in use.")
		}
	}

	if pass != passRepeat {
		valid = false
		c.FlashError("The passwords do not match.")
	}

	okPolicy, err := m.checkPasswordPolicy(c, pass)
	if err != nil {
		return false, err
	}
	if !okPolicy {
		valid = false
	}

	_, taken, err := m.storage.UserByName(c.Context(), username)
	if err != nil {
		return false, err
	}
	if taken {
		valid = false
		c.FlashError("The username is already taken.")
	}

	return valid, nil
}

// logRegistration records the signup and warns at each 10% step of the
// configured capacity, surfacing the ceiling before it starts
// rejecting users.
func (m *Module) logRegistration(c *auth.Context, username, email string, countBefore int) {
	m.log.Info("new registration",
		zap.String("user", username),
		zap.String("email", email),
		zap.String("address", c.Request.RemoteAddr))

	max := m.cfg.Registration.MaxUsers
	count := countBefore + 1
	step := (max + 9) / 10
	if step > 0 && count%step == 0 {
		percentStep := (max + 99) / 100
		m.log.Warn("user capacity milestone reached",
			zap.Int("percent", count/percentStep),
			zap.Int("users", count),
			zap.Int("max", max))
	}
}
