package localauth

import "github.com/leafpress/auth"

// handleAccountPage serves the password-change page. It is reserved
// for users this module authenticated: a federated identity has no
// local password to change.
func (m *Module) handleAccountPage(c *auth.Context) error {
	if !c.User.Authenticated() {
		c.FlashError("Login to access this page.")
		c.RedirectToLogin(m.pages.Account)
		return nil
	}
	if c.User.Authenticator() != Name {
		c.Response.RedirectToPage(m.pages.Index, nil)
		return nil
	}
	if !m.cfg.AccountEdit.Enabled {
		return nil
	}

	c.Response.AddAllowed(m.pages.Account)

	form := c.Request.Form
	if !c.Request.IsPost() || !form.Has("new_password") ||
		!form.Has("new_password_repeat") || !form.Has("old_password") {
		return nil
	}

	if !c.ValidCSRF(c.Request.FormValue("csrf_token"), "") {
		c.Response.RedirectToPage(m.pages.Account, nil)
		return nil
	}

	username := c.User.ID()
	pass := c.Request.FormValue("new_password")

	if pass != c.Request.FormValue("new_password_repeat") {
		c.FlashError("The passwords do not match.")
		c.Response.RedirectToPage(m.pages.Account, nil)
		return nil
	}

	// The session alone is not proof enough for a password change;
	// the current password is verified live.
	ok, _, err := m.loginAttempt(c.Context(), username, c.Request.FormValue("old_password"))
	if err != nil {
		return err
	}
	if !ok {
		c.FlashError("The current password is incorrect")
		c.Response.RedirectToPage(m.pages.Account, nil)
		return nil
	}

	okPolicy, err := m.checkPasswordPolicy(c, pass)
	if err != nil {
		return err
	}
	if !okPolicy {
		c.Response.RedirectToPage(m.pages.Account, nil)
		return nil
	}

	userData, found, err := m.storage.UserByName(c.Context(), username)
	if err != nil {
		return err
	}
	if !found {
		c.FlashError("The current password is incorrect")
		c.Response.RedirectToPage(m.pages.Account, nil)
		return nil
	}
	if err := m.encodePassword(userData, pass); err != nil {
		return err
	}
	if err := m.storage.SaveUser(c.Context(), username, userData); err != nil {
		return err
	}

	c.FlashSuccess("Password changed successfully.")
	c.Response.RedirectToPage(m.pages.Account, nil)
	return nil
}
