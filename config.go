package auth

import (
	"bytes"
	"fmt"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leafpress/auth/password"
	"github.com/leafpress/auth/ratelimit"
)

// Duration is a time.Duration that unmarshals from YAML as either a
// duration string ("15m") or a plain number of seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var secs int64
	if err := node.Decode(&secs); err == nil {
		d.Duration = time.Duration(secs) * time.Second
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("auth: invalid duration value at line %d", node.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("auth: invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Seconds returns a Duration of n seconds, for building configs in
// code.
func Seconds(n int) Duration {
	return Duration{Duration: time.Duration(n) * time.Second}
}

// PagesConfig names the internal page ids the modules route on.
type PagesConfig struct {
	Index         string `yaml:"index"`
	Login         string `yaml:"login"`
	Register      string `yaml:"register"`
	Account       string `yaml:"account"`
	PasswordReset string `yaml:"passwordReset"`
}

// SessionConfig bounds a session's lifetime. A zero value disables the
// corresponding check.
type SessionConfig struct {
	// Timeout is the absolute session lifetime since creation.
	Timeout Duration `yaml:"timeout"`
	// Idle expires sessions with no request for this long.
	Idle Duration `yaml:"idle"`
	// Rotation forces a session-id rotation at this interval.
	Rotation Duration `yaml:"rotation"`
}

// CSRFConfig tunes token checking.
type CSRFConfig struct {
	Validity Duration `yaml:"validity"`
}

// PolicyConfig describes password-policy constraints.
type PolicyConfig struct {
	MinLength    int               `yaml:"minLength"`
	MaxLength    int               `yaml:"maxLength"`
	MinNumbers   int               `yaml:"minNumbers"`
	MinUppercase int               `yaml:"minUppercase"`
	MinLowercase int               `yaml:"minLowercase"`
	MinSpecial   int               `yaml:"minSpecial"`
	Regex        []RegexConstraint `yaml:"regex"`
}

// RegexConstraint is a custom pattern constraint with its error text.
type RegexConstraint struct {
	Pattern string `yaml:"pattern"`
	Message string `yaml:"message"`
}

// Build compiles the configured constraints into a Policy.
func (p PolicyConfig) Build() (*password.Policy, error) {
	policy := password.NewPolicy()
	if p.MinLength > 0 {
		policy.MinLength(p.MinLength)
	}
	if p.MaxLength > 0 {
		policy.MaxLength(p.MaxLength)
	}
	if p.MinNumbers > 0 {
		policy.MinNumbers(p.MinNumbers)
	}
	if p.MinUppercase > 0 {
		policy.MinUppercase(p.MinUppercase)
	}
	if p.MinLowercase > 0 {
		policy.MinLowercase(p.MinLowercase)
	}
	if p.MinSpecial > 0 {
		policy.MinSpecial(p.MinSpecial)
	}
	for _, rc := range p.Regex {
		re, err := regexp.Compile(rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("auth: invalid policy regex %q: %w", rc.Pattern, err)
		}
		policy.Matches(re, rc.Message)
	}
	return policy, nil
}

// LoginConfig tunes the login flow.
type LoginConfig struct {
	// PasswordRehash transparently re-encodes stored hashes with the
	// active encoder settings on successful login.
	PasswordRehash bool `yaml:"passwordRehash"`
}

// RegistrationConfig gates self-service account creation.
type RegistrationConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxUsers   int  `yaml:"maxUsers"`
	NameLenMin int  `yaml:"nameLenMin"`
	NameLenMax int  `yaml:"nameLenMax"`
}

// PasswordResetConfig tunes the email reset flow. TokenIDLen and
// TokenLen are byte lengths; the link token is their hex encoding, so
// the first 2*TokenIDLen characters select the stored record and the
// rest is the verifier.
type PasswordResetConfig struct {
	Enabled       bool     `yaml:"enabled"`
	TokenIDLen    int      `yaml:"tokenIdLen"`
	TokenLen      int      `yaml:"tokenLen"`
	TokenValidity Duration `yaml:"tokenValidity"`
	// ResetTimeout bounds the reset session started by a valid link.
	ResetTimeout Duration `yaml:"resetTimeout"`
	EmailSubject string   `yaml:"emailSubject"`
	EmailMessage string   `yaml:"emailMessage"`
}

// AccountEditConfig gates the change-password page.
type AccountEditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LocalAuthConfig configures the username/password authenticator.
type LocalAuthConfig struct {
	Encoder       string              `yaml:"encoder"`
	Policy        PolicyConfig        `yaml:"policy"`
	Login         LoginConfig         `yaml:"login"`
	Registration  RegistrationConfig  `yaml:"registration"`
	PasswordReset PasswordResetConfig `yaml:"passwordReset"`
	AccountEdit   AccountEditConfig   `yaml:"accountEdit"`
}

// ACLRule restricts a page to listed user ids and/or groups. A rule
// with both lists empty denies everyone. Recursive nil means the rule
// also covers descendant pages.
type ACLRule struct {
	Users     []string `yaml:"users"`
	Groups    []string `yaml:"groups"`
	Recursive *bool    `yaml:"recursive"`
}

/// LockConfig is one shared-secret lock: the key is stored encoded with
// the PageLock encoder, never plain. Encoder overrides the shared
// PageLock encoder for this lock.
type LockConfig struct {
	Key     string `yaml:"key"`
	File    string `yaml:"file"`
	Encoder string `yaml:"encoder"`
}

// LockRule binds a page path to a lock id.
type LockRule struct {
	LockID    string `yaml:"lock"`
	Recursive *bool  `yaml:"recursive"`
}

// PageLockConfig configures shared-secret page locks.
type PageLockConfig struct {
	Encoder string                `yaml:"encoder"`
	Locks   map[string]LockConfig `yaml:"locks"`
	Pages   map[string]LockRule   `yaml:"pages"`
}

// ProviderConfig describes one external OAuth2 identity provider.
type ProviderConfig struct {
	ClientID     string   `yaml:"clientId"`
	ClientSecret string   `yaml:"clientSecret"`
	AuthURL      string   `yaml:"authUrl"`
	TokenURL     string   `yaml:"tokenUrl"`
	RedirectURL  string   `yaml:"redirectUrl"`
	Scopes       []string `yaml:"scopes"`
	// UserIDClaim and NameClaim select ID-token claims for the user
	// identity; they default to "sub" and "name".
	UserIDClaim string `yaml:"userIdClaim"`
	NameClaim   string `yaml:"nameClaim"`
	// Groups are attached to every user of this provider.
	Groups []string `yaml:"groups"`
}

// OAuthConfig configures the external-IdP bridge. CallbackPage is the
// page id registered with providers as the redirect target.
type OAuthConfig struct {
	Enabled      bool                      `yaml:"enabled"`
	CallbackPage string                    `yaml:"callbackPage"`
	Providers    map[string]ProviderConfig `yaml:"providers"`
}

// Config is the validated root configuration. Construct it in code or
// through LoadConfig, then treat it as immutable.
type Config struct {
	// Production rejects configurations that are only acceptable in
	// tests, such as the plaintext encoder.
	Production bool `yaml:"production"`
	// Debug exposes detailed errors to responses. Never set in
	// production.
	Debug bool `yaml:"debug"`

	Pages PagesConfig `yaml:"pages"`
	// AfterLogin is the page users land on after authentication when
	// no valid afterLogin parameter accompanies the request.
	AfterLogin string `yaml:"afterLogin"`
	// AfterLogout is the page users land on after logout.
	AfterLogout string `yaml:"afterLogout"`

	Session   SessionConfig    `yaml:"session"`
	CSRF      CSRFConfig       `yaml:"csrf"`
	LocalAuth LocalAuthConfig  `yaml:"localAuth"`
	Access    map[string]ACLRule `yaml:"access"`
	PageLock  PageLockConfig   `yaml:"pageLock"`
	OAuth     OAuthConfig      `yaml:"oauth"`
	RateLimit ratelimit.Config `yaml:"rateLimit"`
}

// LoadConfig parses and validates a YAML configuration. Unknown keys
// are rejected rather than silently ignored.
func LoadConfig(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("auth: parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate applies defaults and rejects malformed values with
// descriptive errors. It must be called before the config is used;
// NewPlugin calls it.
func (c *Config) Validate() error {
	defaultString(&c.Pages.Index, "index")
	defaultString(&c.Pages.Login, "login")
	defaultString(&c.Pages.Register, "register")
	defaultString(&c.Pages.Account, "account")
	defaultString(&c.Pages.PasswordReset, "password_reset")
	defaultString(&c.AfterLogin, c.Pages.Index)
	defaultString(&c.AfterLogout, c.Pages.Index)

	if c.Session.Timeout.Duration < 0 || c.Session.Idle.Duration < 0 || c.Session.Rotation.Duration < 0 {
		return fmt.Errorf("auth: session timeout values must not be negative")
	}

	if c.CSRF.Validity.Duration < 0 {
		return fmt.Errorf("auth: csrf validity must not be negative")
	}
	if c.CSRF.Validity.Duration == 0 {
		c.CSRF.Validity = Duration{Duration: time.Hour}
	}

	la := &c.LocalAuth
	defaultString(&la.Encoder, password.BCryptName)
	if c.Production && la.Encoder == password.PlaintextName {
		return fmt.Errorf("auth: plaintext encoder is not allowed in production")
	}
	if _, err := la.Policy.Build(); err != nil {
		return err
	}

	reg := &la.Registration
	defaultInt(&reg.MaxUsers, 10000)
	defaultInt(&reg.NameLenMin, 3)
	defaultInt(&reg.NameLenMax, 20)
	if reg.NameLenMin < 1 || reg.NameLenMax < reg.NameLenMin {
		return fmt.Errorf("auth: registration name length bounds %d-%d are invalid", reg.NameLenMin, reg.NameLenMax)
	}
	if reg.MaxUsers < 1 {
		return fmt.Errorf("auth: registration maxUsers must be positive")
	}

	pr := &la.PasswordReset
	defaultInt(&pr.TokenIDLen, 10)
	defaultInt(&pr.TokenLen, 50)
	if pr.TokenIDLen < 1 || pr.TokenLen <= pr.TokenIDLen {
		return fmt.Errorf("auth: reset tokenLen %d must exceed tokenIdLen %d", pr.TokenLen, pr.TokenIDLen)
	}
	if pr.TokenValidity.Duration == 0 {
		pr.TokenValidity = Seconds(7200)
	}
	if pr.ResetTimeout.Duration == 0 {
		pr.ResetTimeout = Seconds(1800)
	}
	if pr.TokenValidity.Duration < 0 || pr.ResetTimeout.Duration < 0 {
		return fmt.Errorf("auth: reset validity values must not be negative")
	}
	defaultString(&pr.EmailSubject, "Password Reset")
	defaultString(&pr.EmailMessage, "Hello,\n\nvisit the link below to reset your password:\n%url%")

	for page := range c.Access {
		if !ValidRulePath(page) {
			return fmt.Errorf("auth: access rule path %q must start with a slash and not end with one", page)
		}
	}

	pl := &c.PageLock
	defaultString(&pl.Encoder, password.BCryptName)
	if c.Production && pl.Encoder == password.PlaintextName {
		return fmt.Errorf("auth: plaintext encoder is not allowed in production")
	}
	for id, lock := range pl.Locks {
		if id == "" || lock.Key == "" {
			return fmt.Errorf("auth: page lock %q must have a non-empty id and key", id)
		}
		if c.Production && lock.Encoder == password.PlaintextName {
			return fmt.Errorf("auth: plaintext encoder is not allowed in production")
		}
	}
	for page, rule := range pl.Pages {
		if !ValidRulePath(page) {
			return fmt.Errorf("auth: page lock path %q must start with a slash and not end with one", page)
		}
		if _, ok := pl.Locks[rule.LockID]; !ok {
			return fmt.Errorf("auth: page lock path %q references unknown lock %q", page, rule.LockID)
		}
	}

	defaultString(&c.OAuth.CallbackPage, "sso")
	for name, p := range c.OAuth.Providers {
		if p.ClientID == "" || p.AuthURL == "" || p.TokenURL == "" {
			return fmt.Errorf("auth: oauth provider %q needs clientId, authUrl and tokenUrl", name)
		}
	}

	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	return nil
}

// ValidRulePath accepts normalized rule paths: a leading slash, no
// trailing slash ("/" itself is allowed).
func ValidRulePath(p string) bool {
	if p == "/" {
		return true
	}
	return len(p) > 1 && p[0] == '/' && p[len(p)-1] != '/'
}

func defaultString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func defaultInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}
