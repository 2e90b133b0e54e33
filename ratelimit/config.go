package ratelimit

import "fmt"

// Default netmasks applied to client addresses for the "ip" scope.
const (
	DefaultNetmaskIPv4 = 32
	DefaultNetmaskIPv6 = 48
)

// DefaultCleanupProbability is the percent chance that an increment
// also sweeps stale entries from its bucket.
const DefaultCleanupProbability = 25

// Rule limits one scope of an action. Count is the number of attempts
// allowed within CounterTimeout seconds; once reached, the entity stays
// blocked for BlockDuration seconds after its last attempt.
type Rule struct {
	Scope          string `yaml:"scope"`
	Count          int    `yaml:"count"`
	CounterTimeout int    `yaml:"counterTimeout"`
	BlockDuration  int    `yaml:"blockDuration"`
	ErrorMsg       string `yaml:"errorMsg"`
	NetmaskIPv4    *int   `yaml:"netmaskIPv4"`
	NetmaskIPv6    *int   `yaml:"netmaskIPv6"`
}

// Config maps action names to their ordered scope rules. The rule order
// in the slice is the evaluation order.
type Config struct {
	CleanupProbability *int              `yaml:"cleanupProbability"`
	Actions            map[string][]Rule `yaml:"actions"`
}

// DefaultConfig returns limits for the built-in authentication actions.
func DefaultConfig() Config {
	return Config{
		Actions: map[string][]Rule{
			ActionLogin: {
				{Scope: ScopeIP, Count: 50, CounterTimeout: 43200, BlockDuration: 900,
					ErrorMsg: "Amount of failed attempts exceeded, wait %min% minutes."},
				{Scope: ScopeAccount, Count: 10, CounterTimeout: 43200, BlockDuration: 900,
					ErrorMsg: "Amount of failed attempts exceeded, wait %min% minutes."},
			},
			ActionPasswordReset: {
				{Scope: ScopeEmail, Count: 2, CounterTimeout: 86400, BlockDuration: 86400,
					ErrorMsg: "Maximum of %cnt% reset emails were sent, check your inbox."},
				{Scope: ScopeIP, Count: 10, CounterTimeout: 86400, BlockDuration: 86400,
					ErrorMsg: "Amount of maximum submissions exceeded, wait %min% minutes."},
			},
			ActionRegistration: {
				{Scope: ScopeIP, Count: 2, BlockDuration: 86400,
					ErrorMsg: "Amount of maximum submissions exceeded, wait %min% minutes."},
			},
			ActionPageLock: {
				{Scope: ScopeIP, Count: 10, BlockDuration: 1800},
			},
		},
	}
}

// Validate checks the configuration and fills per-rule defaults.
// A rule's CounterTimeout defaults to its BlockDuration.
func (c *Config) Validate() error {
	if c.CleanupProbability != nil {
		if p := *c.CleanupProbability; p < 0 || p > 100 {
			return fmt.Errorf("ratelimit: cleanupProbability must be 0-100, got %d", p)
		}
	}
	for action, rules := range c.Actions {
		if action == "" {
			return fmt.Errorf("ratelimit: action name must not be empty")
		}
		for i := range rules {
			r := &rules[i]
			if r.Scope == "" {
				return fmt.Errorf("ratelimit: action %q rule %d: scope is required", action, i)
			}
			if r.Count < 0 {
				return fmt.Errorf("ratelimit: action %q scope %q: count must be >= 0", action, r.Scope)
			}
			if r.BlockDuration < 0 {
				return fmt.Errorf("ratelimit: action %q scope %q: blockDuration must be >= 0", action, r.Scope)
			}
			if r.CounterTimeout == 0 {
				r.CounterTimeout = r.BlockDuration
			} else if r.CounterTimeout < 0 {
				return fmt.Errorf("ratelimit: action %q scope %q: counterTimeout must be >= 0", action, r.Scope)
			}
			if r.NetmaskIPv4 != nil && (*r.NetmaskIPv4 < 0 || *r.NetmaskIPv4 > 32) {
				return fmt.Errorf("ratelimit: action %q scope %q: netmaskIPv4 must be 0-32", action, r.Scope)
			}
			if r.NetmaskIPv6 != nil && (*r.NetmaskIPv6 < 0 || *r.NetmaskIPv6 > 128) {
				return fmt.Errorf("ratelimit: action %q scope %q: netmaskIPv6 must be 0-128", action, r.Scope)
			}
		}
	}
	return nil
}

func (c *Config) cleanupProbability() int {
	if c.CleanupProbability == nil {
		return DefaultCleanupProbability
	}
	return *c.CleanupProbability
}
