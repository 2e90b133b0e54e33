package password

import (
	"crypto/subtle"
	"strings"
)

// PlaintextMaxLen caps plaintext comparison input, mirroring the argon2
// guard so test fixtures behave like real encoders.
const PlaintextMaxLen = 4096

// PlaintextOptions configures the plaintext encoder.
type PlaintextOptions struct {
	// IgnoreCase compares passwords case-insensitively.
	IgnoreCase bool `yaml:"ignoreCase"`
}

// Plaintext stores passwords verbatim. It exists for test fixtures and
// page-lock keys where the secret is not a user credential; never select it
// for production password storage.
type Plaintext struct {
	ignoreCase bool
}

// NewPlaintext returns a plaintext encoder.
func NewPlaintext(opts PlaintextOptions) *Plaintext {
	return &Plaintext{ignoreCase: opts.IgnoreCase}
}

func (p *Plaintext) Encode(raw string) (string, error) {
	if len(raw) > PlaintextMaxLen {
		return "", lengthError(PlaintextMaxLen)
	}
	return raw, nil
}

func (p *Plaintext) IsValid(encoded, raw string) bool {
	if len(raw) > PlaintextMaxLen {
		return false
	}
	if p.ignoreCase {
		encoded = strings.ToLower(encoded)
		raw = strings.ToLower(raw)
	}
	return subtle.ConstantTimeCompare([]byte(encoded), []byte(raw)) == 1
}

func (p *Plaintext) NeedsRehash(string) bool {
	return false
}

func (p *Plaintext) MaxAllowedLen() int {
	return PlaintextMaxLen
}
