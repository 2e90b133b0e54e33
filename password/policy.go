package password

import (
	"fmt"
	"regexp"
	"unicode"
	"unicode/utf8"
)

// Policy is a builder of composable password constraints. Check evaluates
// every constraint in registration order and collects all failing messages,
// so the user sees the complete list, not just the first violation.
//
// Lengths count Unicode code points, not bytes.
type Policy struct {
	constraints []func(string) (bool, string)
}

// NewPolicy returns a policy with no constraints (everything passes).
func NewPolicy() *Policy {
	return &Policy{}
}

// MinLength requires at least n characters.
func (p *Policy) MinLength(n int) *Policy {
	p.constraints = append(p.constraints, func(s string) (bool, string) {
		return utf8.RuneCountInString(s) >= n,
			fmt.Sprintf("Minimum password length is %d characters.", n)
	})
	return p
}

// MaxLength requires at most n characters. Provided only as a DoS guard for
// expensive hashing algorithms; limiting maximum length without a specific
// reason is not advised.
func (p *Policy) MaxLength(n int) *Policy {
	p.constraints = append(p.constraints, func(s string) (bool, string) {
		return utf8.RuneCountInString(s) <= n,
			fmt.Sprintf("Maximum password length is %d characters.", n)
	})
	return p
}

// MinNumbers requires at least n numeric characters.
func (p *Policy) MinNumbers(n int) *Policy {
	p.constraints = append(p.constraints, func(s string) (bool, string) {
		return countRunes(s, unicode.IsNumber) >= n,
			fmt.Sprintf("Password must contain at least %d numbers.", n)
	})
	return p
}

// MinUppercase requires at least n uppercase letters, from any language.
func (p *Policy) MinUppercase(n int) *Policy {
	p.constraints = append(p.constraints, func(s string) (bool, string) {
		return countRunes(s, unicode.IsUpper) >= n,
			fmt.Sprintf("Password must contain at least %d uppercase letters.", n)
	})
	return p
}

// MinLowercase requires at least n lowercase letters, from any language.
func (p *Policy) MinLowercase(n int) *Policy {
	p.constraints = append(p.constraints, func(s string) (bool, string) {
		return countRunes(s, unicode.IsLower) >= n,
			fmt.Sprintf("Password must contain at least %d lowercase letters.", n)
	})
	return p
}

// MinSpecial requires at least n characters that are not ASCII letters or
// digits. Language-specific letters count as special on purpose.
func (p *Policy) MinSpecial(n int) *Policy {
	p.constraints = append(p.constraints, func(s string) (bool, string) {
		return countRunes(s, func(r rune) bool { return !isASCIIAlnum(r) }) >= n,
			fmt.Sprintf("Password must contain at least %d special characters.", n)
	})
	return p
}

// Matches requires the password to match re, reporting message on failure.
func (p *Policy) Matches(re *regexp.Regexp, message string) *Policy {
	p.constraints = append(p.constraints, func(s string) (bool, string) {
		return re.MatchString(s), message
	})
	return p
}

// Check evaluates all constraints against the password and returns the
// failing messages in registration order. An empty result means the
// password satisfies the policy.
func (p *Policy) Check(password string) []string {
	var errs []string
	for _, constraint := range p.constraints {
		if ok, msg := constraint(password); !ok {
			errs = append(errs, msg)
		}
	}
	return errs
}

func countRunes(s string, match func(rune) bool) int {
	n := 0
	for _, r := range s {
		if match(r) {
			n++
		}
	}
	return n
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
