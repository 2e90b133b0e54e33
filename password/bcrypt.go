package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// BCryptMaxLen is the bcrypt input cap. The algorithm ignores bytes past
// this position, so the cap is enforced explicitly on Encode to avoid a
// false sense of entropy beyond it.
const BCryptMaxLen = 72

const bcryptDefaultCost = 10

// BCryptOptions configures the bcrypt encoder.
type BCryptOptions struct {
	// Cost is the bcrypt cost factor, 4-31. Zero selects the default (10).
	Cost int `yaml:"cost"`
}

// BCrypt hashes passwords with the bcrypt algorithm.
type BCrypt struct {
	cost int
}

// NewBCrypt validates the options and returns a bcrypt encoder.
func NewBCrypt(opts BCryptOptions) (*BCrypt, error) {
	cost := opts.Cost
	if cost == 0 {
		cost = bcryptDefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.New("bcrypt cost must be in the range of 4-31")
	}
	return &BCrypt{cost: cost}, nil
}

func (b *BCrypt) Encode(raw string) (string, error) {
	if len(raw) > BCryptMaxLen {
		return "", lengthError(BCryptMaxLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), b.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// IsValid truncates the raw input to the 72-byte algorithm window before
// comparing, matching the truncation the hash itself was subject to.
func (b *BCrypt) IsValid(encoded, raw string) bool {
	if len(raw) > BCryptMaxLen {
		raw = raw[:BCryptMaxLen]
	}
	return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(raw)) == nil
}

func (b *BCrypt) NeedsRehash(encoded string) bool {
	cost, err := bcrypt.Cost([]byte(encoded))
	if err != nil {
		return true
	}
	return cost != b.cost
}

func (b *BCrypt) MaxAllowedLen() int {
	return BCryptMaxLen
}
