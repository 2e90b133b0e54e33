package localauth

import (
	"context"
	"regexp"
)

// UserData is the stored record of one local account. PasswordHash is
// encoded with the encoder named in Encoder; an empty Encoder means
// the configured default.
type UserData struct {
	Name         string
	Email        string
	PasswordHash string
	Encoder      string
	Groups       []string
	DisplayName  string
	Attributes   map[string]any

	// PasswordReset forces the user into the reset flow on their next
	// login, used after encoder changes that cannot re-store the
	// current password.
	PasswordReset bool
}

// ResetToken is a stored password-reset grant. TokenHash is the hex
// SHA-256 of the verifier; the verifier itself is only ever in the
// mailed link.
type ResetToken struct {
	TokenHash  string
	User       string
	ValidUntil int64
}

// Storage is the user-directory contract the flows consume. The host
// decides the backing medium (files, database).
type Storage interface {
	// UserByName looks up an account by its lowercased id.
	UserByName(ctx context.Context, name string) (*UserData, bool, error)
	UserByEmail(ctx context.Context, email string) (*UserData, bool, error)
	SaveUser(ctx context.Context, name string, u *UserData) error
	UsersCount(ctx context.Context) (int, error)

	// ValidName reports whether the name has an acceptable format,
	// independent of length limits.
	ValidName(name string) bool

	SaveResetToken(ctx context.Context, id string, t ResetToken) error
	// TakeResetToken is a destructive single read: the record is
	// deleted whether or not the caller accepts it, so a token can
	// never be tried twice.
	TakeResetToken(ctx context.Context, id string) (ResetToken, bool, error)
}

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidUsernameFormat is the default username format check shared by
// Storage implementations.
func ValidUsernameFormat(name string) bool {
	return usernamePattern.MatchString(name)
}
