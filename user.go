package auth

import (
	"encoding/json"
	"fmt"
	"slices"
)

// User is the identity attached to a request. A fresh User is
// unauthenticated; modules that prove an identity set the id,
// authenticator and groups and flip the authenticated flag.
//
// Invariant: an unauthenticated User has no authenticator. Setting
// authenticated to false clears it.
type User struct {
	id            string
	authenticated bool
	authenticator string
	groups        []string
	displayName   string
	attributes    map[string]any
}

// NewUser returns a blank unauthenticated user.
func NewUser() *User {
	return &User{attributes: make(map[string]any)}
}

func (u *User) ID() string      { return u.id }
func (u *User) SetID(id string) { u.id = id }

func (u *User) Authenticated() bool { return u.authenticated }

// SetAuthenticated flips the authenticated flag. Dropping
// authentication also drops the authenticator name.
func (u *User) SetAuthenticated(v bool) {
	u.authenticated = v
	if !v {
		u.authenticator = ""
	}
}

func (u *User) Authenticator() string { return u.authenticator }

// SetAuthenticator records which module proved the identity. Only
// meaningful on an authenticated user.
func (u *User) SetAuthenticator(name string) { u.authenticator = name }

// Groups returns a copy of the user's groups in insertion order.
func (u *User) Groups() []string {
	return slices.Clone(u.groups)
}

// AddGroups appends the given groups, keeping insertion order and
// skipping duplicates.
func (u *User) AddGroups(groups ...string) {
	for _, g := range groups {
		if !slices.Contains(u.groups, g) {
			u.groups = append(u.groups, g)
		}
	}
}

func (u *User) HasGroup(g string) bool {
	return slices.Contains(u.groups, g)
}

// DisplayName returns the display name, falling back to the id.
func (u *User) DisplayName() string {
	if u.displayName == "" {
		return u.id
	}
	return u.displayName
}

func (u *User) SetDisplayName(name string) { u.displayName = name }

func (u *User) Attribute(name string) (any, bool) {
	v, ok := u.attributes[name]
	return v, ok
}

func (u *User) SetAttribute(name string, value any) {
	if u.attributes == nil {
		u.attributes = make(map[string]any)
	}
	u.attributes[name] = value
}

// userEnvelope is the versioned session serialization of an
// authenticated user. Attributes are limited to JSON-representable
// values; anything else is dropped by encoding.
type userEnvelope struct {
	Version       int            `json:"v"`
	ID            string         `json:"id"`
	Authenticator string         `json:"authenticator"`
	Groups        []string       `json:"groups,omitempty"`
	DisplayName   string         `json:"displayName,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

const userEnvelopeVersion = 1

// EncodeUser serializes an authenticated user for session storage.
func EncodeUser(u *User) ([]byte, error) {
	if !u.authenticated || u.id == "" || u.authenticator == "" {
		return nil, fmt.Errorf("%w: encoding requires an authenticated user with id and authenticator", ErrNotAuthenticated)
	}
	return json.Marshal(userEnvelope{
		Version:       userEnvelopeVersion,
		ID:            u.id,
		Authenticator: u.authenticator,
		Groups:        u.groups,
		DisplayName:   u.displayName,
		Attributes:    u.attributes,
	})
}

// DecodeUser restores a user from session data. The envelope is
// treated as untrusted input: version, id and authenticator are
// validated before an authenticated user is produced.
func DecodeUser(data []byte) (*User, error) {
	var env userEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUserData, err)
	}
	if env.Version != userEnvelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidUserData, env.Version)
	}
	if env.ID == "" || env.Authenticator == "" {
		return nil, fmt.Errorf("%w: missing id or authenticator", ErrInvalidUserData)
	}
	u := NewUser()
	u.id = env.ID
	u.authenticated = true
	u.authenticator = env.Authenticator
	u.groups = env.Groups
	u.displayName = env.DisplayName
	if env.Attributes != nil {
		u.attributes = env.Attributes
	}
	return u, nil
}
