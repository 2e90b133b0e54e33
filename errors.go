package auth

import "errors"

var (
	// ErrModuleRegistered reports a duplicate module name in Register.
	ErrModuleRegistered = errors.New("module name already registered")
	// ErrInvalidUserData reports a session user envelope that failed
	// validation and must not be trusted.
	ErrInvalidUserData = errors.New("invalid session user data")
	// ErrNotAuthenticated reports an operation that requires an
	// authenticated user.
	ErrNotAuthenticated = errors.New("user not authenticated")
)
