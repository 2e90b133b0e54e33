// Package password provides the one-way password encoder family
// (bcrypt, argon2i, plaintext), the composable password policy checker,
// and a name-based encoder registry.
//
// All encoders enforce their input-length cap before invoking the
// underlying algorithm and report the overflow as [ErrPasswordTooLong],
// a distinguishable kind, so callers can divert the user into a password
// reset instead of treating it as a system fault.
package password
