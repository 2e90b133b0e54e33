// Package session defines the opaque key/value session contract consumed by
// every security component in this module, plus an in-memory implementation
// suitable for tests and embedded hosts.
//
// The contract deliberately mirrors what a CMS host already has: attribute
// storage, flash messages, and session-id migration. Session state is
// confined to the single request holding it; id migration is the mechanism
// that invalidates concurrent holders of an old id after a privilege
// boundary is crossed (login, unlock, logout).
package session
