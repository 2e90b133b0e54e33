// Package authz decides whether the current request may view a page.
//
// Two independent controllers are provided. PageACL restricts pages by
// user id or group membership from configured rules. PageLock guards
// pages with a shared secret and tracks unlock state in the session,
// independent of login state. Both resolve the governing rule with the
// same ancestor walk: exact page path first, then each parent path
// unless that parent disabled recursive application.
//
// # Architecture boundaries
//
// This package decides access for a page id; it does not render
// content, write HTTP responses or know about transports. Denials are
// expressed on the auth.Response (status, alternate content file,
// redirect) and applied by the host.
//
// # What this package must NOT do
//
//   - authenticate anyone (sessions arrive already restored)
//   - store or rotate unlock keys in plain text
//   - bypass the rate limiter on unlock attempts
package authz
