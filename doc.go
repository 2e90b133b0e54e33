// Package auth is an authentication and authorization layer for a
// flat-file CMS. It owns the security primitives — CSRF tokens, rate
// limiting, password encoding and policy — and the request-lifecycle
// state machines that compose them: login, registration, password
// reset, account edit, and per-page authorization.
//
// # Architecture boundaries
//
// The root package exposes [Plugin], [Context], [Config], [User], and
// the module capability interfaces. Functional modules live in
// sub-packages (localauth, authz, oauth) and are registered with
// [Plugin.Register] by the host. Primitive sub-packages (csrf,
// password, ratelimit, session, mail) never import the root, so they
// can be used standalone.
//
// # What this package must NOT do
//
//   - Render HTML or resolve pages. The host CMS owns the rendering
//     pipeline; the outcome of a request is expressed through
//     [Response] values (redirect, status, content file, outputs).
//   - Perform network transport. Sessions, user storage, and mail
//     delivery are consumed behind interfaces the host implements.
//   - Leak precise failure reasons to the client. Security-sensitive
//     negatives flash generic messages; detail goes to the log.
package auth
