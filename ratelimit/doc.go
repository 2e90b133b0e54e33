// Package ratelimit provides counter-based rate limiting keyed by
// (action, scope, entity) buckets.
//
// An action (for example "login") is configured with an ordered list of
// scope rules. Each rule limits a different dimension of the request:
// the caller's subnet, the targeted account name, or a submitted email
// address. Custom scopes can be registered with a Resolver. Rules are
// evaluated in configuration order and the first blocking rule decides
// the outcome.
//
// Counters live behind the Store interface. MemoryStore keeps them in
// process memory, RedisStore shares them across instances. Actions with
// no configured rules always pass, which makes a zero-value Config a
// working no-op limiter. Null is an explicit pass-through for callers
// that want to disable limiting entirely.
package ratelimit
