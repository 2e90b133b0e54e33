package ratelimit

import (
	"context"
	"hash/fnv"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Built-in scope types.
const (
	ScopeIP      = "ip"
	ScopeAccount = "account"
	ScopeEmail   = "email"
)

// Built-in action names used by the authentication flows.
const (
	ActionLogin         = "login"
	ActionPasswordReset = "passwordReset"
	ActionRegistration  = "registration"
	ActionPageLock      = "pageLock"
	ActionOAuth         = "oauth"
)

// DefaultErrorMsg is used when a blocking rule carries no errorMsg.
const DefaultErrorMsg = "Rate limit exceeded, wait %min% minutes."

// Params carries the per-request identifiers the scope resolvers work
// on. Empty fields cause the corresponding scope to be skipped.
type Params struct {
	Address string
	Account string
	Email   string
}

// Decision is the outcome of a limiter check. Message is only set when
// the action was denied.
type Decision struct {
	Allowed bool
	Message string
}

// Limiter decides whether an action may proceed. With increment set the
// attempt is recorded; otherwise only the current counters are read.
// A denial is a normal outcome, not an error: errors indicate the
// limiter itself failed (storage unavailable, bad address).
type Limiter interface {
	Action(ctx context.Context, action string, increment bool, p Params) (Decision, error)
}

// Resolver maps request params to a rate-limit entity id for one scope
// type. Returning an empty id skips the rule.
type Resolver func(r Rule, p Params) (string, error)

// RateLimiter is the Store-backed Limiter implementation.
type RateLimiter struct {
	cfg     Config
	store   Store
	log     *zap.Logger
	scopes  map[string]Resolver
	now     func() time.Time
	percent func() int
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithLogger sets the logger used for limit-reached events.
func WithLogger(log *zap.Logger) Option {
	return func(l *RateLimiter) { l.log = log }
}

// WithScope registers a custom scope resolver. Built-in scopes can be
// overridden by name.
func WithScope(name string, r Resolver) Option {
	return func(l *RateLimiter) { l.scopes[name] = r }
}

// WithClock overrides the time source. Tests use this to simulate the
// passage of block durations.
func WithClock(now func() time.Time) Option {
	return func(l *RateLimiter) { l.now = now }
}

// WithCleanupRoll overrides the random percent roll that decides
// whether an increment also runs a cleanup sweep.
func WithCleanupRoll(roll func() int) Option {
	return func(l *RateLimiter) { l.percent = roll }
}

// New builds a RateLimiter over the given store. The config should be
// validated first; New does not reject invalid rules.
func New(store Store, cfg Config, opts ...Option) *RateLimiter {
	l := &RateLimiter{
		cfg:     cfg,
		store:   store,
		log:     zap.NewNop(),
		now:     time.Now,
		percent: func() int { return rand.Intn(101) },
	}
	l.scopes = map[string]Resolver{
		ScopeIP: func(r Rule, p Params) (string, error) {
			if p.Address == "" {
				return "", nil
			}
			return subnetForRule(p.Address, r)
		},
		ScopeAccount: func(_ Rule, p Params) (string, error) {
			return hashEntity(p.Account), nil
		},
		ScopeEmail: func(_ Rule, p Params) (string, error) {
			return hashEntity(p.Email), nil
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Action evaluates the configured scope rules for the action in order.
// Unconfigured actions always pass. The first blocking rule stops the
// evaluation and its message is returned; rules after it are neither
// read nor incremented.
func (l *RateLimiter) Action(ctx context.Context, action string, increment bool, p Params) (Decision, error) {
	rules, ok := l.cfg.Actions[action]
	if !ok {
		return Decision{Allowed: true}, nil
	}

	for _, rule := range rules {
		resolve, ok := l.scopes[rule.Scope]
		if !ok {
			continue
		}
		entity, err := resolve(rule, p)
		if err != nil {
			return Decision{}, err
		}
		if entity == "" {
			continue
		}

		var limit Limit
		if increment {
			limit, err = l.increment(ctx, action, rule, entity)
		} else {
			limit, _, err = l.store.GetLimit(ctx, action, rule.Scope, entity)
		}
		if err != nil {
			return Decision{}, err
		}

		if !l.allowed(limit, rule) {
			return Decision{Message: formatError(rule)}, nil
		}
	}
	return Decision{Allowed: true}, nil
}

// allowed reports whether the entity with the given counter state may
// proceed. Blocked entities become eligible again once BlockDuration
// has elapsed since their last attempt.
func (l *RateLimiter) allowed(limit Limit, r Rule) bool {
	if limit.Count < r.Count {
		return true
	}
	return l.now().Unix() > limit.Timestamp+int64(r.BlockDuration)
}

// increment records an attempt inside an exclusive (action, scope)
// transaction and returns the counter state from before the increment,
// so the caller's decision reflects the state this attempt found.
func (l *RateLimiter) increment(ctx context.Context, action string, r Rule, entity string) (Limit, error) {
	if err := l.store.Transaction(ctx, action, r.Scope, TxBegin); err != nil {
		return Limit{}, err
	}
	before, err := l.incrementLocked(ctx, action, r, entity)
	endErr := l.store.Transaction(ctx, action, r.Scope, TxEnd)
	if err != nil {
		return Limit{}, err
	}
	if endErr != nil {
		return Limit{}, endErr
	}
	return before, nil
}

func (l *RateLimiter) incrementLocked(ctx context.Context, action string, r Rule, entity string) (Limit, error) {
	limit, _, err := l.store.GetLimit(ctx, action, r.Scope, entity)
	if err != nil {
		return Limit{}, err
	}

	now := l.now().Unix()

	// The counter starts over when its window expired, or when a block
	// has been fully served.
	expired := now > limit.Timestamp+int64(r.CounterTimeout)
	served := limit.Count >= r.Count && now > limit.Timestamp+int64(r.BlockDuration)
	if expired || served {
		limit.Count = 0
	}

	before := limit

	if limit.Count == r.Count-1 {
		l.log.Info("rate limit reached",
			zap.String("action", action),
			zap.String("scope", r.Scope),
			zap.String("entity", entity),
			zap.Int("count", r.Count))
	}

	limit.Count++
	limit.Timestamp = now

	// Counters past the threshold are not persisted; the entity is
	// already blocked and the stored state must not grow unbounded.
	if limit.Count <= r.Count {
		if err := l.store.UpdateLimit(ctx, action, r.Scope, entity, limit); err != nil {
			return Limit{}, err
		}
		if l.percent() <= l.cfg.cleanupProbability() {
			if err := l.store.Cleanup(ctx, action, r.Scope, now-int64(r.CounterTimeout)); err != nil {
				return Limit{}, err
			}
		}
		if err := l.store.Save(ctx, action, r.Scope); err != nil {
			return Limit{}, err
		}
	}
	return before, nil
}

// hashEntity shortens user-supplied identifiers into fixed-size entity
// ids. Collisions and reversal are not security properties here, so a
// non-cryptographic hash is enough.
func hashEntity(s string) string {
	if s == "" {
		return ""
	}
	h := fnv.New64a()
	h.Write([]byte(s))
	return strconv.FormatUint(h.Sum64(), 16)
}

func formatError(r Rule) string {
	msg := r.ErrorMsg
	if msg == "" {
		msg = DefaultErrorMsg
	}
	minutes := (r.BlockDuration + 59) / 60
	msg = strings.ReplaceAll(msg, "%min%", strconv.Itoa(minutes))
	msg = strings.ReplaceAll(msg, "%cnt%", strconv.Itoa(r.Count))
	return msg
}
