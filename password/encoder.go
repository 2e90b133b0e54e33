package password

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrPasswordTooLong reports a raw password exceeding the encoder's
	// input cap. Detected with errors.Is; flows react by forcing a reset
	// rather than failing the request.
	ErrPasswordTooLong = errors.New("password exceeds maximum encoder length")

	// ErrUnknownEncoder reports an encoder name with no registration.
	ErrUnknownEncoder = errors.New("unknown password encoder")
)

// Canonical registry names of the built-in encoders.
const (
	BCryptName    = "bcrypt"
	Argon2iName   = "argon2i"
	PlaintextName = "plaintext"
)

// Encoder is the uniform contract of the password hashing strategies.
type Encoder interface {
	// Encode hashes the raw password. Returns an error wrapping
	// [ErrPasswordTooLong] when the input exceeds MaxAllowedLen.
	Encode(raw string) (string, error)

	// IsValid reports whether raw matches the encoded hash.
	IsValid(encoded, raw string) bool

	// NeedsRehash reports whether the encoded hash was produced with
	// parameters differing from this encoder's current configuration.
	NeedsRehash(encoded string) bool

	// MaxAllowedLen returns the maximum accepted input length in bytes,
	// or 0 when unlimited.
	MaxAllowedLen() int
}

func lengthError(max int) error {
	return fmt.Errorf("%w: maximum is %d bytes", ErrPasswordTooLong, max)
}

// Registry resolves encoder names to instances. Names are resolved once at
// startup; an unknown name is a typed error, never a runtime panic.
type Registry struct {
	mu       sync.RWMutex
	encoders map[string]Encoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{encoders: make(map[string]Encoder)}
}

// NewDefaultRegistry returns a registry with the built-in encoders
// under their canonical names, at default parameters.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	bcryptEnc, _ := NewBCrypt(BCryptOptions{})
	argonEnc, _ := NewArgon2i(Argon2Options{})
	r.Register(BCryptName, bcryptEnc)
	r.Register(Argon2iName, argonEnc)
	r.Register(PlaintextName, NewPlaintext(PlaintextOptions{}))
	return r
}

// Register adds or replaces an encoder under the given name.
func (r *Registry) Register(name string, e Encoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoders[name] = e
}

// Get resolves a registered encoder.
func (r *Registry) Get(name string) (Encoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.encoders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoder, name)
	}
	return e, nil
}

// Names returns the registered encoder names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.encoders))
	for name := range r.encoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
