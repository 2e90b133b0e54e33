package session

// Store is the session abstraction the host must provide. Values are opaque
// to the host; components store Go values and read them back within the same
// process.
//
// Flash messages are short-lived values grouped by type: AddFlash appends,
// Flashes returns everything accumulated for a type and clears it, so a
// flash is visible exactly once.
type Store interface {
	// Has reports whether an attribute is set.
	Has(name string) bool

	// Get retrieves an attribute. The second return is false when the
	// attribute is not set.
	Get(name string) (any, bool)

	// Set creates or replaces an attribute.
	Set(name string, value any)

	// Remove deletes an attribute. Removing a missing attribute is a no-op.
	Remove(name string)

	// Clear removes all attributes without touching the session id.
	Clear()

	// Invalidate clears all attributes and assigns a fresh session id.
	Invalidate() error

	// Migrate moves the session to a fresh id, keeping attributes. When
	// destroy is true the old id must become unusable immediately.
	Migrate(destroy bool) error

	// ID returns the current session id.
	ID() string

	// AddFlash appends a flash value under the given type.
	AddFlash(flashType string, message any)

	// Flashes returns and clears all flash values of the given type.
	Flashes(flashType string) []any
}
