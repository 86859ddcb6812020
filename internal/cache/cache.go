package cache

import "errors"

// ErrNotFound is returned when a user has no stored time counter.
var ErrNotFound = errors.New("cache: user not found")

// Cache stores the authoritative per-user total of active seconds.
// Writes must be synchronous: the tick path depends on the value being
// durable before the tick returns.
type Cache interface {
	// Get returns the stored total for a user, or ErrNotFound.
	Get(userID string) (int64, error)

	// Set overwrites the stored total for a user.
	Set(userID string, seconds int64) error

	Close() error
}
