package ports

import (
	"context"
	"time"
)

// Store is the capability the guard consumes from the shared key-value service.
// SetIfAbsent and DeleteIfEquals MUST be atomic on the store side.
// Every backend failure is reported as an error matching domain.ErrStoreUnavailable.
type Store interface {
	// Get returns the value at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// SetIfAbsent creates key with value and ttl. It reports true if this call created it.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Set overwrites key with value and ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// DeleteIfEquals removes key only if it currently holds expected.
	// It reports true if the key was removed.
	DeleteIfEquals(ctx context.Context, key, expected string) (bool, error)

	// Delete removes key unconditionally. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}
