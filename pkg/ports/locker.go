package ports

import (
	"context"
	"time"
)

// Locker defines the distributed mutual exclusion used during admission.
// It coordinates executions across processes, so no in-process primitive may stand in for it.
type Locker interface {
	// Acquire makes a single attempt to take the lock at key for token.
	// It does not block or retry; false means another holder owns the lock.
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Release deletes the lock only if it is still held by token.
	// A mismatch (expired or reassigned lock) returns false and no error.
	Release(ctx context.Context, key, token string) (bool, error)
}
