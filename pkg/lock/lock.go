// Package lock implements single-owner distributed locks on top of a ports.Store.
//
// A lock is a record holding the owner's token with a TTL. Acquire is one atomic
// set-if-absent; Release is an atomic compare-and-delete, so an owner whose lock
// expired and was re-acquired by someone else can never free the new owner's lock.
// The TTL is the only liveness guarantee: there is no lease renewal.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/idem/pkg/ports"
	"github.com/google/uuid"
)

// ErrNotAcquired is returned by Wait when the context ends before the lock is free.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker implements ports.Locker using a Store.
type Locker struct {
	store ports.Store
}

var _ ports.Locker = (*Locker)(nil)

// New creates a locker over store.
func New(store ports.Store) *Locker {
	return &Locker{store: store}
}

// NewToken returns a fresh, unique owner token for one acquisition attempt.
func NewToken() string {
	return uuid.NewString()
}

// Acquire makes a single SET-if-absent attempt.
func (l *Locker) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if token == "" {
		return false, fmt.Errorf("lock %s: empty owner token", key)
	}
	ok, err := l.store.SetIfAbsent(ctx, key, token, ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return ok, nil
}

// Release deletes the lock if token still owns it.
func (l *Locker) Release(ctx context.Context, key, token string) (bool, error) {
	ok, err := l.store.DeleteIfEquals(ctx, key, token)
	if err != nil {
		return false, fmt.Errorf("release %s: %w", key, err)
	}
	return ok, nil
}

// Wait polls Acquire every interval until it succeeds or ctx ends.
// The guard never calls it: admission treats contention as a failure.
// It exists for callers that prefer to queue behind the current holder.
func (l *Locker) Wait(ctx context.Context, key, token string, ttl, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ok, err := l.Acquire(ctx, key, token, ttl)
	if err != nil || ok {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
		case <-ticker.C:
			ok, err := l.Acquire(ctx, key, token, ttl)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}
}
