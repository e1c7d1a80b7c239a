package tests

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/idem/pkg/ports"
)

// LockerContractTest is a reusable test suite that verifies if an adapter complies with ports.Locker.
// advance moves the backing store's clock forward so lock TTL expiry can be observed.
func LockerContractTest(t *testing.T, locker ports.Locker, advance func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	// 1. Acquire and release by the owner
	t.Run("Acquire_Release", func(t *testing.T) {
		ok, err := locker.Acquire(ctx, "lock:c1", "token-a", time.Second)
		if err != nil {
			t.Fatalf("unexpected error acquiring lock: %v", err)
		}
		if !ok {
			t.Fatal("expected first acquire to succeed")
		}

		released, err := locker.Release(ctx, "lock:c1", "token-a")
		if err != nil {
			t.Fatalf("unexpected error releasing lock: %v", err)
		}
		if !released {
			t.Error("expected owner release to delete the lock")
		}
	})

	// 2. A second acquirer is rejected immediately
	t.Run("Contention", func(t *testing.T) {
		if ok, _ := locker.Acquire(ctx, "lock:c2", "token-a", time.Second); !ok {
			t.Fatal("expected first acquire to succeed")
		}
		ok, err := locker.Acquire(ctx, "lock:c2", "token-b", time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Error("expected contended acquire to fail")
		}
		_, _ = locker.Release(ctx, "lock:c2", "token-a")
	})

	// 3. A foreign token never releases the current holder
	t.Run("Foreign_Release", func(t *testing.T) {
		if ok, _ := locker.Acquire(ctx, "lock:c3", "token-a", time.Second); !ok {
			t.Fatal("expected first acquire to succeed")
		}
		released, err := locker.Release(ctx, "lock:c3", "token-b")
		if err != nil {
			t.Fatalf("foreign release should be a no-op, got error: %v", err)
		}
		if released {
			t.Error("foreign release must not delete the lock")
		}
		if ok, _ := locker.Acquire(ctx, "lock:c3", "token-c", time.Second); ok {
			t.Error("lock should still be held by token-a")
		}
		_, _ = locker.Release(ctx, "lock:c3", "token-a")
	})

	// 4. A crashed holder blocks others only until TTL
	t.Run("TTL_Liveness", func(t *testing.T) {
		if ok, _ := locker.Acquire(ctx, "lock:c4", "crashed", time.Second); !ok {
			t.Fatal("expected first acquire to succeed")
		}

		advance(500 * time.Millisecond)
		if ok, _ := locker.Acquire(ctx, "lock:c4", "next", time.Second); ok {
			t.Error("acquire must fail before the TTL elapses")
		}

		advance(600 * time.Millisecond)
		ok, err := locker.Acquire(ctx, "lock:c4", "next", time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Error("acquire must succeed after the TTL elapses")
		}

		// The crashed holder's late release must not free the new owner's lock.
		if released, _ := locker.Release(ctx, "lock:c4", "crashed"); released {
			t.Error("stale token released a lock it no longer owns")
		}
		_, _ = locker.Release(ctx, "lock:c4", "next")
	})
}
