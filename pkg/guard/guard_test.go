package guard_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/idem/pkg/adapters/memory"
	"github.com/aretw0/idem/pkg/adapters/redis"
	"github.com/aretw0/idem/pkg/domain"
	"github.com/aretw0/idem/pkg/guard"
	"github.com/aretw0/idem/pkg/keys"
	"github.com/aretw0/idem/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderKey = "idempotent:u1:_buyer_order_create"

func TestRunOnce_Success(t *testing.T) {
	for _, bc := range backends(t) {
		t.Run(bc.name, func(t *testing.T) {
			g := guard.New(bc.store)
			ctx := context.Background()

			res, err := g.RunOnce(ctx, orderRequest, domain.Policy{}, okWork("order-1"))
			require.NoError(t, err)
			assert.Equal(t, "order-1", res.Value)
			assert.Equal(t, orderKey, res.Key)
			assert.False(t, res.Replayed)

			assert.True(t, bc.exists(orderKey), "marker should be set")
			assert.False(t, bc.exists(keys.LockKey(orderKey)), "lock should be released")
		})
	}
}

func TestRunOnce_RepeatAfterSuccess(t *testing.T) {
	for _, bc := range backends(t) {
		t.Run(bc.name, func(t *testing.T) {
			g := guard.New(bc.store)
			ctx := context.Background()
			policy := domain.Policy{Prefix: "order", Message: "order already submitted"}

			_, err := g.RunOnce(ctx, orderRequest, policy, okWork(1))
			require.NoError(t, err)

			called := false
			_, err = g.RunOnce(ctx, orderRequest, policy, func(ctx context.Context) (any, error) {
				called = true
				return nil, nil
			})
			require.ErrorIs(t, err, domain.ErrRepeatRequest)
			assert.False(t, called, "work must not run for a duplicate")

			var repeat *domain.RepeatRequestError
			require.ErrorAs(t, err, &repeat)
			assert.Equal(t, "order already submitted", repeat.Message)
			assert.Equal(t, "idempotent:order:u1:_buyer_order_create", repeat.Key)
		})
	}
}

func TestRunOnce_DefaultMessage(t *testing.T) {
	g := guard.New(memory.NewStore())
	ctx := context.Background()

	_, err := g.RunOnce(ctx, orderRequest, domain.Policy{}, okWork(nil))
	require.NoError(t, err)

	_, err = g.RunOnce(ctx, orderRequest, domain.Policy{}, okWork(nil))
	var repeat *domain.RepeatRequestError
	require.ErrorAs(t, err, &repeat)
	assert.Equal(t, domain.DefaultMessage, repeat.Message)
}

func TestRunOnce_ConcurrentAdmission(t *testing.T) {
	const callers = 25

	for _, bc := range backends(t) {
		t.Run(bc.name, func(t *testing.T) {
			g := guard.New(bc.store)
			ctx := context.Background()

			var executions, successes atomic.Int32
			start := make(chan struct{})
			errs := make(chan error, callers)

			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := g.RunOnce(ctx, orderRequest, domain.Policy{}, func(ctx context.Context) (any, error) {
						executions.Add(1)
						time.Sleep(20 * time.Millisecond)
						return "ok", nil
					})
					if err == nil {
						successes.Add(1)
						return
					}
					errs <- err
				}()
			}
			close(start)
			wg.Wait()
			close(errs)

			assert.Equal(t, int32(1), executions.Load(), "work must run exactly once")
			assert.Equal(t, int32(1), successes.Load())
			for err := range errs {
				// Callers racing the winner's acquire see the lock; everyone else sees the marker.
				assert.True(t,
					errors.Is(err, domain.ErrRepeatRequest) || errors.Is(err, domain.ErrLockAcquisition),
					"unexpected error: %v", err)
			}
			assert.False(t, bc.exists(keys.LockKey(orderKey)))
		})
	}
}

func TestRunOnce_DuplicatesDuringWork(t *testing.T) {
	const duplicates = 10

	for _, bc := range backends(t) {
		t.Run(bc.name, func(t *testing.T) {
			g := guard.New(bc.store)
			ctx := context.Background()

			started := make(chan struct{})
			finish := make(chan struct{})
			done := make(chan error, 1)

			go func() {
				_, err := g.RunOnce(ctx, orderRequest, domain.Policy{}, func(ctx context.Context) (any, error) {
					close(started)
					<-finish
					return "ok", nil
				})
				done <- err
			}()
			<-started

			var wg sync.WaitGroup
			var repeats atomic.Int32
			for i := 0; i < duplicates; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := g.RunOnce(ctx, orderRequest, domain.Policy{}, okWork("dup"))
					if errors.Is(err, domain.ErrRepeatRequest) {
						repeats.Add(1)
					}
				}()
			}
			wg.Wait()
			close(finish)

			require.NoError(t, <-done)
			assert.Equal(t, int32(duplicates), repeats.Load(), "every in-flight duplicate must be rejected")
		})
	}
}

func TestRunOnce_SecondCheck(t *testing.T) {
	base := memory.NewStore()
	fs := &faultStore{Store: base}
	// Another execution marks the key right after our first check.
	fs.afterGet = func(n int) {
		if n == 1 {
			_ = base.Set(context.Background(), orderKey, "other-execution", 5*time.Second)
		}
	}
	g := guard.New(fs)

	called := false
	_, err := g.RunOnce(context.Background(), orderRequest, domain.Policy{}, func(ctx context.Context) (any, error) {
		called = true
		return nil, nil
	})

	require.ErrorIs(t, err, domain.ErrRepeatRequest)
	assert.False(t, called)
	assert.Equal(t, 2, fs.gets, "both checks must run")

	_, held, _ := base.Get(context.Background(), keys.LockKey(orderKey))
	assert.False(t, held, "lock must be released after the second check rejects")
}

func TestRunOnce_LockContention(t *testing.T) {
	for _, bc := range backends(t) {
		t.Run(bc.name, func(t *testing.T) {
			g := guard.New(bc.store)
			ctx := context.Background()
			lockKey := keys.LockKey(orderKey)

			ok, err := bc.store.SetIfAbsent(ctx, lockKey, "foreign", 10*time.Second)
			require.NoError(t, err)
			require.True(t, ok)

			called := false
			_, err = g.RunOnce(ctx, orderRequest, domain.Policy{}, func(ctx context.Context) (any, error) {
				called = true
				return nil, nil
			})
			require.ErrorIs(t, err, domain.ErrLockAcquisition)
			assert.False(t, called)

			holder, _, _ := bc.store.Get(ctx, lockKey)
			assert.Equal(t, "foreign", holder, "a failed acquire must never touch the holder's lock")
		})
	}
}

func TestRunOnce_LockContention_HolderMarked(t *testing.T) {
	base := memory.NewStore()
	fs := &faultStore{Store: base}
	// The holder acquires and marks between our first check and our acquire.
	fs.afterGet = func(n int) {
		if n == 1 {
			ctx := context.Background()
			_, _ = base.SetIfAbsent(ctx, keys.LockKey(orderKey), "holder", 10*time.Second)
			_ = base.Set(ctx, orderKey, "holder", 5*time.Second)
		}
	}
	g := guard.New(fs)

	_, err := g.RunOnce(context.Background(), orderRequest, domain.Policy{}, okWork(nil))
	assert.ErrorIs(t, err, domain.ErrRepeatRequest)
	assert.NotErrorIs(t, err, domain.ErrLockAcquisition)
}

func TestRunOnce_LockTTLLiveness(t *testing.T) {
	for _, bc := range backends(t) {
		t.Run(bc.name, func(t *testing.T) {
			g := guard.New(bc.store, guard.WithLockTTL(10*time.Second))
			ctx := context.Background()

			// A crashed holder left its lock behind without marking.
			_, err := bc.store.SetIfAbsent(ctx, keys.LockKey(orderKey), "crashed", 10*time.Second)
			require.NoError(t, err)

			bc.advance(9 * time.Second)
			_, err = g.RunOnce(ctx, orderRequest, domain.Policy{}, okWork(nil))
			require.ErrorIs(t, err, domain.ErrLockAcquisition, "lock must block before its TTL")

			bc.advance(2 * time.Second)
			_, err = g.RunOnce(ctx, orderRequest, domain.Policy{}, okWork(nil))
			require.NoError(t, err, "lock must be acquirable after its TTL")
		})
	}
}

func TestRunOnce_ReleaseOnWorkError(t *testing.T) {
	for _, bc := range backends(t) {
		t.Run(bc.name, func(t *testing.T) {
			g := guard.New(bc.store)
			ctx := context.Background()

			_, err := g.RunOnce(ctx, orderRequest, domain.Policy{}, failWork(errBoom))
			require.ErrorIs(t, err, errBoom)

			assert.False(t, bc.exists(keys.LockKey(orderKey)), "lock must be released on failure")
			assert.True(t, bc.exists(orderKey), "strict policy keeps the marker")

			_, err = g.RunOnce(ctx, orderRequest, domain.Policy{}, okWork(nil))
			assert.ErrorIs(t, err, domain.ErrRepeatRequest, "retry is blocked until the marker expires")
		})
	}
}

func TestRunOnce_ReleaseOnPanic(t *testing.T) {
	for _, bc := range backends(t) {
		t.Run(bc.name, func(t *testing.T) {
			g := guard.New(bc.store)
			policy := domain.Policy{ReleaseOnFailure: true}

			assert.PanicsWithValue(t, "kaboom", func() {
				_, _ = g.RunOnce(context.Background(), orderRequest, policy, func(ctx context.Context) (any, error) {
					panic("kaboom")
				})
			})

			assert.False(t, bc.exists(keys.LockKey(orderKey)), "lock must be released on panic")
			assert.False(t, bc.exists(orderKey), "marker cleared per policy")
		})
	}
}

func TestRunOnce_ReleaseOnCancel(t *testing.T) {
	for _, bc := range backends(t) {
		t.Run(bc.name, func(t *testing.T) {
			g := guard.New(bc.store)
			ctx, cancel := context.WithCancel(context.Background())

			_, err := g.RunOnce(ctx, orderRequest, domain.Policy{}, func(ctx context.Context) (any, error) {
				cancel()
				<-ctx.Done()
				return nil, ctx.Err()
			})
			require.ErrorIs(t, err, context.Canceled)
			assert.False(t, bc.exists(keys.LockKey(orderKey)), "lock must be released after cancellation")
		})
	}
}

func TestRunOnce_CancelledBeforeStart(t *testing.T) {
	g := guard.New(memory.NewStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := g.RunOnce(ctx, orderRequest, domain.Policy{}, func(ctx context.Context) (any, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestRunOnce_ReleaseOnFailure_AllowsRetry(t *testing.T) {
	for _, bc := range backends(t) {
		t.Run(bc.name, func(t *testing.T) {
			g := guard.New(bc.store)
			ctx := context.Background()
			policy := domain.Policy{ReleaseOnFailure: true}

			_, err := g.RunOnce(ctx, orderRequest, policy, failWork(errBoom))
			require.ErrorIs(t, err, errBoom)
			assert.False(t, bc.exists(orderKey), "marker should be deleted to allow retry")

			res, err := g.RunOnce(ctx, orderRequest, policy, okWork("retried"))
			require.NoError(t, err)
			assert.Equal(t, "retried", res.Value)
		})
	}
}

func TestRunOnce_CleanupKeepsNewerMarker(t *testing.T) {
	bc := memoryBackend(t)
	g := guard.New(bc.store, guard.WithLockTTL(time.Second))
	ctx := context.Background()
	policy := domain.Policy{TTL: 5 * time.Second, ReleaseOnFailure: true}

	_, err := g.RunOnce(ctx, orderRequest, policy, func(ctx context.Context) (any, error) {
		// Our marker and lock expire while the work is still running,
		// and another execution is admitted in the meantime.
		bc.advance(6 * time.Second)
		_, err := g.RunOnce(ctx, orderRequest, policy, okWork("second"))
		require.NoError(t, err)
		return nil, errBoom
	})
	require.ErrorIs(t, err, errBoom)

	assert.True(t, bc.exists(orderKey), "cleanup must not delete a marker owned by another execution")
}

func TestRunOnce_StaleReleaseKeepsNewLock(t *testing.T) {
	bc := memoryBackend(t)
	g := guard.New(bc.store, guard.WithLockTTL(time.Second))
	ctx := context.Background()
	lockKey := keys.LockKey(orderKey)

	_, err := g.RunOnce(ctx, orderRequest, domain.Policy{}, func(ctx context.Context) (any, error) {
		bc.advance(2 * time.Second)
		ok, err := bc.store.SetIfAbsent(ctx, lockKey, "new-owner", 10*time.Second)
		require.NoError(t, err)
		require.True(t, ok, "expired lock should be re-acquirable")
		return nil, nil
	})
	require.NoError(t, err)

	holder, ok, _ := bc.store.Get(ctx, lockKey)
	assert.True(t, ok)
	assert.Equal(t, "new-owner", holder, "late release must not delete the new owner's lock")
}

func TestRunOnce_StoreUnavailable(t *testing.T) {
	unavailable := errors.New("dial tcp: connection refused")

	t.Run("first get", func(t *testing.T) {
		base := memory.NewStore()
		g := guard.New(&faultStore{Store: base, getErr: unavailable})

		called := false
		_, err := g.RunOnce(context.Background(), orderRequest, domain.Policy{}, func(ctx context.Context) (any, error) {
			called = true
			return nil, nil
		})
		require.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.ErrorIs(t, err, unavailable)
		assert.False(t, called, "fail closed: work must not run")
		assert.Zero(t, base.Len(), "no lock or marker may be written")
	})

	t.Run("acquire", func(t *testing.T) {
		g := guard.New(&faultStore{Store: memory.NewStore(), nxErr: unavailable})

		_, err := g.RunOnce(context.Background(), orderRequest, domain.Policy{}, okWork(nil))
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	})

	t.Run("mark", func(t *testing.T) {
		base := memory.NewStore()
		g := guard.New(&faultStore{Store: base, setErr: unavailable})

		called := false
		_, err := g.RunOnce(context.Background(), orderRequest, domain.Policy{}, func(ctx context.Context) (any, error) {
			called = true
			return nil, nil
		})
		require.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.False(t, called)
		assert.Zero(t, base.Len(), "lock must be released when marking fails")
	})

	t.Run("redis down", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := backend.NewClient(&backend.Options{
			Addr:       mr.Addr(),
			MaxRetries: -1,
		})
		t.Cleanup(func() { _ = client.Close() })
		g := guard.New(redis.NewFromClient(client))
		mr.Close()

		called := false
		_, err := g.RunOnce(context.Background(), orderRequest, domain.Policy{}, func(ctx context.Context) (any, error) {
			called = true
			return nil, nil
		})
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.False(t, called)
	})
}

func TestRunOnce_InvalidKey(t *testing.T) {
	g := guard.New(memory.NewStore())
	_, err := g.RunOnce(context.Background(), guard.Request{Path: "/buyer/order/create"}, domain.Policy{}, okWork(nil))
	assert.ErrorIs(t, err, domain.ErrInvalidKey)
}

func TestRunOnce_Token(t *testing.T) {
	g := guard.New(memory.NewStore())
	ctx := context.Background()

	first := guard.Request{Identity: "u1", Path: "/buyer/order/create", Token: "req-1"}
	second := guard.Request{Identity: "u1", Path: "/buyer/order/create", Token: "req-2"}

	_, err := g.RunOnce(ctx, first, domain.Policy{}, okWork(nil))
	require.NoError(t, err)
	_, err = g.RunOnce(ctx, second, domain.Policy{}, okWork(nil))
	require.NoError(t, err, "a different request token is a different request")
	_, err = g.RunOnce(ctx, first, domain.Policy{}, okWork(nil))
	assert.ErrorIs(t, err, domain.ErrRepeatRequest)
}

func TestRunOnce_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	g := guard.New(memory.NewStore(), guard.WithMetrics(m))
	ctx := context.Background()
	policy := domain.Policy{Prefix: "order"}

	_, _ = g.RunOnce(ctx, orderRequest, policy, okWork(nil))
	_, _ = g.RunOnce(ctx, orderRequest, policy, okWork(nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("order", observability.OutcomeAdmitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("order", observability.OutcomeRepeat)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Releases.WithLabelValues(observability.ReleaseReleased)))
}

func TestRunOnce_TokenGenerator(t *testing.T) {
	bc := memoryBackend(t)
	g := guard.New(bc.store, guard.WithTokenGenerator(func() string { return "fixed-token" }))
	ctx := context.Background()

	_, err := g.RunOnce(ctx, orderRequest, domain.Policy{}, okWork(nil))
	require.NoError(t, err)

	val, _, _ := bc.store.Get(ctx, orderKey)
	marker := domain.DecodeMarker(val)
	assert.Equal(t, "fixed-token", marker.Token)
	assert.Equal(t, domain.MarkerPending, marker.State)
}
