package guard_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/idem/pkg/adapters/memory"
	"github.com/aretw0/idem/pkg/adapters/redis"
	"github.com/aretw0/idem/pkg/guard"
	"github.com/aretw0/idem/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

var errBoom = errors.New("boom")

// backendCase bundles a store with a way to move its clock.
type backendCase struct {
	name    string
	store   ports.Store
	advance func(time.Duration)
	exists  func(key string) bool
}

func memoryBackend(t *testing.T) backendCase {
	t.Helper()
	clock := memory.NewClock(time.Unix(1_700_000_000, 0))
	store := memory.NewStore(memory.WithClock(clock.Now))
	return backendCase{
		name:    "memory",
		store:   store,
		advance: clock.Advance,
		exists: func(key string) bool {
			_, ok, _ := store.Get(context.Background(), key)
			return ok
		},
	}
}

func redisBackend(t *testing.T) backendCase {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })
	return backendCase{
		name:    "redis",
		store:   redis.NewFromClient(client),
		advance: mr.FastForward,
		exists:  mr.Exists,
	}
}

func backends(t *testing.T) []backendCase {
	return []backendCase{memoryBackend(t), redisBackend(t)}
}

// faultStore wraps a Store and injects failures or interleavings.
type faultStore struct {
	ports.Store

	getErr   error
	setErr   error
	nxErr    error
	gets     int
	afterGet func(n int)
}

func (f *faultStore) Get(ctx context.Context, key string) (string, bool, error) {
	f.gets++
	if f.getErr != nil {
		return "", false, f.getErr
	}
	val, ok, err := f.Store.Get(ctx, key)
	if f.afterGet != nil {
		f.afterGet(f.gets)
	}
	return val, ok, err
}

func (f *faultStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.Store.Set(ctx, key, value, ttl)
}

func (f *faultStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if f.nxErr != nil {
		return false, f.nxErr
	}
	return f.Store.SetIfAbsent(ctx, key, value, ttl)
}

func okWork(v any) guard.Work {
	return func(ctx context.Context) (any, error) {
		return v, nil
	}
}

func failWork(err error) guard.Work {
	return func(ctx context.Context) (any, error) {
		return nil, err
	}
}

var orderRequest = guard.Request{Identity: "u1", Path: "/buyer/order/create"}
