package redis

import (
	"context"
	"errors"
	"time"

	"github.com/aretw0/idem/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// deleteIfEquals removes KEYS[1] only when it still holds ARGV[1].
// GET and DEL run inside one script, so no other client can interleave between them.
var deleteIfEquals = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Store implements ports.Store using Redis.
type Store struct {
	client backend.UniversalClient
	prefix string
}

type Option func(*Store)

// WithPrefix namespaces every key, e.g. per environment.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
// Cluster and sentinel clients are accepted through backend.UniversalClient.
func NewFromClient(client backend.UniversalClient, opts ...Option) *Store {
	store := &Store{
		client: client,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Get returns the value at key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return "", false, nil
		}
		return "", false, domain.StoreError("get", err)
	}
	return val, true, nil
}

// SetIfAbsent uses SET NX PX.
func (s *Store) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, domain.StoreError("setnx", err)
	}
	return ok, nil
}

// Set overwrites key with a TTL.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return domain.StoreError("set", err)
	}
	return nil
}

// DeleteIfEquals runs the compare-and-delete script.
func (s *Store) DeleteIfEquals(ctx context.Context, key, expected string) (bool, error) {
	n, err := deleteIfEquals.Run(ctx, s.client, []string{s.key(key)}, expected).Int64()
	if err != nil {
		return false, domain.StoreError("delete-if-equals", err)
	}
	return n == 1, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return domain.StoreError("del", err)
	}
	return nil
}

// TTL returns the remaining lifetime of key, or zero when it is missing or never expires.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.PTTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, domain.StoreError("pttl", err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return domain.StoreError("ping", err)
	}
	return nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
