// Package guard runs a unit of work at most once per idempotency key across processes.
//
// Admission uses double-checked marking under a distributed lock:
//
//  1. derive the key, its lock key and a fresh lock token
//  2. reject if the key is already marked
//  3. acquire the lock (single attempt)
//  4. re-check the marker inside the critical section
//  5. mark the key with the policy TTL
//  6. run the work
//  7. release the lock on every exit path
//
// The marker gives duplicate detection for the whole TTL window; the lock only makes
// the check-then-mark sequence atomic. Both checks are required.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/idem/internal/logging"
	"github.com/aretw0/idem/pkg/domain"
	"github.com/aretw0/idem/pkg/keys"
	"github.com/aretw0/idem/pkg/lock"
	"github.com/aretw0/idem/pkg/observability"
	"github.com/aretw0/idem/pkg/ports"
)

const defaultCleanupTimeout = 2 * time.Second

// Request identifies one logical request.
type Request struct {
	// Identity is the caller (end user or client) identifier.
	Identity string
	// Path is the operation name or route.
	Path string
	// Token is an optional caller-supplied request id, e.g. an Idempotency-Key header.
	Token string
}

// Work is the protected unit of business logic.
type Work func(ctx context.Context) (any, error)

// Result is the outcome of an admitted or replayed request.
type Result struct {
	Key string
	// Value is what Work returned. It is nil for replayed results.
	Value any
	// Payload is the JSON form of the result when ReplayResult is enabled.
	Payload json.RawMessage
	// Replayed is true when the result was served from a previous execution.
	Replayed bool
}

// Guard orchestrates key derivation, locking and marking around Work.
// It keeps no per-key state in memory: every decision re-reads the store.
type Guard struct {
	store          ports.Store
	locker         ports.Locker
	lockTTL        time.Duration
	cleanupTimeout time.Duration
	logger         *slog.Logger
	metrics        *observability.Metrics
	newToken       func() string
}

// New creates a Guard backed by store.
func New(store ports.Store, opts ...Option) *Guard {
	g := &Guard{
		store:          store,
		locker:         lock.New(store),
		lockTTL:        domain.DefaultLockTTL,
		cleanupTimeout: defaultCleanupTimeout,
		logger:         logging.NewNop(),
		newToken:       lock.NewToken,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RunOnce executes work unless the request was already admitted within the policy TTL.
//
// Errors: domain.ErrInvalidKey, domain.ErrRepeatRequest (as *domain.RepeatRequestError),
// domain.ErrLockAcquisition, domain.ErrStoreUnavailable, or whatever work returned.
func (g *Guard) RunOnce(ctx context.Context, req Request, policy domain.Policy, work Work) (*Result, error) {
	policy = policy.WithDefaults()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 1. Derive key, lock key and a fresh owner token
	key, err := keys.BuildWithToken(policy.Prefix, req.Identity, req.Path, req.Token)
	if err != nil {
		g.metrics.Outcome(policy.Prefix, observability.OutcomeInvalidKey)
		return nil, err
	}
	lockKey := keys.LockKey(key)
	token := g.newToken()

	// 2. First check, outside the lock
	if res, err := g.check(ctx, key, policy); res != nil || err != nil {
		return res, err
	}

	// 3. Acquire the lock
	locked, err := g.locker.Acquire(ctx, lockKey, token, g.lockTTL)
	if err != nil {
		g.metrics.Outcome(policy.Prefix, observability.OutcomeStoreError)
		return nil, domain.StoreError("acquire lock", err)
	}
	if !locked {
		return nil, g.contended(ctx, key, lockKey, policy)
	}
	defer g.release(ctx, lockKey, token)

	// 4. Second check, inside the critical section
	if res, err := g.check(ctx, key, policy); res != nil || err != nil {
		return res, err
	}

	// 5. Mark before running the work
	marker, err := domain.Marker{Token: token, State: domain.MarkerPending}.Encode()
	if err != nil {
		return nil, err
	}
	if err := g.store.Set(ctx, key, marker, policy.TTL); err != nil {
		g.metrics.Outcome(policy.Prefix, observability.OutcomeStoreError)
		return nil, domain.StoreError("mark", err)
	}
	g.metrics.Outcome(policy.Prefix, observability.OutcomeAdmitted)
	g.logger.Debug("Request admitted", "key", key)

	// 6. Execute
	value, err := g.execute(ctx, key, marker, policy, work)
	if err != nil {
		return nil, err
	}

	res := &Result{Key: key, Value: value}
	if policy.ReplayResult {
		res.Payload = g.storeResult(ctx, key, token, policy, value)
	}
	return res, nil
}

// check reads the marker. It returns a replayed result, a repeat error, or (nil, nil) when the key is free.
func (g *Guard) check(ctx context.Context, key string, policy domain.Policy) (*Result, error) {
	val, ok, err := g.store.Get(ctx, key)
	if err != nil {
		g.metrics.Outcome(policy.Prefix, observability.OutcomeStoreError)
		g.logger.Error("Idempotency store unavailable", "key", key, "err", err)
		return nil, domain.StoreError("get marker", err)
	}
	if !ok {
		return nil, nil
	}

	marker := domain.DecodeMarker(val)
	if policy.ReplayResult && marker.Replayable() {
		g.metrics.Outcome(policy.Prefix, observability.OutcomeReplayed)
		g.logger.Info("Replaying stored result", "key", key)
		return &Result{Key: key, Payload: marker.Payload, Replayed: true}, nil
	}

	g.metrics.Outcome(policy.Prefix, observability.OutcomeRepeat)
	g.logger.Warn("Repeat request rejected", "key", key)
	return nil, domain.NewRepeatRequest(key, policy.Message)
}

// contended reports a failed acquire. If the holder has marked the key by now the
// request is a duplicate; otherwise the lock failure itself is surfaced.
func (g *Guard) contended(ctx context.Context, key, lockKey string, policy domain.Policy) error {
	val, ok, err := g.store.Get(ctx, key)
	if err != nil {
		g.metrics.Outcome(policy.Prefix, observability.OutcomeStoreError)
		return domain.StoreError("get marker", err)
	}
	if ok && !(policy.ReplayResult && domain.DecodeMarker(val).Replayable()) {
		g.metrics.Outcome(policy.Prefix, observability.OutcomeRepeat)
		g.logger.Warn("Repeat request rejected", "key", key)
		return domain.NewRepeatRequest(key, policy.Message)
	}

	g.metrics.Outcome(policy.Prefix, observability.OutcomeLockFailed)
	g.logger.Error("Failed to acquire idempotency lock", "lock_key", lockKey)
	return fmt.Errorf("%w: %s", domain.ErrLockAcquisition, lockKey)
}

// execute runs work and applies the failure policy on error or panic.
func (g *Guard) execute(ctx context.Context, key, marker string, policy domain.Policy, work Work) (value any, err error) {
	start := time.Now()
	defer func() {
		g.metrics.ObserveWork(policy.Prefix, time.Since(start))
	}()

	defer func() {
		if r := recover(); r != nil {
			g.metrics.Outcome(policy.Prefix, observability.OutcomeWorkFailed)
			g.logger.Error("Guarded work panicked", "key", key, "panic", r)
			if cerr := g.cleanupMarker(ctx, key, marker, policy); cerr != nil {
				g.logger.Warn("Failed to clear marker after panic", "key", key, "err", cerr)
			}
			panic(r)
		}
	}()

	value, err = work(ctx)
	if err != nil {
		g.metrics.Outcome(policy.Prefix, observability.OutcomeWorkFailed)
		if cerr := g.cleanupMarker(ctx, key, marker, policy); cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}
	return value, nil
}

// cleanupMarker deletes our own marker when the policy allows retries after failure.
// A marker written by a later execution (after ours expired) is left alone.
func (g *Guard) cleanupMarker(ctx context.Context, key, marker string, policy domain.Policy) error {
	if !policy.ReleaseOnFailure {
		return nil
	}
	ctx, cancel := g.cleanupContext(ctx)
	defer cancel()

	deleted, err := g.store.DeleteIfEquals(ctx, key, marker)
	if err != nil {
		return domain.StoreError("clear marker", err)
	}
	if deleted {
		g.logger.Info("Marker cleared after failure, retry allowed", "key", key)
	}
	return nil
}

// storeResult overwrites the marker with the successful result.
// The work has already taken effect, so failures here are logged rather than returned;
// the pending marker keeps rejecting duplicates until it expires.
func (g *Guard) storeResult(ctx context.Context, key, token string, policy domain.Policy, value any) json.RawMessage {
	payload, err := json.Marshal(value)
	if err != nil {
		g.logger.Warn("Result is not serializable, replay disabled for this key", "key", key, "err", err)
		return nil
	}

	done, err := domain.Marker{Token: token, State: domain.MarkerDone, Payload: payload}.Encode()
	if err != nil {
		g.logger.Warn("Failed to encode result marker", "key", key, "err", err)
		return payload
	}

	ctx, cancel := g.cleanupContext(ctx)
	defer cancel()
	if err := g.store.Set(ctx, key, done, policy.ResultTTL); err != nil {
		g.logger.Warn("Failed to store result for replay", "key", key, "err", err)
	}
	return payload
}

// release frees the lock if we still own it. It runs even when ctx is cancelled.
func (g *Guard) release(ctx context.Context, lockKey, token string) {
	ctx, cancel := g.cleanupContext(ctx)
	defer cancel()

	released, err := g.locker.Release(ctx, lockKey, token)
	switch {
	case err != nil:
		g.metrics.Release(observability.ReleaseError)
		g.logger.Warn("Failed to release idempotency lock (will expire via TTL)",
			"lock_key", lockKey,
			"err", err,
		)
	case !released:
		g.metrics.Release(observability.ReleaseNotOwner)
		g.logger.Warn("Idempotency lock expired before release", "lock_key", lockKey)
	default:
		g.metrics.Release(observability.ReleaseReleased)
	}
}

func (g *Guard) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), g.cleanupTimeout)
}
