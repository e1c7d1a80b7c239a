package guard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/idem/pkg/domain"
)

// Do is a typed RunOnce. On replay the stored payload is decoded into T.
// The boolean reports whether the value was replayed.
func Do[T any](ctx context.Context, g *Guard, req Request, policy domain.Policy, fn func(context.Context) (T, error)) (T, bool, error) {
	var zero T

	res, err := g.RunOnce(ctx, req, policy, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, false, err
	}

	if !res.Replayed {
		v, _ := res.Value.(T)
		return v, false, nil
	}

	var v T
	if len(res.Payload) > 0 {
		if err := json.Unmarshal(res.Payload, &v); err != nil {
			return zero, true, fmt.Errorf("failed to decode replayed result for %s: %w", res.Key, err)
		}
	}
	return v, true, nil
}

// Handler is an operation that receives the request it is guarded by.
type Handler func(ctx context.Context, req Request) (any, error)

// Wrap decorates next so that every call goes through RunOnce with policy.
func (g *Guard) Wrap(policy domain.Policy, next Handler) func(context.Context, Request) (*Result, error) {
	return func(ctx context.Context, req Request) (*Result, error) {
		return g.RunOnce(ctx, req, policy, func(ctx context.Context) (any, error) {
			return next(ctx, req)
		})
	}
}
