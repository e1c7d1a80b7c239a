/*
Package idem guarantees that an operation runs at most once per caller and operation
within a time window, across every instance of a service that shares one Redis.

# Concept

Each guarded call is named by a key derived from an optional prefix, the caller identity
and the operation path (plus an optional request token). The guard runs a double-checked
protocol around that key:

 1. If a marker exists for the key, the call is a repeat and is rejected.
 2. Otherwise a short-lived lock is taken with SET NX, the marker is checked again and
    then written with the policy TTL.
 3. The work runs, and the lock is released with a compare-and-delete so only its owner
    can remove it.

Store failures never admit a call: they surface as ErrStoreUnavailable.

# Usage

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	g := idem.NewRedis(client)

	res, err := g.RunOnce(ctx, idem.Request{Identity: openid, Path: "/buyer/order/create"},
		idem.Policy{Prefix: "order", TTL: 5 * time.Second},
		func(ctx context.Context) (any, error) {
			return orders.Create(ctx, form)
		})
	if errors.Is(err, idem.ErrRepeatRequest) {
		// duplicate submission
	}

HTTP services can use the middleware package instead of calling RunOnce directly, and
Policy.ReplayResult makes duplicates receive the first call's result instead of an error.
*/
package idem
