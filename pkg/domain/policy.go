package domain

import "time"

const (
	// DefaultTTL is the marker lifetime when a policy does not set one.
	DefaultTTL = 5000 * time.Millisecond

	// DefaultMessage is returned to callers of a duplicate request.
	DefaultMessage = "duplicate request"

	// DefaultLockTTL bounds how long a crashed holder can block admission for a key.
	DefaultLockTTL = 10 * time.Second
)

// Policy is the declarative idempotency configuration of one operation.
type Policy struct {
	// Prefix is an optional namespace segment of the idempotency key.
	Prefix string

	// TTL is the marker lifetime, i.e. the idempotency window.
	TTL time.Duration

	// Message is carried by RepeatRequestError.
	Message string

	// ReleaseOnFailure deletes the marker when the work fails, allowing an immediate retry.
	// When false the marker is kept until TTL (strict dedup).
	ReleaseOnFailure bool

	// ReplayResult stores the successful result in the marker and replays it
	// to later callers instead of rejecting them.
	ReplayResult bool

	// ResultTTL is the lifetime of a stored result. Zero means TTL.
	ResultTTL time.Duration
}

// DefaultPolicy returns the policy used when an operation declares nothing.
func DefaultPolicy() Policy {
	return Policy{
		TTL:     DefaultTTL,
		Message: DefaultMessage,
	}
}

// WithDefaults fills zero fields with defaults.
func (p Policy) WithDefaults() Policy {
	if p.TTL <= 0 {
		p.TTL = DefaultTTL
	}
	if p.Message == "" {
		p.Message = DefaultMessage
	}
	if p.ResultTTL <= 0 {
		p.ResultTTL = p.TTL
	}
	return p
}
