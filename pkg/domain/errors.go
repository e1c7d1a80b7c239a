package domain

import (
	"errors"
	"fmt"
)

// ErrRepeatRequest is returned when the idempotency key is already marked.
var ErrRepeatRequest = errors.New("repeat request")

// ErrLockAcquisition is returned when the admission lock is held by another execution.
var ErrLockAcquisition = errors.New("failed to acquire idempotency lock")

// ErrStoreUnavailable wraps every failure reported by the shared store.
var ErrStoreUnavailable = errors.New("idempotency store unavailable")

// ErrInvalidKey is returned when an idempotency key cannot be derived from the request.
var ErrInvalidKey = errors.New("invalid idempotency key")

// RepeatRequestError carries the configured conflict message for a duplicate submission.
// It matches ErrRepeatRequest with errors.Is.
type RepeatRequestError struct {
	Key     string
	Message string
}

func (e *RepeatRequestError) Error() string {
	return fmt.Sprintf("%s (key=%s)", e.Message, e.Key)
}

// Is reports whether target is ErrRepeatRequest.
func (e *RepeatRequestError) Is(target error) bool {
	return target == ErrRepeatRequest
}

// NewRepeatRequest builds a RepeatRequestError, falling back to DefaultMessage.
func NewRepeatRequest(key, message string) *RepeatRequestError {
	if message == "" {
		message = DefaultMessage
	}
	return &RepeatRequestError{Key: key, Message: message}
}

// StoreError wraps a backend failure so that it matches ErrStoreUnavailable.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
