/*
Package domain contains the core types shared by the idempotency guard and its adapters.

It is kept free of I/O and persistence concerns, following Hexagonal Architecture
principles: the store adapters, the lock and the guard all speak in terms of these types.

# Key Entities

  - Policy: per-operation settings (prefix, marker TTL, conflict message, cleanup and replay flags).
  - Marker: the record stored at an idempotency key while a request is in flight or done.
  - Error taxonomy: ErrRepeatRequest, ErrLockAcquisition, ErrStoreUnavailable, ErrInvalidKey.
*/
package domain
