/*
Package ports defines the driven ports (interfaces) of the idempotency guard.

These interfaces decouple the guard from the backing key-value service, so the same
admission logic runs against Redis in production and an in-memory store in tests.

# Key Interfaces

  - Store: atomic get / set / set-if-absent / delete-if-equals / delete with TTL.
  - Locker: single-attempt acquire and owner-checked release of a named lock.
*/
package ports
