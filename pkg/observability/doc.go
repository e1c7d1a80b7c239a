/*
Package observability provides Prometheus instrumentation for the idempotency guard.

It counts admission outcomes, times the protected work and tracks how lock releases
resolve, so that lock contention and store outages are visible before they turn into
user-facing errors.
*/
package observability
