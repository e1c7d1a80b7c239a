/*
Package middleware applies the idempotency guard to HTTP handlers.

Idempotent wraps a single handler with an explicit policy; ByRoute selects a policy by
request path so that a whole router can be configured declaratively. Both return a
standard func(http.Handler) http.Handler and compose with chi's Use and With.

A handler response with status >= 500 counts as a business failure. With
ReplayResult the recorded response is stored and replayed to later duplicates with
the Idempotent-Replayed header set.
*/
package middleware
