// Package forward proxies allowed requests to the configured backend.
//
// Three independent timeouts are enforced — connect, read (time to response
// headers) and total — along with a maximum request body size checked before
// any connection is made. Concurrency is bounded by a pool: when the pool is
// exhausted, callers wait at most the connect timeout and then fail rather
// than queueing indefinitely. A single retry is permitted on connect-phase
// failures for idempotent methods only; read and total timeouts are never
// retried because the backend may already have processed the request.
package forward
