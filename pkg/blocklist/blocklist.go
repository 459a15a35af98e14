// Package blocklist tracks client IPs that are denied outright, before
// any rule evaluation.
package blocklist

import (
	"context"
	"time"
)

// Checker answers whether a client IP is currently blocked and lets the
// pipeline add offenders.
type Checker interface {
	// Contains reports whether ip is blocked right now.
	Contains(ctx context.Context, ip string) (bool, error)

	// Block adds ip for ttl. A zero ttl blocks until Unblock.
	Block(ctx context.Context, ip string, ttl time.Duration) error

	// Unblock removes ip.
	Unblock(ctx context.Context, ip string) error

	// Close releases any underlying resources.
	Close() error
}
