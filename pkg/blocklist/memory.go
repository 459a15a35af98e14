package blocklist

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Checker for single-instance deployments and
// tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]time.Time // zero time means no expiry
}

// NewMemory creates an empty in-memory blocklist.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]time.Time)}
}

// Contains reports whether ip is blocked, expiring lazily.
func (m *Memory) Contains(_ context.Context, ip string) (bool, error) {
	m.mu.RLock()
	exp, ok := m.entries[ip]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if !exp.IsZero() && time.Now().After(exp) {
		m.mu.Lock()
		delete(m.entries, ip)
		m.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Block adds ip for ttl.
func (m *Memory) Block(_ context.Context, ip string, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[ip] = exp
	m.mu.Unlock()
	return nil
}

// Unblock removes ip.
func (m *Memory) Unblock(_ context.Context, ip string) error {
	m.mu.Lock()
	delete(m.entries, ip)
	m.mu.Unlock()
	return nil
}

// Close implements Checker.
func (m *Memory) Close() error { return nil }
