package blocklist

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemory_BlockAndExpire(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if blocked, _ := m.Contains(ctx, "203.0.113.7"); blocked {
		t.Fatal("fresh blocklist contains an entry")
	}

	if err := m.Block(ctx, "203.0.113.7", time.Hour); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	if blocked, _ := m.Contains(ctx, "203.0.113.7"); !blocked {
		t.Error("blocked IP not reported")
	}
	if blocked, _ := m.Contains(ctx, "203.0.113.8"); blocked {
		t.Error("unrelated IP reported blocked")
	}

	if err := m.Unblock(ctx, "203.0.113.7"); err != nil {
		t.Fatalf("Unblock() error = %v", err)
	}
	if blocked, _ := m.Contains(ctx, "203.0.113.7"); blocked {
		t.Error("unblocked IP still reported")
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Block(ctx, "198.51.100.4", time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	if blocked, _ := m.Contains(ctx, "198.51.100.4"); blocked {
		t.Error("entry survived its TTL")
	}
}

func TestRedis_RoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	r, err := NewRedis(ctx, &RedisConfig{Addr: srv.Addr()})
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	defer r.Close()

	if err := r.Block(ctx, "203.0.113.9", time.Minute); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	if blocked, err := r.Contains(ctx, "203.0.113.9"); err != nil || !blocked {
		t.Errorf("Contains() = %v, %v, want true", blocked, err)
	}
	if !srv.Exists(keyPrefix + "203.0.113.9") {
		t.Error("blocklist key missing in redis")
	}

	// TTL expiry is redis-side.
	srv.FastForward(2 * time.Minute)
	if blocked, _ := r.Contains(ctx, "203.0.113.9"); blocked {
		t.Error("entry survived its TTL")
	}

	if err := r.Block(ctx, "203.0.113.10", 0); err != nil {
		t.Fatal(err)
	}
	if err := r.Unblock(ctx, "203.0.113.10"); err != nil {
		t.Fatalf("Unblock() error = %v", err)
	}
	if blocked, _ := r.Contains(ctx, "203.0.113.10"); blocked {
		t.Error("unblocked IP still reported")
	}
}
