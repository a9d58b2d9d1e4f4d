package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestDedup(t *testing.T) (*Deduplicator, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	d, err := New("redis://"+mr.Addr(), "")
	if err != nil {
		mr.Close()
		t.Fatalf("New: %v", err)
	}
	return d, mr
}

func TestClaimNewKey(t *testing.T) {
	d, mr := setupTestDedup(t)
	defer mr.Close()
	defer d.Close()

	ok, err := d.Claim(context.Background(), "report:portfolio:2026-01-02", time.Hour)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !ok {
		t.Error("first Claim should win")
	}
}

func TestClaimTwice(t *testing.T) {
	d, mr := setupTestDedup(t)
	defer mr.Close()
	defer d.Close()

	ctx := context.Background()
	if ok, _ := d.Claim(ctx, "report:vault:2026-01-02", time.Hour); !ok {
		t.Fatal("first Claim should win")
	}
	ok, err := d.Claim(ctx, "report:vault:2026-01-02", time.Hour)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if ok {
		t.Error("second Claim should lose")
	}
}

func TestClaimExpires(t *testing.T) {
	d, mr := setupTestDedup(t)
	defer mr.Close()
	defer d.Close()

	ctx := context.Background()
	if ok, _ := d.Claim(ctx, "k", time.Minute); !ok {
		t.Fatal("first Claim should win")
	}
	mr.FastForward(2 * time.Minute)

	ok, err := d.Claim(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !ok {
		t.Error("Claim should win again after ttl")
	}
}

func TestRelease(t *testing.T) {
	d, mr := setupTestDedup(t)
	defer mr.Close()
	defer d.Close()

	ctx := context.Background()
	_, _ = d.Claim(ctx, "k", time.Hour)
	if !mr.Exists("k") {
		t.Fatal("key should be held after Claim")
	}

	if err := d.Release(ctx, "k"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if mr.Exists("k") {
		t.Error("key should not be held after Release")
	}
	if ok, _ := d.Claim(ctx, "k", time.Hour); !ok {
		t.Error("Claim should win after Release")
	}
}

func TestClaimRedisDown(t *testing.T) {
	d, mr := setupTestDedup(t)
	defer d.Close()

	mr.Close()

	if _, err := d.Claim(context.Background(), "any:key", time.Hour); err == nil {
		t.Error("Claim should return an error when Redis is down")
	}
}

func TestNewBadURL(t *testing.T) {
	if _, err := New("not-a-url", ""); err == nil {
		t.Error("New should reject a malformed URL")
	}
}

func TestPing(t *testing.T) {
	d, mr := setupTestDedup(t)
	defer d.Close()

	if err := d.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	mr.Close()
	if err := d.Ping(context.Background()); err == nil {
		t.Error("Ping should fail once Redis is gone")
	}
}
