package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestWindowLimitsPerUser(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	w := NewWindow(client, 2, time.Minute)

	for i := 0; i < 2; i++ {
		allowed, err := w.Allow(ctx, "u1")
		if err != nil || !allowed {
			t.Fatalf("hit %d: expected allowed, got allowed=%v err=%v", i+1, allowed, err)
		}
	}
	allowed, err := w.Allow(ctx, "u1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatalf("expected third hit in window to be rejected")
	}

	// Another user has an independent window.
	allowed, _ = w.Allow(ctx, "u2")
	if !allowed {
		t.Fatalf("expected separate user to be allowed")
	}
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	w := NewWindow(client, 1, time.Minute)

	if allowed, _ := w.Allow(ctx, "u1"); !allowed {
		t.Fatalf("expected first hit allowed")
	}
	if allowed, _ := w.Allow(ctx, "u1"); allowed {
		t.Fatalf("expected second hit rejected")
	}

	mr.FastForward(2 * time.Minute)

	if allowed, _ := w.Allow(ctx, "u1"); !allowed {
		t.Fatalf("expected new window after expiry")
	}
}
