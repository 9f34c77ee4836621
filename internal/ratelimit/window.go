// Package ratelimit bounds how often a single user can submit training jobs.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is a fixed-window counter in Redis keyed per user. The first hit in
// a window sets the expiry; once the count passes the limit, further hits in
// that window are rejected.
type Window struct {
	client *redis.Client
	limit  int
	span   time.Duration
}

// NewWindow constructs a limiter allowing limit hits per span.
func NewWindow(client *redis.Client, limit int, span time.Duration) *Window {
	return &Window{client: client, limit: limit, span: span}
}

// Allow consumes one hit for the user.
func (w *Window) Allow(ctx context.Context, userID string) (bool, error) {
	key := fmt.Sprintf("trainrl:%s", userID)
	n, err := w.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("incr rate window: %w", err)
	}
	if n == 1 {
		if err := w.client.PExpire(ctx, key, w.span).Err(); err != nil {
			return false, fmt.Errorf("expire rate window: %w", err)
		}
	}
	return n <= int64(w.limit), nil
}
