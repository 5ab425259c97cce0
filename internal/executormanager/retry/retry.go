// Package retry provides a small bounded-attempt, exponential-backoff
// helper for the Executor Manager's RPC calls.
package retry

import (
	"context"
	"time"
)

// Config bounds a retry sequence. Zero value is 5 attempts starting at
// 100ms and doubling up to 2s.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig matches spec.md §7's default of 5 attempts.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Do runs fn until it succeeds, ctx is done, or the attempt budget is
// exhausted, sleeping an exponentially growing delay between attempts.
// It returns the last error on exhaustion.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}

	delay := cfg.BaseDelay
	var err error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return err
}
