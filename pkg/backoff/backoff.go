// Package backoff provides exponential backoff with optional jitter.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
	Jitter  float64       // fraction of the delay randomly subtracted, 0..1
}

// Exponential calculates the delay before retry attempt n (1-based).
// Attempt 1 returns initial, attempt 2 returns initial*2, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	jitter := 0.0
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
		jitter = min(max(cfg.Jitter, 0), 1)
	}

	if attempt < 1 {
		attempt = 1
	}
	delay := math.Min(float64(initial)*math.Pow(2.0, float64(attempt-1)), float64(maxBackoff))
	if jitter > 0 {
		delay -= delay * jitter * rand.Float64()
	}
	return time.Duration(delay)
}

// Wait sleeps for the delay of the given attempt or until ctx is done.
func Wait(ctx context.Context, attempt int, cfg *Config) error {
	timer := time.NewTimer(Exponential(attempt, cfg))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
