package rpcclient

import (
	"context"
	"math"
	"time"
)

// backoffDelay computes the delay before retry attempt k:
//
//	min(base * multiplier^min(k, maxExponent), max)
func backoffDelay(cfg BackoffConfig, attempt int) time.Duration {
	exp := attempt
	if exp > cfg.MaxExponent {
		exp = cfg.MaxExponent
	}
	delayMs := float64(cfg.BaseMs) * math.Pow(cfg.Multiplier, float64(exp))
	if delayMs > float64(cfg.MaxMs) {
		delayMs = float64(cfg.MaxMs)
	}
	return time.Duration(delayMs) * time.Millisecond
}

// sleepBackoff waits for the attempt's backoff delay or until ctx is done.
func sleepBackoff(ctx context.Context, cfg BackoffConfig, attempt int) error {
	timer := time.NewTimer(backoffDelay(cfg, attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
