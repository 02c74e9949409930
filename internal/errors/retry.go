package errors

import (
	"math/rand"
	"time"
)

// RetryConfig is a backoff schedule: up to MaxRetries additional attempts
// after the first, starting at InitialDelay and growing by Multiplier each
// time, capped at MaxDelay, optionally jittered to avoid synchronized
// retries across concurrent job workers.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// JobRetryConfig is the job worker's backoff schedule:
// attempts at roughly 5s, 15s, 45s, each jittered ±20%.
func JobRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 5 * time.Second,
		MaxDelay:     45 * time.Second,
		Multiplier:   3.0,
		Jitter:       true,
	}
}

// ShouldRetry reports whether a job worker should schedule another attempt
// after err on the given attempt number (0-indexed). Terminal error codes
// and an exhausted attempt budget both end the retry loop.
func ShouldRetry(err error, attempt int, cfg RetryConfig) bool {
	if attempt >= cfg.MaxRetries {
		return false
	}
	return IsRetryable(err) && !IsTerminal(err)
}

// NextDelay returns how long to wait before the next attempt given the
// delay used before the current one, applying cfg.Multiplier and clamping
// to cfg.MaxDelay. Callers seed the loop with cfg.InitialDelay and feed
// each call's return back in as prev on the following iteration.
func NextDelay(cfg RetryConfig, prev time.Duration) time.Duration {
	next := time.Duration(float64(prev) * cfg.Multiplier)
	if next > cfg.MaxDelay {
		next = cfg.MaxDelay
	}
	return next
}

// Jittered scales delay by a random factor in [0.8, 1.2] when cfg.Jitter is
// set, spreading out retries from workers that failed at the same moment.
func Jittered(cfg RetryConfig, delay time.Duration) time.Duration {
	if !cfg.Jitter {
		return delay
	}
	return time.Duration(float64(delay) * (0.8 + 0.4*rand.Float64()))
}
