package transport

import (
	"context"
	"math"
	"time"
)

// BackoffPolicy controls how a failed transport connection is re-established
// with exponential backoff.
type BackoffPolicy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultBackoffPolicy returns a BackoffPolicy with sensible defaults:
// 1s initial delay, 2x multiplier, 60s max delay.
func DefaultBackoffPolicy() *BackoffPolicy {
	return &BackoffPolicy{
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     60 * time.Second,
	}
}

// NextDelay returns the backoff delay for the given attempt number (1-indexed).
// The delay is InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *BackoffPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Wait sleeps for the attempt's delay or until the context is cancelled.
// Returns false when the context ended first.
func (p *BackoffPolicy) Wait(ctx context.Context, attempt int) bool {
	select {
	case <-time.After(p.NextDelay(attempt)):
		return true
	case <-ctx.Done():
		return false
	}
}
