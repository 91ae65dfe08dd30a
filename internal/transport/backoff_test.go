package transport

import (
	"context"
	"testing"
	"time"
)

func TestNextDelayGrows(t *testing.T) {
	p := DefaultBackoffPolicy()

	if d := p.NextDelay(1); d != 1*time.Second {
		t.Errorf("expected 1s for attempt 1, got %v", d)
	}
	if d := p.NextDelay(2); d != 2*time.Second {
		t.Errorf("expected 2s for attempt 2, got %v", d)
	}
	if d := p.NextDelay(3); d != 4*time.Second {
		t.Errorf("expected 4s for attempt 3, got %v", d)
	}
}

func TestNextDelayCapped(t *testing.T) {
	p := DefaultBackoffPolicy()

	if d := p.NextDelay(20); d != p.MaxDelay {
		t.Errorf("expected cap %v, got %v", p.MaxDelay, d)
	}
}

func TestWaitCancelled(t *testing.T) {
	p := &BackoffPolicy{
		InitialDelay: 10 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     10 * time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if p.Wait(ctx, 1) {
		t.Error("expected Wait to report cancellation")
	}
}

func TestWaitCompletes(t *testing.T) {
	p := &BackoffPolicy{
		InitialDelay: time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Millisecond,
	}
	if !p.Wait(context.Background(), 1) {
		t.Error("expected Wait to complete")
	}
}
