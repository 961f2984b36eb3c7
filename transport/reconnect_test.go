package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestReconnectPolicy_DelayGrowsAndCaps(t *testing.T) {
	p := ReconnectPolicy{MaxAttempts: 5, BackoffBase: time.Second, BackoffMax: 4 * time.Second}

	for attempt := 1; attempt <= 5; attempt++ {
		delay, ok := p.Delay(attempt)
		if !ok {
			t.Fatalf("attempt %d should be allowed", attempt)
		}
		// +-25% jitter around the capped exponential value.
		if delay > 5*time.Second {
			t.Errorf("attempt %d delay %v exceeds cap plus jitter", attempt, delay)
		}
		if delay < 0 {
			t.Errorf("attempt %d negative delay %v", attempt, delay)
		}
	}

	if _, ok := p.Delay(6); ok {
		t.Error("attempts past the maximum must be refused")
	}
}

func TestReconnectPolicy_RunSurfacesManualRetry(t *testing.T) {
	p := ReconnectPolicy{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond}

	var calls atomic.Int32
	err := p.Run(context.Background(), func(context.Context) error {
		calls.Add(1)
		return errors.New("refused")
	})

	if !errors.Is(err, ErrManualRetry) {
		t.Errorf("expected ErrManualRetry, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestReconnectPolicy_RunStopsOnSuccess(t *testing.T) {
	p := ReconnectPolicy{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond}

	var calls atomic.Int32
	err := p.Run(context.Background(), func(context.Context) error {
		if calls.Add(1) < 2 {
			return errors.New("blip")
		}
		return nil
	})
	if err != nil {
		t.Errorf("run: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestReconnectPolicy_RunHonorsContext(t *testing.T) {
	p := DefaultReconnectPolicy()
	ctx, cancel := context.WithCancel(context.Background())

	err := p.Run(ctx, func(context.Context) error {
		cancel()
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestStaleDetector_FiresAfterSilence(t *testing.T) {
	fired := make(chan struct{})
	d := NewStaleDetector(10*time.Millisecond, func() { close(fired) })
	defer d.Stop()

	select {
	case <-fired:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("detector did not fire after twice the heartbeat interval")
	}
	if !d.Stale() {
		t.Error("Stale() should report true after firing")
	}
}

func TestStaleDetector_TouchDefersFiring(t *testing.T) {
	var fired atomic.Bool
	d := NewStaleDetector(20*time.Millisecond, func() { fired.Store(true) })
	defer d.Stop()

	// Keep touching inside the window; the detector must stay quiet.
	for i := 0; i < 5; i++ {
		time.Sleep(15 * time.Millisecond)
		d.Touch()
	}
	if fired.Load() {
		t.Error("detector fired despite regular liveness")
	}
}

func TestStaleDetector_StopPreventsFiring(t *testing.T) {
	var fired atomic.Bool
	d := NewStaleDetector(10*time.Millisecond, func() { fired.Store(true) })
	d.Stop()

	time.Sleep(50 * time.Millisecond)
	if fired.Load() {
		t.Error("stopped detector fired")
	}
}
