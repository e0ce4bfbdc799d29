package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsTransient_TypedErrors(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil must not be transient")
	}
	if !IsTransient(NewTransientError(errors.New("429"), 429)) {
		t.Error("TransientError must be transient")
	}
	if IsTransient(NewFatalError(errors.New("bad schema"), FatalSchema)) {
		t.Error("FatalError must not be transient")
	}
	if IsTransient(errors.New("plain failure")) {
		t.Error("plain errors must not be transient")
	}

	// Wrapped transient stays transient.
	wrapped := fmt.Errorf("call failed: %w", NewTransientError(errors.New("503"), 503))
	if !IsTransient(wrapped) {
		t.Error("wrapped TransientError must be transient")
	}
}

func TestIsTransient_FatalWinsOverTransient(t *testing.T) {
	inner := NewTransientError(errors.New("429"), 429)
	outer := NewFatalError(inner, FatalSchema)
	if IsTransient(outer) {
		t.Error("fatal wrapping must win over an inner transient")
	}
}

func TestIsTransient_StringPatterns(t *testing.T) {
	for _, msg := range []string{
		"read tcp: connection reset by peer",
		"dial: no such host",
		"net/http: TLS handshake timeout",
	} {
		if !IsTransient(errors.New(msg)) {
			t.Errorf("expected transient for %q", msg)
		}
	}
}

func TestStatusCode(t *testing.T) {
	if got := StatusCode(NewTransientError(errors.New("x"), 429)); got != 429 {
		t.Errorf("expected 429, got %d", got)
	}
	if got := StatusCode(errors.New("x")); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d transient", code)
		}
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d not transient", code)
		}
	}
}

func TestBackoffDelay_GrowsAndCaps(t *testing.T) {
	cfg := BackoffConfig{
		Initial:        100 * time.Millisecond,
		Max:            1 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0, // deterministic
	}

	if got := cfg.Delay(0); got != 100*time.Millisecond {
		t.Errorf("attempt 0: got %v", got)
	}
	if got := cfg.Delay(2); got != 400*time.Millisecond {
		t.Errorf("attempt 2: got %v", got)
	}
	if got := cfg.Delay(10); got != 1*time.Second {
		t.Errorf("attempt 10 should cap at Max, got %v", got)
	}
}

func TestBackoffDelay_JitterBounds(t *testing.T) {
	cfg := BackoffConfig{
		Initial:        100 * time.Millisecond,
		Max:            10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}

	for i := 0; i < 100; i++ {
		d := cfg.Delay(1)
		if d < 150*time.Millisecond || d > 250*time.Millisecond {
			t.Fatalf("delay %v outside jitter bounds [150ms, 250ms]", d)
		}
	}
}

func TestDo_RetriesTransientOnly(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts: 3,
		Backoff:     BackoffConfig{Initial: time.Nanosecond, Max: time.Nanosecond},
	}

	var calls int
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("429"), 429)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}

	calls = 0
	err = Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return NewFatalError(errors.New("nope"), FatalAuth)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("fatal errors must not be retried, got %d calls", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts: 2,
		Backoff:     BackoffConfig{Initial: time.Nanosecond, Max: time.Nanosecond},
	}

	var calls int
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("503"), 503)
	})
	if err == nil {
		t.Fatal("expected error after exhaustion")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRealSleeper_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := (RealSleeper{}).Sleep(ctx, time.Hour)
	if err == nil {
		t.Fatal("expected context error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("sleep did not return promptly: %v", elapsed)
	}
}
