package resilience

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/leeforge/runtimekit/errors"
)

func TestWithTimeoutValueCompletes(t *testing.T) {
	got, err := WithTimeoutValue(context.Background(), time.Second, func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("WithTimeoutValue = %d, %v, want 42, nil", got, err)
	}
}

func TestWithTimeoutExpiry(t *testing.T) {
	var finished atomic.Bool
	start := time.Now()
	err := WithTimeout(context.Background(), 15*time.Millisecond, func(context.Context) error {
		time.Sleep(300 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	if !apperrors.IsKind(err, apperrors.KindTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("took %v, the wait should stop at the deadline", elapsed)
	}

	// The operation itself is not cancelled; it runs to completion in
	// the background.
	waitFor(t, finished.Load)
}

func TestWithTimeoutOperationError(t *testing.T) {
	boom := fmt.Errorf("query failed")
	err := WithTimeout(context.Background(), time.Second, func(context.Context) error {
		return boom
	})
	if err != boom {
		t.Fatalf("err = %v, want the operation's own error", err)
	}
}

func TestWithFallbackOnExpiry(t *testing.T) {
	got, err := WithFallback(context.Background(), 10*time.Millisecond, func(context.Context) (string, error) {
		time.Sleep(200 * time.Millisecond)
		return "fresh", nil
	}, func(context.Context) (string, error) {
		return "cached", nil
	})
	if err != nil || got != "cached" {
		t.Fatalf("WithFallback = %q, %v, want cached, nil", got, err)
	}
}

func TestWithFallbackNotUsedForOperationErrors(t *testing.T) {
	boom := fmt.Errorf("query failed")
	var fellBack atomic.Bool
	got, err := WithFallback(context.Background(), time.Second, func(context.Context) (string, error) {
		return "", boom
	}, func(context.Context) (string, error) {
		fellBack.Store(true)
		return "cached", nil
	})
	if err != boom || got != "" {
		t.Fatalf("WithFallback = %q, %v, want zero value and the error", got, err)
	}
	if fellBack.Load() {
		t.Error("fallback should only run on timeout")
	}
}

func TestExecuteWithCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var finished atomic.Bool
	done := make(chan error, 1)
	go func() {
		done <- ExecuteWithCancellation(ctx, func(context.Context) error {
			time.Sleep(100 * time.Millisecond)
			finished.Store(true)
			return nil
		})
	}()
	cancel()

	err := <-done
	if !apperrors.IsKind(err, apperrors.KindCancelled) {
		t.Fatalf("err = %v, want cancelled", err)
	}
	if !apperrors.IsRecoverable(err) {
		t.Error("cancellation should be recoverable")
	}

	// Abandoned, not killed.
	waitFor(t, finished.Load)
}

func TestWithTimeoutRecoversPanic(t *testing.T) {
	err := WithTimeout(context.Background(), time.Second, func(context.Context) error {
		panic("unexpected state")
	})
	if !apperrors.IsKind(err, apperrors.KindOperationFailed) {
		t.Fatalf("err = %v, want operation-failed", err)
	}
	if !strings.Contains(err.Error(), "panicked") {
		t.Errorf("err = %v, want panic noted in message", err)
	}
}
