/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package retry_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chainguard.dev/agentrelay/telemetry/retry"
)

func testConfig() retry.Config {
	return retry.Config{
		MaxAttempts:    3,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		JitterFraction: 0.1,
	}
}

func TestDo_Success(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	result, err := retry.Do(context.Background(), testConfig(), "test_op", nil, func(context.Context, retry.State) (string, error) {
		attempts.Add(1)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("result: got = %q, wanted = %q", result, "ok")
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts: got = %d, wanted = 1", got)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	transient := errors.New("503 service unavailable")

	result, err := retry.Do(context.Background(), testConfig(), "test_op", nil, func(_ context.Context, s retry.State) (string, error) {
		n := attempts.Add(1)
		if int(n-1) != s.Attempt {
			t.Errorf("State.Attempt: got = %d, wanted = %d", s.Attempt, n-1)
		}
		if s.Attempt > 0 && s.Delay < time.Millisecond {
			t.Errorf("State.Delay: got = %v, wanted at least the base backoff", s.Delay)
		}
		if n < 3 {
			return "", transient
		}
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "recovered" {
		t.Fatalf("result: got = %q, wanted = %q", result, "recovered")
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts: got = %d, wanted = 3", got)
	}
}

func TestDo_ExhaustedAttempts(t *testing.T) {
	t.Parallel()
	transient := errors.New("500 internal server error")

	var attempts atomic.Int32
	_, err := retry.Do(context.Background(), testConfig(), "test_op", nil, func(context.Context, retry.State) (string, error) {
		attempts.Add(1)
		return "", transient
	})
	if err == nil {
		t.Fatal("expected error after exhausted attempts")
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts: got = %d, wanted = 3", got)
	}
	if !errors.Is(err, transient) {
		t.Fatalf("expected wrapped error to contain original, got: %v", err)
	}
	if want := "test_op failed after 3 attempts"; !strings.HasPrefix(err.Error(), want) {
		t.Fatalf("error: got = %q, wanted prefix %q", err.Error(), want)
	}
}

func TestDo_PermanentError(t *testing.T) {
	t.Parallel()
	permErr := retry.Permanent(errors.New("404 not found"))

	var attempts atomic.Int32
	_, err := retry.Do(context.Background(), testConfig(), "test_op", nil, func(context.Context, retry.State) (string, error) {
		attempts.Add(1)
		return "", permErr
	})
	if !errors.Is(err, permErr) {
		t.Fatalf("expected original error, got: %v", err)
	}
	if !retry.IsPermanent(err) {
		t.Errorf("IsPermanent(%v) = false, wanted true", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts: got = %d, wanted = 1", got)
	}
}

func TestDo_CustomClassifier(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	_, err := retry.Do(context.Background(), testConfig(), "test_op", func(error) bool { return false }, func(context.Context, retry.State) (int, error) {
		attempts.Add(1)
		return 0, errors.New("anything")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts: got = %d, wanted = 1", got)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cfg := testConfig()
	cfg.BaseBackoff = time.Hour
	cfg.MaxBackoff = time.Hour

	var attempts atomic.Int32
	start := time.Now()
	_, err := retry.Do(ctx, cfg, "test_op", nil, func(context.Context, retry.State) (string, error) {
		attempts.Add(1)
		cancel()
		return "", errors.New("connection reset")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts: got = %d, wanted = 1", got)
	}
	if elapsed := time.Since(start); elapsed > time.Minute {
		t.Fatalf("backoff was not interrupted, took %v", elapsed)
	}
}

func TestDo_AttemptTimeoutRetried(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	_, err := retry.Do(context.Background(), testConfig(), "test_op", nil, func(ctx context.Context, _ retry.State) (string, error) {
		attempts.Add(1)
		actx, cancel := context.WithTimeout(ctx, time.Millisecond)
		defer cancel()
		<-actx.Done()
		return "", fmt.Errorf("awaiting headers: %w", actx.Err())
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the attempt's deadline error, got: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts: got = %d, wanted = 3", got)
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", errors.New("connection reset"), true},
		{"permanent", retry.Permanent(errors.New("bad request")), false},
		{"attempt deadline", fmt.Errorf("client timeout: %w", context.DeadlineExceeded), true},
	}
	for _, tc := range tests {
		if got := retry.Retryable(tc.err); got != tc.want {
			t.Errorf("%s: Retryable() = %v, wanted %v", tc.name, got, tc.want)
		}
	}
}

func TestDo_CanceledBeforeFirstAttempt(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var attempts atomic.Int32
	_, err := retry.Do(ctx, testConfig(), "test_op", nil, func(context.Context, retry.State) (string, error) {
		attempts.Add(1)
		return "", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
	if got := attempts.Load(); got != 0 {
		t.Fatalf("attempts: got = %d, wanted = 0", got)
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()
	cfg := retry.DefaultConfig()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{70, 30 * time.Second},
	}
	for _, tc := range tests {
		if got := cfg.Backoff(tc.attempt); got != tc.want {
			t.Errorf("Backoff(%d) = %v, wanted %v", tc.attempt, got, tc.want)
		}
	}
}

func TestJitterBounded(t *testing.T) {
	t.Parallel()
	cfg := retry.DefaultConfig()
	for range 100 {
		if j := cfg.Jitter(time.Second); j < 0 || j >= 100*time.Millisecond {
			t.Fatalf("Jitter(1s) = %v, wanted within [0, 100ms)", j)
		}
	}
	cfg.JitterFraction = 0
	if j := cfg.Jitter(time.Second); j != 0 {
		t.Errorf("Jitter with zero fraction = %v, wanted 0", j)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	if err := retry.DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
	bad := []retry.Config{
		{MaxAttempts: 0, BaseBackoff: time.Second, MaxBackoff: time.Second},
		{MaxAttempts: 1, BaseBackoff: -time.Second},
		{MaxAttempts: 1, BaseBackoff: 2 * time.Second, MaxBackoff: time.Second},
		{MaxAttempts: 1, JitterFraction: 1.5},
	}
	for _, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, wanted error", cfg)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := retry.DefaultConfig()

	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.BaseBackoff != time.Second {
		t.Errorf("BaseBackoff = %v, want %v", cfg.BaseBackoff, time.Second)
	}
	if cfg.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want %v", cfg.MaxBackoff, 30*time.Second)
	}
	if cfg.JitterFraction != 0.1 {
		t.Errorf("JitterFraction = %v, want 0.1", cfg.JitterFraction)
	}
}
