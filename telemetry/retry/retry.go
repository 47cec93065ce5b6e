/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package retry runs delivery attempts with capped exponential backoff and
// proportional jitter.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/chainguard-dev/clog"
)

// Config configures retry behavior for one delivery.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first one
	// (default: 3). 1 means do not retry at all.
	MaxAttempts int
	// BaseBackoff is the delay before the second attempt (default: 1s).
	BaseBackoff time.Duration
	// MaxBackoff caps the doubled delay (default: 30s).
	MaxBackoff time.Duration
	// JitterFraction is the largest random fraction of the delay added on
	// top of it (default: 0.1).
	JitterFraction float64
}

// Validate checks that the retry configuration has valid values.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if c.BaseBackoff < 0 {
		return errors.New("base backoff cannot be negative")
	}
	if c.MaxBackoff < 0 {
		return errors.New("max backoff cannot be negative")
	}
	if c.MaxBackoff < c.BaseBackoff {
		return errors.New("max backoff cannot be lower than base backoff")
	}
	if c.JitterFraction < 0 || c.JitterFraction > 1 {
		return errors.New("jitter fraction must be within [0, 1]")
	}
	return nil
}

// DefaultConfig returns the delivery defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		BaseBackoff:    1 * time.Second,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.1,
	}
}

// State is the transient retry state handed to each attempt.
type State struct {
	// Attempt is zero-based.
	Attempt int
	// Delay is the backoff slept before this attempt, jitter included.
	Delay time.Duration
}

// Backoff returns the un-jittered delay following the zero-based attempt:
// BaseBackoff * 2^attempt, capped at MaxBackoff.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 62 {
		return c.MaxBackoff
	}
	d := c.BaseBackoff << attempt
	if d < c.BaseBackoff {
		return c.MaxBackoff
	}
	return min(d, c.MaxBackoff)
}

// Jitter returns a random duration in [0, JitterFraction*d).
func (c Config) Jitter(d time.Duration) time.Duration {
	limit := int64(float64(d) * c.JitterFraction)
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(limit))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retryable is the default classifier: everything except Permanent errors.
// Per-attempt timeouts wrap context.DeadlineExceeded and are retried; Do
// stops on its own once the caller's context is done.
func Retryable(err error) bool {
	return err != nil && !IsPermanent(err)
}

// Do executes fn with exponential backoff retry. It only retries errors that
// isRetryable accepts (Retryable when nil). Only the caller's ctx ends the
// loop early: a failed attempt under a done ctx is not retried, backoff sleeps
// are interrupted, and no attempt starts after that.
func Do[T any](ctx context.Context, cfg Config, operation string, isRetryable func(error) bool, fn func(context.Context, State) (T, error)) (T, error) {
	if isRetryable == nil {
		isRetryable = Retryable
	}
	attempts := max(cfg.MaxAttempts, 1)

	var result T
	var lastErr error
	state := State{}

	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		state.Attempt = attempt

		result, lastErr = fn(ctx, state)
		if lastErr == nil {
			return result, nil
		}
		if !isRetryable(lastErr) {
			return result, lastErr
		}
		if err := ctx.Err(); err != nil {
			return result, errors.Join(err, lastErr)
		}
		if attempt+1 >= attempts {
			break
		}

		backoff := cfg.Backoff(attempt)
		delay := backoff + cfg.Jitter(backoff)

		clog.FromContext(ctx).With("operation", operation).
			With("attempt", attempt+1).
			With("max_attempts", attempts).
			With("backoff", delay).
			With("error", lastErr.Error()).
			Warn("Transient failure, retrying")

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
		state.Delay = delay
	}

	return result, fmt.Errorf("%s failed after %d attempts: %w", operation, attempts, lastErr)
}
