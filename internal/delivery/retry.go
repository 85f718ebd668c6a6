// Package delivery sends formatted reply segments to the platform in strict
// order, with bounded retry for transient failures, rate-limit suspension,
// and a plain-text degrade path for markup rejections.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a send failure. Senders wrap their platform errors
// into the typed errors below; Classify recovers the kind.
type ErrorKind int

const (
	// KindOther is any unexpected, non-retryable failure.
	KindOther ErrorKind = iota
	// KindTransient is a network/timeout failure worth retrying.
	KindTransient
	// KindRateLimited is an explicit flow-control signal with a wait time.
	KindRateLimited
	// KindFormatRejected means the platform could not parse the markup.
	KindFormatRejected
)

// TransientError marks a failure as retryable.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitedError carries the platform's requested wait time.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited for %s: %v", e.RetryAfter, e.Err)
}
func (e *RateLimitedError) Unwrap() error { return e.Err }

// FormatRejectedError means the markup payload was refused; retrying the
// same payload is pointless.
type FormatRejectedError struct{ Err error }

func (e *FormatRejectedError) Error() string { return fmt.Sprintf("format rejected: %v", e.Err) }
func (e *FormatRejectedError) Unwrap() error { return e.Err }

// Classify returns the error's kind.
func Classify(err error) ErrorKind {
	var transient *TransientError
	var limited *RateLimitedError
	var rejected *FormatRejectedError
	switch {
	case errors.As(err, &limited):
		return KindRateLimited
	case errors.As(err, &transient):
		return KindTransient
	case errors.As(err, &rejected):
		return KindFormatRejected
	default:
		return KindOther
	}
}

// RetryPolicy is the one retry configuration shared by every outbound call
// site: bounded attempts with exponential backoff for transient errors,
// uncounted suspension for rate-limit signals, immediate return for
// everything else.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// sleep is swappable in tests.
	sleep func(context.Context, time.Duration) error
}

// DefaultRetryPolicy matches the reference behavior: 5 attempts, 1s initial
// backoff doubling to a 30s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn under the policy. Transient failures consume an attempt and
// back off; rate-limit signals suspend for the requested duration without
// consuming an attempt; any other failure returns immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	backoff := p.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		switch Classify(err) {
		case KindRateLimited:
			var limited *RateLimitedError
			errors.As(err, &limited)
			if serr := sleep(ctx, limited.RetryAfter); serr != nil {
				return serr
			}
			// Not counted against the attempt budget.
		case KindTransient:
			attempt++
			if attempt > p.MaxAttempts {
				return lastErr
			}
			if serr := sleep(ctx, backoff); serr != nil {
				return serr
			}
			backoff *= 2
			if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		default:
			return err
		}
	}
	return lastErr
}
