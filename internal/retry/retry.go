// Package retry runs outbound calls with bounded exponential backoff.
// Every client that talks to the source or target system goes through Do.
package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/powertrain/catalogsync/pkg/errors"
)

// Policy configures Do
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Retryable decides whether a status code is worth another attempt.
	// 401 and 403 are never retried regardless of the predicate.
	Retryable func(status int) bool

	// Sleep waits between attempts; tests replace it to record delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the policy used when nothing is configured
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   800 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Retryable:   RetryTransient,
		Sleep:       SleepContext,
	}
}

// RetryTransient retries rate limiting and server errors
func RetryTransient(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// RetryAnyStatus retries every status; the source page walk treats any
// non-success page as worth another attempt.
func RetryAnyStatus(int) bool {
	return true
}

// SleepContext sleeps for d or until ctx is done
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WithRetryable returns a copy of p using the given predicate
func (p Policy) WithRetryable(fn func(status int) bool) Policy {
	p.Retryable = fn
	return p
}

// Backoff returns the delay before the attempt following the given one (1-based)
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, fails permanently, runs out of attempts or ctx is done.
// A Retry-After hint on an *errors.ErrStatus is a lower bound for the next wait.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Retryable == nil {
		p.Retryable = RetryTransient
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		wait, retry := p.classify(err, attempt)
		if !retry {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := p.Sleep(ctx, wait); err != nil {
			return err
		}
	}

	return fmt.Errorf("giving up after %d attempts: %w", p.MaxAttempts, lastErr)
}

func (p Policy) classify(err error, attempt int) (time.Duration, bool) {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var unauthorized *errors.ErrUnauthorized
	if stderrors.As(err, &unauthorized) {
		return 0, false
	}

	wait := p.Backoff(attempt)

	var statusErr *errors.ErrStatus
	if stderrors.As(err, &statusErr) {
		if !p.Retryable(statusErr.StatusCode) {
			return 0, false
		}
		if statusErr.RetryAfter > wait {
			wait = statusErr.RetryAfter
		}
		return wait, true
	}

	var notFound *errors.ErrNotFound
	if stderrors.As(err, &notFound) {
		return 0, false
	}

	var validation *errors.ErrValidation
	if stderrors.As(err, &validation) {
		return 0, false
	}

	// network and decode errors
	return wait, true
}

// CheckStatus turns a response status into an error: nil when ok accepts it,
// *errors.ErrUnauthorized on 401/403 and *errors.ErrStatus otherwise.
func CheckStatus(op string, resp *http.Response, body []byte, ok ...int) error {
	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}
	if len(ok) == 0 && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &errors.ErrUnauthorized{Message: fmt.Sprintf("%s: credentials rejected (status %d)", op, resp.StatusCode)}
	}
	return &errors.ErrStatus{
		Op:         op,
		StatusCode: resp.StatusCode,
		RetryAfter: ParseRetryAfter(resp.Header),
		Body:       string(body),
	}
}

// ParseRetryAfter reads a Retry-After header in delta-seconds or HTTP-date form
func ParseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
		return time.Duration(n * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
