// Package transport implements the outbound call policy shared by the feed
// and target adapters: bounded retries with exponential backoff and the
// transient-failure classification that drives them.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/erp/shopsync/internal/infrastructure/logger"
	"github.com/erp/shopsync/internal/infrastructure/telemetry"
)

// maxRetryDelay caps the exponential backoff between attempts.
const maxRetryDelay = 30 * time.Second

// bodyExcerptLimit bounds how much response body an HTTPError carries.
const bodyExcerptLimit = 512

// retryableStatuses marks responses that may succeed on a later attempt.
// Every other 4xx is definitive; retrying it only repeats the rejection.
var retryableStatuses = map[int]bool{
	408: true, // Request Timeout
	429: true, // Too Many Requests
	500: true,
	502: true,
	503: true,
	504: true,
}

// RetryableStatus reports whether an HTTP status code is worth retrying.
func RetryableStatus(code int) bool {
	return retryableStatuses[code]
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// HTTPError is a non-2xx response surfaced as an error, carrying enough of
// the response to classify and log it.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// NewHTTPError builds an HTTPError with a bounded body excerpt.
func NewHTTPError(statusCode int, status string, body []byte) *HTTPError {
	excerpt := string(body)
	if len(excerpt) > bodyExcerptLimit {
		excerpt = excerpt[:bodyExcerptLimit]
	}
	return &HTTPError{
		StatusCode: statusCode,
		Status:     status,
		Body:       strings.TrimSpace(excerpt),
	}
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("transport: http %s", e.Status)
	}
	return fmt.Sprintf("transport: http %s: %s", e.Status, e.Body)
}

// transientError marks a wrapped error as retryable regardless of its type.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps err so Transient reports it retryable. Adapters use it
// for protocol-level faults carrying no HTTP status, such as an RPC fault the
// endpoint documents as temporary.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transient reports whether another attempt could succeed: marked errors,
// retryable HTTP statuses and network-level failures. Context cancellation
// is never transient because the caller decided to stop.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var marked *transientError
	if errors.As(err, &marked) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return RetryableStatus(httpErr.StatusCode)
	}

	// Connection failures and timeouts, including *url.Error from http.Client.
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ---------------------------------------------------------------------------
// Retry policy
// ---------------------------------------------------------------------------

// RetryPolicy bounds how often and how patiently an outbound call is retried.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first.
	MaxRetries int

	// BaseDelay is the wait before the first retry; it doubles each retry.
	BaseDelay time.Duration
}

// DefaultRetryPolicy mirrors the configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond}
}

// Delay returns the backoff before retry n (zero-based): BaseDelay * 2^n,
// capped at maxRetryDelay.
func (p RetryPolicy) Delay(retry int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay * time.Duration(1<<retry)
	if delay > maxRetryDelay || delay <= 0 {
		delay = maxRetryDelay
	}
	return delay
}

// ---------------------------------------------------------------------------
// Retrier
// ---------------------------------------------------------------------------

// Retrier applies a RetryPolicy around outbound calls.
type Retrier struct {
	policy RetryPolicy
	logger *zap.Logger
}

// NewRetrier builds a retrier. A nil logger logs nowhere.
func NewRetrier(policy RetryPolicy, log *zap.Logger) *Retrier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retrier{policy: policy, logger: log}
}

// Do runs fn, retrying transient failures per the policy. Non-transient
// errors return immediately; when attempts run out the last error is
// returned wrapped. The op name shows up in logs and span events.
func (r *Retrier) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.policy.Delay(attempt - 1)
			logger.WithLogger(ctx, r.logger).Warn("Transient failure, backing off before retry",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			telemetry.AddEvent(ctx, "retry",
				attribute.String("op", op),
				attribute.Int("attempt", attempt),
				attribute.String("delay", delay.String()),
			)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !Transient(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return fmt.Errorf("transport: %s: attempts exhausted: %w", op, lastErr)
}
