package delivery

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError marks a send that can never succeed: rejected content,
// missing configuration, bad destination. Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// TransientError marks a send that may succeed later: timeouts, connection
// resets, destination-side 5xx. Retried with backoff up to the attempt cap.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// RateLimitedError marks destination-signaled throttling. Deferred, not
// counted against the retry budget.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited by destination, retry after %s", e.RetryAfter)
}

type errorKind int

const (
	kindValidation errorKind = iota
	kindTransient
	kindRateLimited
	kindUnknown
)

// classifyError maps a send error onto the retry taxonomy. Unknown errors
// are treated as transient until attempts are exhausted.
func classifyError(err error) errorKind {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return kindValidation
	}
	var rateLimited *RateLimitedError
	if errors.As(err, &rateLimited) {
		return kindRateLimited
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return kindTransient
	}
	return kindUnknown
}
