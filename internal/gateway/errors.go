package gateway

import (
	"errors"
	"fmt"
)

// TransientError marks a gateway failure that is worth retrying: network
// timeouts, rate limits, exchange 5xx responses. The caller may retry with
// backoff; if retries are exhausted the current cycle step is abandoned.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("gateway transient error in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RejectedError marks an exchange-side rejection: invalid order, insufficient
// balance, filter violation. Never retried.
type RejectedError struct {
	Op     string
	Code   int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway rejected %s (code %d): %s", e.Op, e.Code, e.Reason)
}

// IsTransient reports whether err is a retryable gateway failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRejected reports whether err is an exchange-side rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
