package provider

import (
	"errors"
	"fmt"
)

// Retryable failure reasons.
const (
	ReasonNetworkError    = "network_error"
	ReasonRetryableStatus = "retryable_status"
	ReasonTimeout         = "timeout"
)

// RetryableError is a transient provider failure: transport errors, 429/5xx
// responses and poll timeouts. The worker's retry loop keys off this type,
// everything else is fatal for the job.
type RetryableError struct {
	Reason string
	Err    error
}

func (e *RetryableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("genapi %s: %v", e.Reason, e.Err)
	}
	return "genapi " + e.Reason
}

func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError is a provider rejection that retries cannot fix (4xx business
// errors, malformed responses, error-status results).
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string { return e.Message }

func retryable(reason string, err error) error {
	return &RetryableError{Reason: reason, Err: err}
}

func fatal(format string, args ...any) error {
	return &FatalError{Message: fmt.Sprintf(format, args...)}
}

// IsRetryable reports whether err may succeed on a later attempt.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsTimeout reports whether err is the poll-deadline case. Timeouts are
// retryable in classification but the worker fails the job immediately
// instead of restarting a long poll.
func IsTimeout(err error) bool {
	var re *RetryableError
	return errors.As(err, &re) && re.Reason == ReasonTimeout
}
