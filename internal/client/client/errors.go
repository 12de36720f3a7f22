package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRejected     = errors.New("rejected by backend")
)

// Outcome classifies the result of one backend call.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeBusinessReject Outcome = "business_reject"
	OutcomeRetryable      Outcome = "retryable_error"
	OutcomeAuthPause      Outcome = "auth_pause"
)

// CallError is returned by Backend implementations for any failed call.
// Status is the HTTP status code when one was received.
type CallError struct {
	Outcome Outcome
	Status  int
	Err     error
}

func (e *CallError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Outcome, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Outcome, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Classify maps any error returned by a Backend to its outcome. Errors that
// carry no classification are treated as retryable.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Outcome
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return OutcomeAuthPause
	case errors.Is(err, ErrRejected):
		return OutcomeBusinessReject
	}
	return OutcomeRetryable
}

// OutcomeForStatus classifies an HTTP status code.
func OutcomeForStatus(code int) Outcome {
	switch {
	case code >= 200 && code < 300:
		return OutcomeSuccess
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return OutcomeAuthPause
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return OutcomeRetryable
	case code >= 400:
		return OutcomeBusinessReject
	}
	return OutcomeRetryable
}

// NewStatusError builds the CallError for an HTTP status code. The wrapped
// error chain carries the sentinel matching the outcome.
func NewStatusError(code int, err error) *CallError {
	o := OutcomeForStatus(code)
	return &CallError{Outcome: o, Status: code, Err: fmt.Errorf("%w: %w", sentinelFor(o), err)}
}

func sentinelFor(o Outcome) error {
	switch o {
	case OutcomeAuthPause:
		return ErrUnauthorized
	case OutcomeBusinessReject:
		return ErrRejected
	}
	return ErrUnavailable
}

// isCanceled reports whether err is the caller giving up rather than the
// backend failing.
func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
