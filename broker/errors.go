package broker

import (
	"context"
	"errors"
	"fmt"
)

// TransientError is a failure worth retrying: timeouts, throttling, 5xx.
// Ambiguous is set when the request may have reached the broker.
type TransientError struct {
	Op        string
	Err       error
	Ambiguous bool
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// TerminalError is a failure that must not be retried, either because the
// broker refused the request or because the retry budget ran out.
type TerminalError struct {
	Op        string
	Reason    string
	Err       error
	Ambiguous bool
}

func (e *TerminalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

const (
	ReasonRetryBudget = "retry_budget_exhausted"
	ReasonAmbiguous   = "ambiguous_submission"
)

var ErrTradeNotFound = errors.New("trade not found")

// IsTransient reports whether err may succeed on retry. A bare deadline is
// treated as transient and ambiguous; cancellation is not.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var term *TerminalError
	if errors.As(err, &term) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsAmbiguous reports whether the broker may have acted on the request.
func IsAmbiguous(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return te.Ambiguous
	}
	var term *TerminalError
	if errors.As(err, &term) {
		return term.Ambiguous
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// Reason extracts a short reason code for journals and responses.
func Reason(err error) string {
	var term *TerminalError
	if errors.As(err, &term) {
		return term.Reason
	}
	if IsTransient(err) {
		return "broker_unavailable"
	}
	return "broker_error"
}
