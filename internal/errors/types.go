package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// ValidationError reports bad or missing caller input. It is surfaced to the
// client and never mutates session state.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidation builds a ValidationError from a printf-style message.
func NewValidation(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation checks whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// OracleError reports that the scoring oracle was unreachable or returned an
// unparsable or incomplete structured payload.
type OracleError struct {
	Err     error
	Message string
}

func (e *OracleError) Error() string {
	if e.Message != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	return fmt.Sprintf("oracle error: %v", e.Err)
}

func (e *OracleError) Unwrap() error {
	return e.Err
}

// NewOracleError wraps err with a message describing the oracle failure.
func NewOracleError(err error, message string) *OracleError {
	return &OracleError{Err: err, Message: message}
}

// IsOracle checks whether err is (or wraps) an OracleError.
func IsOracle(err error) bool {
	var target *OracleError
	return errors.As(err, &target)
}

// AlreadyProcessedError reports an idempotency violation: the task has
// already been settled on-chain.
type AlreadyProcessedError struct {
	TaskID string
}

func (e *AlreadyProcessedError) Error() string {
	return "Task has already been processed"
}

// IsAlreadyProcessed checks whether err is (or wraps) an AlreadyProcessedError.
func IsAlreadyProcessed(err error) bool {
	var target *AlreadyProcessedError
	return errors.As(err, &target)
}

// ChainError reports a chain submission or confirmation failure.
type ChainError struct {
	Op  string
	Err error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("chain %s: %v", e.Op, e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// NewChainError wraps err with the chain operation that failed.
func NewChainError(op string, err error) *ChainError {
	return &ChainError{Op: op, Err: err}
}

// EventNotFoundError reports a confirmed transaction whose receipt lacks the
// expected payment event. The chain operation succeeded; the payment did not.
type EventNotFoundError struct {
	TxHash string
}

func (e *EventNotFoundError) Error() string {
	return "Payment event not found in transaction"
}

// IsEventNotFound checks whether err is (or wraps) an EventNotFoundError.
func IsEventNotFound(err error) bool {
	var target *EventNotFoundError
	return errors.As(err, &target)
}

// TransientError marks an error as retry-able.
type TransientError struct {
	Err        error
	StatusCode int    // HTTP status code if applicable
	Message    string // human-friendly message
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks err as retry-able with a friendly message.
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// IsTransient checks if an error is retry-able.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}

	// Validation and oracle-payload errors never benefit from a retry.
	if IsValidation(err) || IsAlreadyProcessed(err) {
		return false
	}

	if isNetworkError(err) {
		return true
	}

	return false
}

// IsTransientHTTPStatus reports whether an HTTP status from an upstream
// service warrants a retry.
func IsTransientHTTPStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	for _, errno := range []syscall.Errno{syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT, syscall.EPIPE} {
		if errors.Is(err, errno) {
			return true
		}
	}

	return false
}
