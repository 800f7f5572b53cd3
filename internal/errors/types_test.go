package errors

import (
	stderrors "errors"
	"fmt"
	"net"
	"testing"
)

func TestDomainErrorMessages(t *testing.T) {
	if got := (&AlreadyProcessedError{TaskID: "task-1"}).Error(); got != "Task has already been processed" {
		t.Errorf("unexpected AlreadyProcessedError message: %q", got)
	}
	if got := (&EventNotFoundError{TxHash: "0xabc"}).Error(); got != "Payment event not found in transaction" {
		t.Errorf("unexpected EventNotFoundError message: %q", got)
	}
}

func TestClassificationThroughWrapping(t *testing.T) {
	base := NewValidation("walletAddress is required")
	wrapped := fmt.Errorf("handling submission: %w", base)

	if !IsValidation(wrapped) {
		t.Error("IsValidation should see through fmt.Errorf wrapping")
	}
	if IsOracle(wrapped) {
		t.Error("IsOracle should not match a ValidationError")
	}

	oracleErr := NewOracleError(stderrors.New("connection refused"), "oracle unreachable")
	if !IsOracle(fmt.Errorf("evaluate: %w", oracleErr)) {
		t.Error("IsOracle should see through wrapping")
	}

	chainErr := NewChainError("sendPayment", stderrors.New("nonce too low"))
	var target *ChainError
	if !stderrors.As(fmt.Errorf("pay: %w", chainErr), &target) {
		t.Error("ChainError should unwrap")
	}
	if target.Op != "sendPayment" {
		t.Errorf("unexpected chain op: %q", target.Op)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit transient", NewTransientError(stderrors.New("rate limited"), "429"), true},
		{"wrapped transient", fmt.Errorf("call: %w", NewTransientError(stderrors.New("x"), "")), true},
		{"validation", NewValidation("bad input"), false},
		{"already processed", &AlreadyProcessedError{TaskID: "t"}, false},
		{"network op error", &net.OpError{Op: "dial", Err: stderrors.New("refused")}, true},
		{"plain error", stderrors.New("boom"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, status := range []int{429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(status) {
			t.Errorf("status %d should be transient", status)
		}
	}
	for _, status := range []int{200, 400, 401, 403, 404, 422} {
		if IsTransientHTTPStatus(status) {
			t.Errorf("status %d should not be transient", status)
		}
	}
}
