// Package orchestrator ties evaluation and payment together: it mints task
// ids, applies the payout gate, and shapes the merged outcome served to
// clients.
package orchestrator

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	meriterrors "meritpay/internal/errors"
	"meritpay/internal/evaluation"
	"meritpay/internal/logging"
	"meritpay/internal/payment"
	"meritpay/internal/task"
)

// Submission is one evaluation request from a client. Task ids are never
// accepted here, the orchestrator mints them.
type Submission struct {
	Text          string `json:"text"`
	TaskType      string `json:"taskType"`
	WalletAddress string `json:"walletAddress"`
}

// PaymentOutcome is the payment portion of an outcome. On failure the
// settlement fields are absent and Error carries the client-safe message.
type PaymentOutcome struct {
	*task.PaymentResult
	Error string `json:"error,omitempty"`
}

// Outcome merges the evaluation result with the payment attempt, if any.
type Outcome struct {
	*task.EvaluationResult
	TaskID  string          `json:"taskId"`
	Payment *PaymentOutcome `json:"payment,omitempty"`
}

// paymentFailedMessage is all a client learns about a payout failure. The
// real error stays in the logs and the step history.
const paymentFailedMessage = "Payment processing failed"

// Orchestrator is the facade HTTP handlers and the CLI talk to.
type Orchestrator struct {
	store     *task.Store
	evaluator *evaluation.Engine
	payments  *payment.Engine
	metrics   *Metrics
	logger    logging.Logger
}

// New wires an orchestrator using the globally registered metrics.
func New(store *task.Store, evaluator *evaluation.Engine, payments *payment.Engine, logger logging.Logger) *Orchestrator {
	return NewWithMetrics(store, evaluator, payments, defaultMetrics(), logger)
}

// NewWithMetrics is New with caller-owned metrics, used by tests.
func NewWithMetrics(store *task.Store, evaluator *evaluation.Engine, payments *payment.Engine, metrics *Metrics, logger logging.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		evaluator: evaluator,
		payments:  payments,
		metrics:   metrics,
		logger:    logging.OrNop(logger),
	}
}

// HandleSubmission evaluates a submission and, when the verdict clears the
// payout gate, pays the submitter's wallet. A payout failure after a passing
// evaluation does not fail the call: the evaluation stands and the outcome
// carries a payment error instead.
func (o *Orchestrator) HandleSubmission(ctx context.Context, sub Submission) (*Outcome, error) {
	start := time.Now()
	o.metrics.IncInFlight()
	defer o.metrics.DecInFlight()

	if sub.Text == "" || sub.TaskType == "" || sub.WalletAddress == "" {
		return nil, meriterrors.NewValidation("Missing required fields: text, taskType, and walletAddress")
	}
	if !common.IsHexAddress(sub.WalletAddress) {
		return nil, meriterrors.NewValidation("Invalid wallet address")
	}
	taskType, err := task.ParseType(sub.TaskType)
	if err != nil {
		return nil, err
	}

	taskID := task.MintTaskID()
	o.logger.Info("Handling %s submission as %s", taskType, taskID)

	result, err := o.evaluator.Evaluate(ctx, taskType, sub.Text, taskID)
	if err != nil {
		o.metrics.ObserveSubmission(string(taskType), "error", time.Since(start))
		return nil, err
	}
	o.metrics.IncEvaluation(string(taskType), result.Decision)

	outcome := &Outcome{EvaluationResult: result, TaskID: taskID}

	if result.Decision != task.DecisionPass || result.Score < evaluation.PassThreshold {
		o.metrics.ObserveSubmission(string(taskType), "failed", time.Since(start))
		return outcome, nil
	}

	payResult, payErr := o.payments.Pay(ctx, sub.WalletAddress, taskID)
	if payErr != nil {
		o.logger.Error("Payment failed for task %s: %v", taskID, payErr)
		o.metrics.IncPayment(paymentStatus(payErr))
		o.metrics.ObserveSubmission(string(taskType), "passed_payment_failed", time.Since(start))
		outcome.Payment = &PaymentOutcome{Error: paymentFailedMessage}
		return outcome, nil
	}

	o.metrics.IncPayment("success")
	o.metrics.ObserveSubmission(string(taskType), "passed_paid", time.Since(start))
	outcome.Payment = &PaymentOutcome{PaymentResult: payResult}
	return outcome, nil
}

// ProcessPayment settles a payout for an existing task directly. Errors are
// raised, this is the operator-facing path where the caller handles them.
func (o *Orchestrator) ProcessPayment(ctx context.Context, recipient, taskID string) (*task.PaymentResult, error) {
	if recipient == "" || taskID == "" {
		return nil, meriterrors.NewValidation("Missing required fields: recipientAddress and taskId")
	}
	if !common.IsHexAddress(recipient) {
		return nil, meriterrors.NewValidation("Invalid wallet address")
	}

	result, err := o.payments.Pay(ctx, recipient, taskID)
	if err != nil {
		o.metrics.IncPayment(paymentStatus(err))
		return nil, err
	}
	o.metrics.IncPayment("success")
	return result, nil
}

// CheckBalance records a contract balance probe against taskID.
func (o *Orchestrator) CheckBalance(ctx context.Context, taskID string) *task.Step {
	return o.payments.CheckBalance(ctx, taskID)
}

// DepositFunds records a contract top-up against taskID.
func (o *Orchestrator) DepositFunds(ctx context.Context, amount, taskID string) *task.Step {
	return o.payments.DepositFunds(ctx, amount, taskID)
}

// Session returns a client-safe view of a task's step history.
func (o *Orchestrator) Session(taskID string) (task.Snapshot, bool) {
	session, ok := o.store.Get(taskID)
	if !ok {
		return task.Snapshot{}, false
	}
	return session.Snapshot(), true
}

func paymentStatus(err error) string {
	if meriterrors.IsAlreadyProcessed(err) {
		return "already_processed"
	}
	return "error"
}
