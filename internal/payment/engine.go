// Package payment drives the on-chain payout flow. A task is paid at most
// once: the per-task lock serializes local attempts and the contract's
// processedTasks registry is the durable guard.
package payment

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"meritpay/internal/chain"
	meriterrors "meritpay/internal/errors"
	"meritpay/internal/logging"
	"meritpay/internal/task"
)

// Engine settles payouts through a chain.Backend and records every attempt
// on the task session.
type Engine struct {
	store   *task.Store
	backend chain.Backend
	logger  logging.Logger
}

// NewEngine wires a payment engine.
func NewEngine(store *task.Store, backend chain.Backend, logger logging.Logger) *Engine {
	return &Engine{
		store:   store,
		backend: backend,
		logger:  logging.OrNop(logger),
	}
}

// Pay sends the payout for taskID to recipient and waits for the PaymentSent
// event. Unlike the balance and deposit helpers, failures here are raised to
// the caller after the error step is recorded: the caller must know whether
// money moved. The session is marked completed only after the event is
// decoded, so a mined transaction with no event leaves the task open.
func (e *Engine) Pay(ctx context.Context, recipient, taskID string) (*task.PaymentResult, error) {
	session := e.store.GetOrCreate(taskID)

	unlock := e.store.LockTask(taskID)
	defer unlock()

	if err := session.SetRecipient(recipient); err != nil {
		return nil, err
	}

	step := task.NewStep(task.StepKindTransaction, fmt.Sprintf("Sending payment to %s", recipient))
	if _, err := e.store.AppendStep(taskID, step); err != nil {
		return nil, err
	}

	if session.Completed() {
		step.MarkError((&meriterrors.AlreadyProcessedError{TaskID: taskID}).Error())
		return nil, &meriterrors.AlreadyProcessedError{TaskID: taskID}
	}

	processed, err := e.backend.ProcessedTasks(ctx, taskID)
	if err != nil {
		step.MarkError(err.Error())
		return nil, err
	}
	if processed {
		alreadyErr := &meriterrors.AlreadyProcessedError{TaskID: taskID}
		step.MarkError(alreadyErr.Error())
		e.logger.Warn("Task %s already processed on chain, refusing payout", taskID)
		return nil, alreadyErr
	}

	tx, err := e.backend.SendPayment(ctx, common.HexToAddress(recipient), taskID)
	if err != nil {
		step.MarkError(err.Error())
		return nil, err
	}
	step.AmendDetails(func(d *task.StepDetails) {
		d.TransactionHash = tx.Hash().Hex()
		d.BlockExplorerURL = e.backend.ExplorerTxURL(tx.Hash())
	})

	receipt, err := e.backend.WaitMined(ctx, tx)
	if err != nil {
		step.MarkError(err.Error())
		return nil, err
	}

	event, err := e.backend.ParsePaymentSent(receipt)
	if err != nil {
		step.MarkError(err.Error())
		return nil, err
	}

	step.MarkSuccess()
	session.MarkCompleted()
	e.logger.Info("Paid task %s: %s wei to %s in tx %s", event.TaskID, event.Amount, event.Recipient.Hex(), receipt.TxHash.Hex())

	return &task.PaymentResult{
		Success:         true,
		TransactionHash: receipt.TxHash.Hex(),
		Amount:          event.Amount.String(),
		TaskID:          event.TaskID,
	}, nil
}

// CheckBalance reads the contract balance and records it as a step. Errors
// are captured on the step rather than raised, a failed read is diagnostic,
// not fatal.
func (e *Engine) CheckBalance(ctx context.Context, taskID string) *task.Step {
	e.store.GetOrCreate(taskID)

	step := task.NewStep(task.StepKindBalanceCheck, "Checking contract balance")
	if _, err := e.store.AppendStep(taskID, step); err != nil {
		step.MarkError(err.Error())
		return step
	}

	balance, err := e.backend.GetContractBalance(ctx)
	if err != nil {
		step.MarkError(err.Error())
		return step
	}

	step.AmendDetails(func(d *task.StepDetails) {
		d.Balance = chain.WeiToCelo(balance)
	})
	step.MarkSuccess()
	return step
}

// DepositFunds tops up the contract with the given CELO amount and records
// the attempt as a step. Like CheckBalance, failures stay on the step.
func (e *Engine) DepositFunds(ctx context.Context, amount, taskID string) *task.Step {
	e.store.GetOrCreate(taskID)

	step := task.NewStep(task.StepKindContractCall, fmt.Sprintf("Depositing %s CELO to contract", amount))
	if _, err := e.store.AppendStep(taskID, step); err != nil {
		step.MarkError(err.Error())
		return step
	}

	wei, err := chain.ParseCelo(amount)
	if err != nil {
		step.MarkError(err.Error())
		return step
	}

	tx, err := e.backend.DepositFunds(ctx, wei)
	if err != nil {
		step.MarkError(err.Error())
		return step
	}
	step.AmendDetails(func(d *task.StepDetails) {
		d.TransactionHash = tx.Hash().Hex()
		d.BlockExplorerURL = e.backend.ExplorerTxURL(tx.Hash())
	})

	if _, err := e.backend.WaitMined(ctx, tx); err != nil {
		step.MarkError(err.Error())
		return step
	}

	step.MarkSuccess()
	e.logger.Info("Deposited %s CELO to contract in tx %s", amount, tx.Hash().Hex())
	return step
}
