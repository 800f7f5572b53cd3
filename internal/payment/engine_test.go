package payment

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meritpay/internal/chain"
	meriterrors "meritpay/internal/errors"
	"meritpay/internal/task"
)

const recipientA = "0x1111111111111111111111111111111111111111"
const recipientB = "0x2222222222222222222222222222222222222222"

type fakeBackend struct {
	processedOnChain bool
	processedErr     error
	balance          *big.Int
	balanceErr       error
	sendErr          error
	waitErr          error
	event            *chain.PaymentEvent
	parseErr         error
	depositErr       error

	sendCalls     int
	lastRecipient common.Address
	lastTaskID    string
	lastDeposit   *big.Int
}

func (f *fakeBackend) ProcessedTasks(ctx context.Context, taskID string) (bool, error) {
	return f.processedOnChain, f.processedErr
}

func (f *fakeBackend) SendPayment(ctx context.Context, recipient common.Address, taskID string) (*types.Transaction, error) {
	f.sendCalls++
	f.lastRecipient = recipient
	f.lastTaskID = taskID
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return types.NewTx(&types.LegacyTx{Nonce: 1}), nil
}

func (f *fakeBackend) DepositFunds(ctx context.Context, amount *big.Int) (*types.Transaction, error) {
	f.lastDeposit = amount
	if f.depositErr != nil {
		return nil, f.depositErr
	}
	return types.NewTx(&types.LegacyTx{Nonce: 2}), nil
}

func (f *fakeBackend) GetContractBalance(ctx context.Context) (*big.Int, error) {
	return f.balance, f.balanceErr
}

func (f *fakeBackend) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash()}, nil
}

func (f *fakeBackend) ParsePaymentSent(receipt *types.Receipt) (*chain.PaymentEvent, error) {
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.event, nil
}

func (f *fakeBackend) ExplorerTxURL(txHash common.Hash) string {
	return chain.DefaultExplorerURL + "/tx/" + txHash.Hex()
}

func eventFor(taskID string) *chain.PaymentEvent {
	return &chain.PaymentEvent{
		Recipient: common.HexToAddress(recipientA),
		Amount:    big.NewInt(100_000_000_000_000_000),
		TaskID:    taskID,
	}
}

func TestPaySuccess(t *testing.T) {
	store := task.NewStore(task.StoreConfig{}, nil)
	backend := &fakeBackend{event: eventFor("task-1")}
	engine := NewEngine(store, backend, nil)

	result, err := engine.Pay(context.Background(), recipientA, "task-1")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "task-1", result.TaskID)
	assert.Equal(t, "100000000000000000", result.Amount)
	assert.NotEmpty(t, result.TransactionHash)

	assert.Equal(t, "task-1", backend.lastTaskID)
	assert.Equal(t, common.HexToAddress(recipientA), backend.lastRecipient)

	session, ok := store.Get("task-1")
	require.True(t, ok)
	assert.True(t, session.Completed())
	assert.Equal(t, recipientA, session.Recipient())

	step := session.FindStep(task.StepKindTransaction)
	require.NotNil(t, step)
	assert.Equal(t, task.StepStatusSuccess, step.Status)
	assert.Equal(t, "Sending payment to "+recipientA, step.Description)
	assert.Equal(t, result.TransactionHash, step.Details.TransactionHash)
	assert.Contains(t, step.Details.BlockExplorerURL, "/tx/")
}

func TestPayAlreadyProcessedOnChain(t *testing.T) {
	store := task.NewStore(task.StoreConfig{}, nil)
	backend := &fakeBackend{processedOnChain: true}
	engine := NewEngine(store, backend, nil)

	_, err := engine.Pay(context.Background(), recipientA, "task-2")
	require.Error(t, err)
	assert.True(t, meriterrors.IsAlreadyProcessed(err))
	assert.Equal(t, "Task has already been processed", err.Error())
	assert.Equal(t, 0, backend.sendCalls)

	session, _ := store.Get("task-2")
	assert.False(t, session.Completed())
	step := session.FindStep(task.StepKindTransaction)
	require.NotNil(t, step)
	assert.Equal(t, task.StepStatusError, step.Status)
	assert.Equal(t, "Task has already been processed", step.Details.Error)
}

func TestPayIdempotentAfterSuccess(t *testing.T) {
	store := task.NewStore(task.StoreConfig{}, nil)
	backend := &fakeBackend{event: eventFor("task-3")}
	engine := NewEngine(store, backend, nil)

	_, err := engine.Pay(context.Background(), recipientA, "task-3")
	require.NoError(t, err)

	_, err = engine.Pay(context.Background(), recipientA, "task-3")
	require.Error(t, err)
	assert.True(t, meriterrors.IsAlreadyProcessed(err))
	assert.Equal(t, 1, backend.sendCalls, "second attempt must not reach the chain")
}

func TestPayRecipientConflict(t *testing.T) {
	store := task.NewStore(task.StoreConfig{}, nil)
	backend := &fakeBackend{event: eventFor("task-4")}
	engine := NewEngine(store, backend, nil)

	_, err := engine.Pay(context.Background(), recipientA, "task-4")
	require.NoError(t, err)

	_, err = engine.Pay(context.Background(), recipientB, "task-4")
	require.Error(t, err)
	assert.True(t, meriterrors.IsValidation(err))

	session, _ := store.Get("task-4")
	assert.Equal(t, recipientA, session.Recipient())
}

func TestPayEventNotFoundLeavesTaskOpen(t *testing.T) {
	store := task.NewStore(task.StoreConfig{}, nil)
	backend := &fakeBackend{parseErr: &meriterrors.EventNotFoundError{TxHash: "0xabc"}}
	engine := NewEngine(store, backend, nil)

	_, err := engine.Pay(context.Background(), recipientA, "task-5")
	require.Error(t, err)
	assert.True(t, meriterrors.IsEventNotFound(err))
	assert.Equal(t, "Payment event not found in transaction", err.Error())

	session, _ := store.Get("task-5")
	assert.False(t, session.Completed(), "no decoded event means the task stays open")
	step := session.FindStep(task.StepKindTransaction)
	require.NotNil(t, step)
	assert.Equal(t, task.StepStatusError, step.Status)
	assert.NotEmpty(t, step.Details.TransactionHash, "hash recorded before confirmation failed")
}

func TestPaySendFailure(t *testing.T) {
	store := task.NewStore(task.StoreConfig{}, nil)
	backend := &fakeBackend{sendErr: meriterrors.NewChainError("sendPayment", errors.New("insufficient funds"))}
	engine := NewEngine(store, backend, nil)

	_, err := engine.Pay(context.Background(), recipientA, "task-6")
	require.Error(t, err)

	session, _ := store.Get("task-6")
	assert.False(t, session.Completed())
	step := session.FindStep(task.StepKindTransaction)
	require.NotNil(t, step)
	assert.Equal(t, task.StepStatusError, step.Status)
	assert.Contains(t, step.Details.Error, "insufficient funds")
}

func TestCheckBalanceSuccess(t *testing.T) {
	store := task.NewStore(task.StoreConfig{}, nil)
	wei, _ := new(big.Int).SetString("2500000000000000000", 10)
	backend := &fakeBackend{balance: wei}
	engine := NewEngine(store, backend, nil)

	step := engine.CheckBalance(context.Background(), "task-7")
	assert.Equal(t, task.StepKindBalanceCheck, step.Kind)
	assert.Equal(t, task.StepStatusSuccess, step.Status)
	assert.Equal(t, "2.5", step.Details.Balance)

	session, _ := store.Get("task-7")
	assert.Len(t, session.Steps(), 1)
}

func TestCheckBalanceErrorCaptured(t *testing.T) {
	store := task.NewStore(task.StoreConfig{}, nil)
	backend := &fakeBackend{balanceErr: meriterrors.NewChainError("getContractBalance", errors.New("connection refused"))}
	engine := NewEngine(store, backend, nil)

	step := engine.CheckBalance(context.Background(), "task-8")
	assert.Equal(t, task.StepStatusError, step.Status)
	assert.Contains(t, step.Details.Error, "connection refused")

	// Diagnostic failure: recorded, not raised.
	session, _ := store.Get("task-8")
	assert.Len(t, session.Steps(), 1)
}

func TestDepositFundsSuccess(t *testing.T) {
	store := task.NewStore(task.StoreConfig{}, nil)
	backend := &fakeBackend{}
	engine := NewEngine(store, backend, nil)

	step := engine.DepositFunds(context.Background(), "1.5", "task-9")
	assert.Equal(t, task.StepKindContractCall, step.Kind)
	assert.Equal(t, task.StepStatusSuccess, step.Status)
	assert.Equal(t, "Depositing 1.5 CELO to contract", step.Description)
	assert.NotEmpty(t, step.Details.TransactionHash)

	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, 0, backend.lastDeposit.Cmp(want))
}

func TestDepositFundsBadAmount(t *testing.T) {
	store := task.NewStore(task.StoreConfig{}, nil)
	backend := &fakeBackend{}
	engine := NewEngine(store, backend, nil)

	step := engine.DepositFunds(context.Background(), "not-a-number", "task-10")
	assert.Equal(t, task.StepStatusError, step.Status)
	assert.NotEmpty(t, step.Details.Error)
	assert.Nil(t, backend.lastDeposit)
}
