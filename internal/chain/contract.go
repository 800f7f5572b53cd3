// Package chain wraps the payment contract on Celo. It owns the RPC
// connection, the signing key, and the decoding of PaymentSent events.
package chain

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	meriterrors "meritpay/internal/errors"
	"meritpay/internal/logging"
)

// contractABI mirrors the deployed TaskPayment contract. PaymentSent carries
// no indexed arguments, so the whole event rides in the log data.
const contractABI = `[
  {"type":"function","name":"sendPayment","stateMutability":"nonpayable","inputs":[{"name":"recipient","type":"address"},{"name":"taskId","type":"string"}],"outputs":[]},
  {"type":"function","name":"depositFunds","stateMutability":"payable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getContractBalance","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"processedTasks","stateMutability":"view","inputs":[{"name":"","type":"string"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"PaymentSent","anonymous":false,"inputs":[{"name":"recipient","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false},{"name":"taskId","type":"string","indexed":false}]}
]`

const (
	// DefaultExplorerURL is the Alfajores testnet block explorer.
	DefaultExplorerURL = "https://alfajores.celoscan.io"

	defaultConfirmTimeout = 2 * time.Minute

	paymentSentEvent = "PaymentSent"
)

// PaymentEvent is one decoded PaymentSent log. The task id comes from the
// contract, not from the caller, so it is the authoritative record of which
// task a transfer settled.
type PaymentEvent struct {
	Recipient common.Address
	Amount    *big.Int
	TaskID    string `abi:"taskId"`
}

// Backend is the contract surface the payment engine depends on. Contract is
// the RPC-backed implementation; tests use in-memory fakes.
type Backend interface {
	ProcessedTasks(ctx context.Context, taskID string) (bool, error)
	SendPayment(ctx context.Context, recipient common.Address, taskID string) (*types.Transaction, error)
	DepositFunds(ctx context.Context, amount *big.Int) (*types.Transaction, error)
	GetContractBalance(ctx context.Context) (*big.Int, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	ParsePaymentSent(receipt *types.Receipt) (*PaymentEvent, error)
	ExplorerTxURL(txHash common.Hash) string
}

// Config holds the connection and signing settings for the contract.
type Config struct {
	RPCURL          string
	PrivateKey      string // hex, with or without 0x prefix
	ContractAddress string
	ExplorerURL     string        // default DefaultExplorerURL
	ConfirmTimeout  time.Duration // cap on waiting for a mined transaction
}

// Contract talks to the deployed payment contract through a JSON-RPC node.
type Contract struct {
	client         *ethclient.Client
	bound          *bind.BoundContract
	parsedABI      abi.ABI
	address        common.Address
	auth           *bind.TransactOpts
	explorerURL    string
	confirmTimeout time.Duration
	logger         logging.Logger
}

// Dial connects to the RPC node, derives the signing identity, and binds the
// contract. It fails fast on a bad key or unreachable node.
func Dial(ctx context.Context, cfg Config, logger logging.Logger) (*Contract, error) {
	logger = logging.OrNop(logger)

	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, meriterrors.NewChainError("dial", fmt.Errorf("invalid contract address %q", cfg.ContractAddress))
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, meriterrors.NewChainError("dial", fmt.Errorf("parse private key: %w", err))
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, meriterrors.NewChainError("dial", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, meriterrors.NewChainError("dial", fmt.Errorf("fetch chain id: %w", err))
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		client.Close()
		return nil, meriterrors.NewChainError("dial", err)
	}

	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		client.Close()
		return nil, meriterrors.NewChainError("dial", err)
	}

	address := common.HexToAddress(cfg.ContractAddress)

	explorer := cfg.ExplorerURL
	if explorer == "" {
		explorer = DefaultExplorerURL
	}
	confirm := cfg.ConfirmTimeout
	if confirm <= 0 {
		confirm = defaultConfirmTimeout
	}

	logger.Info("Connected to chain %s, contract %s, signer %s", chainID, address.Hex(), auth.From.Hex())

	return &Contract{
		client:         client,
		bound:          bind.NewBoundContract(address, parsed, client, client, client),
		parsedABI:      parsed,
		address:        address,
		auth:           auth,
		explorerURL:    strings.TrimRight(explorer, "/"),
		confirmTimeout: confirm,
		logger:         logger,
	}, nil
}

// Close releases the RPC connection.
func (c *Contract) Close() {
	c.client.Close()
}

// SignerAddress returns the address transactions are sent from.
func (c *Contract) SignerAddress() common.Address {
	return c.auth.From
}

// ProcessedTasks reports whether the contract has already paid out taskID.
func (c *Contract) ProcessedTasks(ctx context.Context, taskID string) (bool, error) {
	var out []any
	opts := &bind.CallOpts{Context: ctx}
	if err := c.bound.Call(opts, &out, "processedTasks", taskID); err != nil {
		return false, meriterrors.NewChainError("processedTasks", err)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// GetContractBalance returns the contract's balance in wei.
func (c *Contract) GetContractBalance(ctx context.Context) (*big.Int, error) {
	var out []any
	opts := &bind.CallOpts{Context: ctx}
	if err := c.bound.Call(opts, &out, "getContractBalance"); err != nil {
		return nil, meriterrors.NewChainError("getContractBalance", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// SendPayment submits the payout transaction for taskID. The payout amount
// is fixed by the contract; callers learn it from the PaymentSent event.
func (c *Contract) SendPayment(ctx context.Context, recipient common.Address, taskID string) (*types.Transaction, error) {
	opts := c.transactOpts(ctx, nil)
	tx, err := c.bound.Transact(opts, "sendPayment", recipient, taskID)
	if err != nil {
		return nil, meriterrors.NewChainError("sendPayment", err)
	}
	c.logger.Info("Submitted sendPayment tx %s for task %s", tx.Hash().Hex(), taskID)
	return tx, nil
}

// DepositFunds tops up the contract by amount wei. The contract expects the
// declared amount to match the attached value.
func (c *Contract) DepositFunds(ctx context.Context, amount *big.Int) (*types.Transaction, error) {
	opts := c.transactOpts(ctx, amount)
	tx, err := c.bound.Transact(opts, "depositFunds", amount)
	if err != nil {
		return nil, meriterrors.NewChainError("depositFunds", err)
	}
	c.logger.Info("Submitted depositFunds tx %s for %s wei", tx.Hash().Hex(), amount)
	return tx, nil
}

// WaitMined blocks until the transaction is included in a block, bounded by
// the configured confirmation timeout. A reverted transaction is an error.
func (c *Contract) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.client, tx)
	if err != nil {
		return nil, meriterrors.NewChainError("waitMined", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, meriterrors.NewChainError("waitMined", fmt.Errorf("transaction %s reverted", tx.Hash().Hex()))
	}
	return receipt, nil
}

// ParsePaymentSent finds and decodes the PaymentSent event in a receipt.
func (c *Contract) ParsePaymentSent(receipt *types.Receipt) (*PaymentEvent, error) {
	return parsePaymentSent(c.parsedABI, c.address, receipt)
}

// ExplorerTxURL returns the block explorer link for a transaction.
func (c *Contract) ExplorerTxURL(txHash common.Hash) string {
	return c.explorerURL + "/tx/" + txHash.Hex()
}

func (c *Contract) transactOpts(ctx context.Context, value *big.Int) *bind.TransactOpts {
	opts := *c.auth
	opts.Context = ctx
	opts.Value = value
	return &opts
}

func parsePaymentSent(parsed abi.ABI, address common.Address, receipt *types.Receipt) (*PaymentEvent, error) {
	eventID := parsed.Events[paymentSentEvent].ID
	for _, log := range receipt.Logs {
		if log.Address != address || len(log.Topics) == 0 || log.Topics[0] != eventID {
			continue
		}
		var event PaymentEvent
		if err := parsed.UnpackIntoInterface(&event, paymentSentEvent, log.Data); err != nil {
			return nil, meriterrors.NewChainError("parsePaymentSent", err)
		}
		return &event, nil
	}
	return nil, &meriterrors.EventNotFoundError{TxHash: receipt.TxHash.Hex()}
}

// PackPaymentSent encodes event data the way the contract emits it. Only
// tests and tooling need this, the node does it in production.
func PackPaymentSent(recipient common.Address, amount *big.Int, taskID string) ([]byte, error) {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, err
	}
	return parsed.Events[paymentSentEvent].Inputs.Pack(recipient, amount, taskID)
}

// PaymentSentTopic returns the event signature hash used as log topic zero.
func PaymentSentTopic() (common.Hash, error) {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return common.Hash{}, err
	}
	return parsed.Events[paymentSentEvent].ID, nil
}

var errNoReceipt = stderrors.New("nil receipt")

// ParsePaymentSentFromLogs decodes the first PaymentSent log emitted by the
// given contract address. It backs fake backends in tests.
func ParsePaymentSentFromLogs(address common.Address, receipt *types.Receipt) (*PaymentEvent, error) {
	if receipt == nil {
		return nil, errNoReceipt
	}
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, err
	}
	return parsePaymentSent(parsed, address, receipt)
}
