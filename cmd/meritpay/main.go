// Command meritpay is the operator CLI for the payment contract. It reuses
// the server's chain configuration, so the same environment that runs the
// service can inspect and fund the contract.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"meritpay/internal/chain"
	"meritpay/internal/config"
	"meritpay/internal/logging"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "meritpay",
		Short:        "Operator tooling for the meritpay payment contract",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newBalanceCommand())
	rootCmd.AddCommand(newDepositCommand())

	if err := rootCmd.Execute(); err != nil {
		errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func dialContract(ctx context.Context) (*chain.Contract, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return chain.Dial(ctx, chain.Config{
		RPCURL:          cfg.CeloRPCURL,
		PrivateKey:      cfg.PrivateKey,
		ContractAddress: cfg.ContractAddress,
		ExplorerURL:     cfg.ExplorerURL,
		ConfirmTimeout:  cfg.ConfirmTimeout,
	}, logging.NewComponentLogger("Chain"))
}

func newBalanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the contract's CELO balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			contract, err := dialContract(ctx)
			if err != nil {
				return err
			}
			defer contract.Close()

			balance, err := contract.GetContractBalance(ctx)
			if err != nil {
				return err
			}

			infoColor.Printf("Signer:   %s\n", contract.SignerAddress().Hex())
			successColor.Printf("Balance:  %s CELO\n", chain.WeiToCelo(balance))
			return nil
		},
	}
}

func newDepositCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Deposit CELO into the contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount := args[0]
			wei, err := chain.ParseCelo(amount)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			contract, err := dialContract(ctx)
			if err != nil {
				return err
			}
			defer contract.Close()

			infoColor.Printf("Depositing %s CELO...\n", amount)
			tx, err := contract.DepositFunds(ctx, wei)
			if err != nil {
				return err
			}
			fmt.Printf("Transaction: %s\n", contract.ExplorerTxURL(tx.Hash()))

			if _, err := contract.WaitMined(ctx, tx); err != nil {
				return err
			}

			balance, err := contract.GetContractBalance(ctx)
			if err != nil {
				return err
			}
			successColor.Printf("Deposit confirmed. Contract balance: %s CELO\n", chain.WeiToCelo(balance))
			return nil
		},
	}
}
