package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"meritpay/internal/chain"
	"meritpay/internal/config"
	"meritpay/internal/evaluation"
	"meritpay/internal/logging"
	"meritpay/internal/oracle"
	"meritpay/internal/orchestrator"
	"meritpay/internal/payment"
	serverhttp "meritpay/internal/server/http"
	"meritpay/internal/task"
)

func main() {
	logger := logging.NewComponentLogger("Main")
	logger.Info("Starting meritpay server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	contract, err := chain.Dial(dialCtx, chain.Config{
		RPCURL:          cfg.CeloRPCURL,
		PrivateKey:      cfg.PrivateKey,
		ContractAddress: cfg.ContractAddress,
		ExplorerURL:     cfg.ExplorerURL,
		ConfirmTimeout:  cfg.ConfirmTimeout,
	}, logging.NewComponentLogger("Chain"))
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to contract: %v", err)
	}
	defer contract.Close()

	// Probe the contract before accepting traffic, a bad address or ABI
	// mismatch should kill the process here.
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	balance, err := contract.GetContractBalance(probeCtx)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to contract. Please check your configuration: %v", err)
	}
	logger.Info("Contract balance: %s CELO", chain.WeiToCelo(balance))

	store := task.NewStore(task.StoreConfig{
		MaxSessions: cfg.MaxSessions,
		TTL:         cfg.SessionTTL,
	}, logging.NewComponentLogger("TaskStore"))

	judge := oracle.NewClient(oracle.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OracleURL,
		Model:   cfg.OracleModel,
		Timeout: cfg.OracleTimeout,
	}, logging.NewComponentLogger("Oracle"))

	evaluator := evaluation.NewEngine(store, judge, cfg.OracleTimeout, logging.NewComponentLogger("Evaluation"))
	payments := payment.NewEngine(store, contract, logging.NewComponentLogger("Payment"))
	orch := orchestrator.New(store, evaluator, payments, logging.NewComponentLogger("Orchestrator"))

	server := serverhttp.NewServer(orch, serverhttp.Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		EnableCORS:     cfg.EnableCORS,
		Debug:          cfg.Debug,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   cfg.RequestTimeout,
		RequestTimeout: cfg.RequestTimeout,
	}, logging.NewComponentLogger("HTTP"))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(server.Start)
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	logger.Info("Server stopped")
}
