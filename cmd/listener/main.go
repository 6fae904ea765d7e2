package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dehouse/donation-ledger/internal/adapter"
	"github.com/dehouse/donation-ledger/internal/config"
	"github.com/dehouse/donation-ledger/internal/logger"
	"github.com/dehouse/donation-ledger/internal/pricing"
	"github.com/dehouse/donation-ledger/internal/providers/bitcoin"
	"github.com/dehouse/donation-ledger/internal/providers/ethereum"
	"github.com/dehouse/donation-ledger/internal/providers/solana"
	"github.com/dehouse/donation-ledger/internal/service"
	"github.com/dehouse/donation-ledger/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadListenerConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "donation-listener",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Donation Listener")

	// Connect to database
	db, err := store.Open(cfg.Database.DSN())
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}
	if err := store.Migrate(db); err != nil {
		logger.FatalCtx(ctx, "Failed to migrate database", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database")

	// Initialize stores
	dataStore := store.NewPGStore(db)
	cursorStore := store.NewCursorStore(db)

	// Initialize adapters
	clockAdapter := adapter.NewClock()
	httpClient := adapter.NewHTTPClient(30 * time.Second)

	// Bitcoin
	esploraClient := bitcoin.NewEsploraClient(cfg.Chains.Bitcoin.APIURL, httpClient)
	btcAdapter, err := bitcoin.NewAdapter(cfg.Chains.Bitcoin, esploraClient, cursorStore, clockAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create Bitcoin adapter", zap.Error(err))
	}

	// Ethereum
	ethDialer := adapter.NewEthClientDialer()
	ethClient, err := ethDialer.Dial(ctx, cfg.Chains.Ethereum.RPCURL)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to dial Ethereum RPC", zap.Error(err), zap.String("rpc_url", cfg.Chains.Ethereum.RPCURL))
	}
	defer ethClient.Close()
	ethAdapter, err := ethereum.NewAdapter(cfg.Chains.Ethereum, ethClient, cursorStore)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create Ethereum adapter", zap.Error(err))
	}

	// Solana
	solanaClient := solana.NewSolanaClient(cfg.Chains.Solana.RPCURL, httpClient)
	solAdapter, err := solana.NewAdapter(cfg.Chains.Solana, solanaClient, cursorStore, clockAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create Solana adapter", zap.Error(err))
	}

	// Price oracle
	oracle := pricing.NewCoinGeckoOracle(cfg.Pricing.APIURL, cfg.Pricing.RequestsPerMinute, httpClient)

	// Create and start the donation service
	donationService := service.NewService(dataStore, oracle, clockAdapter, btcAdapter, ethAdapter, solAdapter)
	donationService.StartListening(ctx)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	donationService.StopListening()

	// Use non-context logger for final shutdown message since context is already canceled
	logger.Info("Donation Listener stopped")
}
