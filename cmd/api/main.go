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
	"github.com/dehouse/donation-ledger/internal/api/middleware"
	"github.com/dehouse/donation-ledger/internal/api/server"
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
	cfg, err := config.LoadAPIConfig(*configFile, *envPath)
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
			"service": "api-server",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Donation Ledger API")

	// Connect to database
	db, err := store.Open(cfg.Database.DSN())
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	if err := store.Migrate(db); err != nil {
		logger.FatalCtx(ctx, "Failed to migrate database", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database",
		zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.Database.MaxIdleConns),
	)

	// Initialize stores
	dataStore := store.NewPGStore(db)
	cursorStore := store.NewCursorStore(db)

	// Initialize adapters for manual verification. The API server resolves
	// user supplied hashes against the same chains the listener watches but
	// never polls.
	clockAdapter := adapter.NewClock()
	httpClient := adapter.NewHTTPClient(30 * time.Second)

	esploraClient := bitcoin.NewEsploraClient(cfg.Chains.Bitcoin.APIURL, httpClient)
	btcAdapter, err := bitcoin.NewAdapter(cfg.Chains.Bitcoin, esploraClient, cursorStore, clockAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create Bitcoin adapter", zap.Error(err))
	}

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

	solanaClient := solana.NewSolanaClient(cfg.Chains.Solana.RPCURL, httpClient)
	solAdapter, err := solana.NewAdapter(cfg.Chains.Solana, solanaClient, cursorStore, clockAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create Solana adapter", zap.Error(err))
	}

	oracle := pricing.NewCoinGeckoOracle(cfg.Pricing.APIURL, cfg.Pricing.RequestsPerMinute, httpClient)
	donationService := service.NewService(dataStore, oracle, clockAdapter, btcAdapter, ethAdapter, solAdapter)

	// Create server config
	serverConfig := server.Config{
		Debug:        cfg.Debug,
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		Auth: middleware.AuthConfig{
			JWTPublicKey: cfg.Auth.JWTPublicKey,
			APIKeys:      cfg.Auth.APIKeys,
		},
		AdminWallet: cfg.AdminWallet,
	}

	// Create and start server
	srv := server.New(serverConfig, dataStore, donationService)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "server"))
		cancel()
	}

	// Create shutdown context with timeout (don't use canceled ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.FatalCtx(shutdownCtx, "Server forced to shutdown", zap.Error(err))
	}

	// Use non-context logger for final message since original ctx is canceled
	logger.Info("API server stopped")
}
