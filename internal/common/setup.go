package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"wallet-ledger-go/internal/api"
	"wallet-ledger-go/internal/database"
	"wallet-ledger-go/internal/ledger"
	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/payment"
	"wallet-ledger-go/internal/postgres"
	"wallet-ledger-go/internal/provider"
	"wallet-ledger-go/internal/store"
	"wallet-ledger-go/internal/sweeper"
	"wallet-ledger-go/internal/transfer"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
	}
}

type Services struct {
	Store        store.LedgerStore
	Ledger       *ledger.Ledger
	Transfers    *transfer.Coordinator
	Providers    *provider.Registry
	Orchestrator *payment.Orchestrator
	Sweeper      *sweeper.Sweeper
	API          *api.LedgerService
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	ledgerStore, err := newStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Loading provider registry",
		zap.String("providers_file", cfg.Payments.ProvidersFile))
	registry, err := provider.LoadRegistry(cfg.Payments.ProvidersFile)
	if err != nil {
		ledgerStore.Close()
		return nil, err
	}

	walletLedger := ledger.New(ledgerStore, ledger.RetryPolicy{
		MaxAttempts: cfg.Ledger.MaxAttempts,
		Backoff:     cfg.Ledger.RetryBackoff,
	})
	transfers := transfer.NewCoordinator(walletLedger)
	orchestrator := payment.NewOrchestrator(ledgerStore, walletLedger, registry,
		cfg.Payments.MaxProviderAttempts, cfg.Payments.ProviderBackoff)

	return &Services{
		Store:        ledgerStore,
		Ledger:       walletLedger,
		Transfers:    transfers,
		Providers:    registry,
		Orchestrator: orchestrator,
		Sweeper:      sweeper.New(ledgerStore, orchestrator, cfg.Sweep),
		API:          api.NewLedgerService(ledgerStore, walletLedger, transfers, orchestrator),
	}, nil
}

// InitializeStoreOnly initializes just the store, for read-only tooling.
func InitializeStoreOnly(ctx context.Context, cfg *models.Config) (store.LedgerStore, error) {
	return newStore(ctx, cfg.Database)
}

func (cs *Services) Close() {
	if cs.Store != nil {
		cs.Store.Close()
	}
}

func newStore(ctx context.Context, cfg models.DatabaseConfig) (store.LedgerStore, error) {
	switch cfg.Backend {
	case "sqlite", "":
		return database.NewService(ctx, cfg)
	case "postgres":
		return postgres.NewService(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store backend %q (want sqlite or postgres)", cfg.Backend)
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
