package models

import "time"

// Config represents the application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ledger   LedgerConfig
	Payments PaymentsConfig
	Sweep    SweepConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds storage backend settings. Backend selects the
// implementation: "sqlite" (default) or "postgres".
type DatabaseConfig struct {
	Backend         string
	Path            string
	PostgresDSN     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// LedgerConfig holds the optimistic-lock retry policy for wallet writes
type LedgerConfig struct {
	MaxAttempts  int
	RetryBackoff time.Duration
}

// PaymentsConfig holds provider call settings
type PaymentsConfig struct {
	MaxProviderAttempts int
	ProviderBackoff     time.Duration
	ProvidersFile       string
}

// SweepConfig holds reconciliation sweep settings
type SweepConfig struct {
	Interval   time.Duration
	PaymentTTL time.Duration
	BatchLimit int
}
