/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package postgres

import (
	"context"
	"fmt"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.LedgerStore.
var _ store.LedgerStore = (*Service)(nil)

// Service implements store.LedgerStore on PostgreSQL via pgx. It mirrors the
// SQLite backend's semantics exactly; only placeholders and concurrency
// primitives differ.
type Service struct {
	pool *pgxpool.Pool
}

func NewService(ctx context.Context, config models.DatabaseConfig) (*Service, error) {
	if config.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres DSN is required for the postgres backend")
	}

	poolConfig, err := pgxpool.ParseConfig(config.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolConfig.MaxConns = int32(config.MaxOpenConns)
	poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.PingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	service := &Service{pool: pool}
	if err := service.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	zap.L().Info("Postgres store initialized",
		zap.Int("max_conns", config.MaxOpenConns))
	return service, nil
}

// NewServiceWithPool wraps an existing pool, for tests.
func NewServiceWithPool(ctx context.Context, pool *pgxpool.Pool) (*Service, error) {
	service := &Service{pool: pool}
	if err := service.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return service, nil
}

func (s *Service) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		balance NUMERIC NOT NULL DEFAULT 0,
		reserved NUMERIC NOT NULL DEFAULT 0,
		currency TEXT NOT NULL,
		version BIGINT NOT NULL DEFAULT 0,
		closed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL REFERENCES wallets(id),
		type TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		reference_type TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		external_transaction_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'POSTED',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		wallet_id TEXT NOT NULL REFERENCES wallets(id),
		amount NUMERIC NOT NULL,
		currency TEXT NOT NULL,
		client_request_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		external_transaction_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		failure_code TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, client_request_id)
	);

	CREATE INDEX IF NOT EXISTS idx_wallets_user ON wallets(user_id, currency);
	CREATE INDEX IF NOT EXISTS idx_transactions_wallet ON transactions(wallet_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_external
		ON transactions(external_transaction_id) WHERE external_transaction_id <> '';
	CREATE INDEX IF NOT EXISTS idx_payments_stale ON payments(status, updated_at);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return err
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Service) Close() {
	s.pool.Close()
}
