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
	"errors"
	"fmt"
	"time"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	queryInsertWallet = `
		INSERT INTO wallets (id, user_id, balance, reserved, currency, version)
		VALUES ($1, $2, $3, $4, $5, $6)`

	// NUMERIC columns are selected as text and parsed into decimals, matching
	// the SQLite backend and keeping pgx out of float territory.
	queryGetWallet = `
		SELECT id, user_id, balance::text, reserved::text, currency, version, closed, created_at, updated_at
		FROM wallets WHERE id = $1`

	queryFindWalletByUser = `
		SELECT id, user_id, balance::text, reserved::text, currency, version, closed, created_at, updated_at
		FROM wallets WHERE user_id = $1 AND currency = $2
		ORDER BY created_at
		LIMIT 1`

	queryListWallets = `
		SELECT id, user_id, balance::text, reserved::text, currency, version, closed, created_at, updated_at
		FROM wallets ORDER BY created_at`

	queryUpdateWallet = `
		UPDATE wallets
		SET balance = $1, reserved = $2, closed = $3, version = version + 1, updated_at = NOW()
		WHERE id = $4 AND version = $5`

	queryCheckDuplicateTransaction = `
		SELECT id FROM transactions WHERE external_transaction_id = $1`

	queryInsertTransaction = `
		INSERT INTO transactions
			(id, wallet_id, type, amount, reference_type, reference_id,
			 external_transaction_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
)

func (s *Service) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	if wallet.Id == "" {
		wallet.Id = uuid.New().String()
	}
	wallet.Version = 0

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, queryInsertWallet,
		wallet.Id, wallet.UserId, wallet.Balance.String(), wallet.Reserved.String(),
		wallet.Currency, wallet.Version)
	if err != nil {
		return fmt.Errorf("failed to insert wallet: %w", err)
	}

	if wallet.Balance.IsPositive() {
		_, err = tx.Exec(ctx, queryInsertTransaction,
			uuid.New().String(), wallet.Id, string(models.TransactionCredit),
			wallet.Balance.String(), string(models.ReferenceAdminAdjustment),
			"opening-balance", "", models.TransactionPosted, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to insert opening transaction: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit wallet creation: %w", err)
	}

	zap.L().Info("Wallet created",
		zap.String("wallet_id", wallet.Id),
		zap.String("user_id", wallet.UserId),
		zap.String("currency", wallet.Currency),
		zap.String("balance", wallet.Balance.String()))
	return nil
}

func (s *Service) GetWallet(ctx context.Context, walletId string) (*models.Wallet, error) {
	return scanWallet(s.pool.QueryRow(ctx, queryGetWallet, walletId))
}

func (s *Service) FindWalletByUser(ctx context.Context, userId, currency string) (*models.Wallet, error) {
	return scanWallet(s.pool.QueryRow(ctx, queryFindWalletByUser, userId, currency))
}

func (s *Service) ListWallets(ctx context.Context) ([]models.Wallet, error) {
	rows, err := s.pool.Query(ctx, queryListWallets)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []models.Wallet
	for rows.Next() {
		wallet, err := scanWalletRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, *wallet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallet rows: %w", err)
	}
	return wallets, nil
}

// UpdateWallet is the same compare-and-swap write as the SQLite backend: the
// append rows and the conditioned UPDATE commit or roll back together.
func (s *Service) UpdateWallet(ctx context.Context, upd store.WalletUpdate) (*models.Wallet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, entry := range upd.Append {
		if entry.ExternalTransactionId != "" {
			var existingId string
			err := tx.QueryRow(ctx, queryCheckDuplicateTransaction, entry.ExternalTransactionId).Scan(&existingId)
			if err == nil {
				zap.L().Warn("Duplicate external transaction id detected",
					zap.String("external_tx_id", entry.ExternalTransactionId),
					zap.String("existing_tx_id", existingId))
				return nil, fmt.Errorf("%w: external_transaction_id %s already exists",
					store.ErrDuplicateTransaction, entry.ExternalTransactionId)
			} else if !errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("failed to check for duplicate transaction: %w", err)
			}
		}

		_, err = tx.Exec(ctx, queryInsertTransaction,
			uuid.New().String(), upd.WalletId, string(entry.Type), entry.Amount.String(),
			string(entry.ReferenceType), entry.ReferenceId, entry.ExternalTransactionId,
			entry.Status, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert transaction: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, queryUpdateWallet,
		upd.Balance.String(), upd.Reserved.String(), upd.Closed, upd.WalletId, upd.ExpectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to update wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("wallet update failed - %w", store.ErrConcurrentModification)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit wallet update: %w", err)
	}

	// Re-read so callers get the full row, not just the fields this update
	// carried.
	updated, err := s.GetWallet(ctx, upd.WalletId)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet after update: %w", err)
	}
	return updated, nil
}

type scanFunc func(dest ...any) error

func scanWalletRow(scan scanFunc) (*models.Wallet, error) {
	var wallet models.Wallet
	var balanceStr, reservedStr string
	err := scan(&wallet.Id, &wallet.UserId, &balanceStr, &reservedStr, &wallet.Currency,
		&wallet.Version, &wallet.Closed, &wallet.CreatedAt, &wallet.UpdatedAt)
	if err != nil {
		return nil, err
	}
	wallet.Balance, err = decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
	}
	wallet.Reserved, err = decimal.NewFromString(reservedStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse reserved '%s': %w", reservedStr, err)
	}
	return &wallet, nil
}

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	wallet, err := scanWalletRow(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return wallet, nil
}
