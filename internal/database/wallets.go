package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateWallet inserts a wallet row at version 0. When the opening balance is
// positive, a matching CREDIT row is appended in the same storage transaction
// so the log reconciles to the balance from day one.
func (s *Service) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	if wallet.Id == "" {
		wallet.Id = uuid.New().String()
	}
	wallet.Version = 0

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryInsertWallet,
		wallet.Id, wallet.UserId, wallet.Balance.String(), wallet.Reserved.String(),
		wallet.Currency, wallet.Version)
	if err != nil {
		return fmt.Errorf("failed to insert wallet: %w", err)
	}

	if wallet.Balance.IsPositive() {
		_, err = tx.ExecContext(ctx, queryInsertTransaction,
			uuid.New().String(), wallet.Id, string(models.TransactionCredit),
			wallet.Balance.String(), string(models.ReferenceAdminAdjustment),
			"opening-balance", "", models.TransactionPosted, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to insert opening transaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
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
	return s.scanWallet(s.db.QueryRowContext(ctx, queryGetWallet, walletId))
}

func (s *Service) FindWalletByUser(ctx context.Context, userId, currency string) (*models.Wallet, error) {
	return s.scanWallet(s.db.QueryRowContext(ctx, queryFindWalletByUser, userId, currency))
}

func (s *Service) ListWallets(ctx context.Context) ([]models.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, queryListWallets)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

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

// UpdateWallet applies a compare-and-swap write conditioned on ExpectedVersion
// and appends the given transaction rows atomically with it. A lost race
// returns store.ErrConcurrentModification with nothing committed.
func (s *Service) UpdateWallet(ctx context.Context, upd store.WalletUpdate) (*models.Wallet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, entry := range upd.Append {
		// Duplicate external ids are rejected before anything is written.
		if entry.ExternalTransactionId != "" {
			var existingId string
			err := tx.QueryRowContext(ctx, queryCheckDuplicateTransaction, entry.ExternalTransactionId).Scan(&existingId)
			if err == nil {
				zap.L().Warn("Duplicate external transaction id detected",
					zap.String("external_tx_id", entry.ExternalTransactionId),
					zap.String("existing_tx_id", existingId))
				return nil, fmt.Errorf("%w: external_transaction_id %s already exists",
					store.ErrDuplicateTransaction, entry.ExternalTransactionId)
			} else if !errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("failed to check for duplicate transaction: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, queryInsertTransaction,
			uuid.New().String(), upd.WalletId, string(entry.Type), entry.Amount.String(),
			string(entry.ReferenceType), entry.ReferenceId, entry.ExternalTransactionId,
			entry.Status, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert transaction: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, queryUpdateWallet,
		upd.Balance.String(), upd.Reserved.String(), upd.Closed, upd.WalletId, upd.ExpectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to update wallet: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("wallet update failed - %w", store.ErrConcurrentModification)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit wallet update: %w", err)
	}

	// Re-read so callers get the full row, not just the fields this update
	// carried.
	updated, err := s.GetWallet(ctx, upd.WalletId)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet after update: %w", err)
	}

	zap.L().Debug("Wallet updated",
		zap.String("wallet_id", upd.WalletId),
		zap.Int64("version", updated.Version),
		zap.String("balance", upd.Balance.String()),
		zap.String("reserved", upd.Reserved.String()))
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

func (s *Service) scanWallet(row *sql.Row) (*models.Wallet, error) {
	wallet, err := scanWalletRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return wallet, nil
}
