package database

import (
	"context"
	"database/sql"
	"fmt"

	"wallet-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GetTransactionHistory returns paginated transaction history for a wallet,
// newest first.
func (s *Service) GetTransactionHistory(ctx context.Context, walletId string, limit, offset int) ([]models.Transaction, error) {
	zap.L().Debug("Getting transaction history",
		zap.String("wallet_id", walletId),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := s.db.QueryContext(ctx, queryGetTransactionHistory, walletId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var transactions []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var amountStr string
		err := rows.Scan(&tx.Id, &tx.WalletId, &tx.Type, &amountStr, &tx.ReferenceType,
			&tx.ReferenceId, &tx.ExternalTransactionId, &tx.Status, &tx.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}
	return transactions, nil
}

// ReconcileWallet verifies that the wallet balance matches the signed sum of
// all POSTED log entries. RESERVE audit rows never count.
func (s *Service) ReconcileWallet(ctx context.Context, walletId string) error {
	wallet, err := s.GetWallet(ctx, walletId)
	if err != nil {
		return fmt.Errorf("failed to get wallet: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryListPostedTransactions, walletId)
	if err != nil {
		return fmt.Errorf("failed to list posted transactions: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	calculated := decimal.Zero
	for rows.Next() {
		var txType, amountStr string
		if err := rows.Scan(&txType, &amountStr); err != nil {
			return fmt.Errorf("failed to scan transaction: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		switch models.TransactionType(txType) {
		case models.TransactionCredit:
			calculated = calculated.Add(amount)
		case models.TransactionDebit:
			calculated = calculated.Sub(amount)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating transaction rows: %w", err)
	}

	if !wallet.Balance.Equal(calculated) {
		zap.L().Error("Balance reconciliation failed",
			zap.String("wallet_id", walletId),
			zap.String("current_balance", wallet.Balance.String()),
			zap.String("calculated_balance", calculated.String()),
			zap.String("difference", wallet.Balance.Sub(calculated).String()))
		return fmt.Errorf("balance mismatch for wallet %s: current=%s, calculated=%s",
			walletId, wallet.Balance.String(), calculated.String())
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("wallet_id", walletId),
		zap.String("balance", wallet.Balance.String()))
	return nil
}
