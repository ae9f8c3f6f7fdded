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

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// amount is NUMERIC; select it as text for the decimal parse.
	queryGetTransactionHistory = `
		SELECT id, wallet_id, type, amount::text, reference_type, reference_id,
		       external_transaction_id, status, created_at
		FROM transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	queryListPostedTransactions = `
		SELECT type, amount::text FROM transactions
		WHERE wallet_id = $1 AND status = 'POSTED'`
)

func (s *Service) GetTransactionHistory(ctx context.Context, walletId string, limit, offset int) ([]models.Transaction, error) {
	rows, err := s.pool.Query(ctx, queryGetTransactionHistory, walletId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer rows.Close()

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

// ReconcileWallet verifies the wallet balance against the signed sum of its
// POSTED log entries, summed in decimal to avoid float drift.
func (s *Service) ReconcileWallet(ctx context.Context, walletId string) error {
	wallet, err := s.GetWallet(ctx, walletId)
	if err != nil {
		return fmt.Errorf("failed to get wallet: %w", err)
	}

	rows, err := s.pool.Query(ctx, queryListPostedTransactions, walletId)
	if err != nil {
		return fmt.Errorf("failed to list posted transactions: %w", err)
	}
	defer rows.Close()

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
			zap.String("calculated_balance", calculated.String()))
		return fmt.Errorf("balance mismatch for wallet %s: current=%s, calculated=%s",
			walletId, wallet.Balance.String(), calculated.String())
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("wallet_id", walletId),
		zap.String("balance", wallet.Balance.String()))
	return nil
}
