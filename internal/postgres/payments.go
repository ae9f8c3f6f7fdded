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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	queryInsertPayment = `
		INSERT INTO payments
			(id, user_id, wallet_id, amount, currency, client_request_id, provider,
			 external_transaction_id, status, failure_code, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	// amount is NUMERIC; select it as text for the decimal parse.
	queryGetPayment = `
		SELECT id, user_id, wallet_id, amount::text, currency, client_request_id, provider,
		       external_transaction_id, status, failure_code, version, created_at, updated_at
		FROM payments WHERE id = $1`

	queryFindPaymentByRequestId = `
		SELECT id, user_id, wallet_id, amount::text, currency, client_request_id, provider,
		       external_transaction_id, status, failure_code, version, created_at, updated_at
		FROM payments WHERE user_id = $1 AND client_request_id = $2`

	queryUpdatePayment = `
		UPDATE payments
		SET status = $1, external_transaction_id = $2, failure_code = $3,
		    version = version + 1, updated_at = NOW()
		WHERE id = $4 AND version = $5`

	queryListStalePayments = `
		SELECT id, user_id, wallet_id, amount::text, currency, client_request_id, provider,
		       external_transaction_id, status, failure_code, version, created_at, updated_at
		FROM payments
		WHERE status IN ('INITIATED', 'PROCESSING', 'PENDING') AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`

	uniqueViolationCode = "23505"
)

func (s *Service) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if payment.Id == "" {
		payment.Id = uuid.New().String()
	}
	payment.Version = 0

	_, err := s.pool.Exec(ctx, queryInsertPayment,
		payment.Id, payment.UserId, payment.WalletId, payment.Amount.String(),
		payment.Currency, payment.ClientRequestId, payment.Provider,
		payment.ExternalTransactionId, string(payment.Status), payment.FailureCode,
		payment.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return fmt.Errorf("%w: client_request_id %s already used by user %s",
				store.ErrDuplicatePayment, payment.ClientRequestId, payment.UserId)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	zap.L().Info("Payment created",
		zap.String("payment_id", payment.Id),
		zap.String("user_id", payment.UserId),
		zap.String("wallet_id", payment.WalletId),
		zap.String("client_request_id", payment.ClientRequestId),
		zap.String("amount", payment.Amount.String()))
	return nil
}

func (s *Service) GetPayment(ctx context.Context, paymentId string) (*models.Payment, error) {
	return scanPayment(s.pool.QueryRow(ctx, queryGetPayment, paymentId))
}

func (s *Service) FindPaymentByRequestId(ctx context.Context, userId, clientRequestId string) (*models.Payment, error) {
	return scanPayment(s.pool.QueryRow(ctx, queryFindPaymentByRequestId, userId, clientRequestId))
}

func (s *Service) UpdatePayment(ctx context.Context, upd store.PaymentUpdate) (*models.Payment, error) {
	tag, err := s.pool.Exec(ctx, queryUpdatePayment,
		string(upd.Status), upd.ExternalTransactionId, upd.FailureCode,
		upd.PaymentId, upd.ExpectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetPayment(ctx, upd.PaymentId); errors.Is(getErr, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("payment update failed - %w", store.ErrConcurrentModification)
	}
	return s.GetPayment(ctx, upd.PaymentId)
}

func (s *Service) ListStalePayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error) {
	rows, err := s.pool.Query(ctx, queryListStalePayments, olderThan.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		payment, err := scanPaymentRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment rows: %w", err)
	}
	return payments, nil
}

func scanPaymentRow(scan scanFunc) (*models.Payment, error) {
	var payment models.Payment
	var amountStr string
	err := scan(&payment.Id, &payment.UserId, &payment.WalletId, &amountStr,
		&payment.Currency, &payment.ClientRequestId, &payment.Provider,
		&payment.ExternalTransactionId, &payment.Status, &payment.FailureCode,
		&payment.Version, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return nil, err
	}
	payment.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
	}
	return &payment, nil
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	payment, err := scanPaymentRow(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return payment, nil
}
