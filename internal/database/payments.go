package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreatePayment inserts a payment row at version 0. A second insert for the
// same (user, clientRequestId) pair reports store.ErrDuplicatePayment.
func (s *Service) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if payment.Id == "" {
		payment.Id = uuid.New().String()
	}
	payment.Version = 0

	_, err := s.db.ExecContext(ctx, queryInsertPayment,
		payment.Id, payment.UserId, payment.WalletId, payment.Amount.String(),
		payment.Currency, payment.ClientRequestId, payment.Provider,
		payment.ExternalTransactionId, string(payment.Status), payment.FailureCode,
		payment.Version)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
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
	return s.scanPayment(s.db.QueryRowContext(ctx, queryGetPayment, paymentId))
}

func (s *Service) FindPaymentByRequestId(ctx context.Context, userId, clientRequestId string) (*models.Payment, error) {
	return s.scanPayment(s.db.QueryRowContext(ctx, queryFindPaymentByRequestId, userId, clientRequestId))
}

// UpdatePayment applies a compare-and-swap write conditioned on
// ExpectedVersion, mirroring the wallet CAS path.
func (s *Service) UpdatePayment(ctx context.Context, upd store.PaymentUpdate) (*models.Payment, error) {
	result, err := s.db.ExecContext(ctx, queryUpdatePayment,
		string(upd.Status), upd.ExternalTransactionId, upd.FailureCode,
		upd.PaymentId, upd.ExpectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, getErr := s.GetPayment(ctx, upd.PaymentId); errors.Is(getErr, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("payment update failed - %w", store.ErrConcurrentModification)
	}

	payment, err := s.GetPayment(ctx, upd.PaymentId)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("Payment updated",
		zap.String("payment_id", payment.Id),
		zap.String("status", string(payment.Status)),
		zap.Int64("version", payment.Version))
	return payment, nil
}

// ListStalePayments returns non-terminal payments that have not moved since
// olderThan, for the reconciliation sweep.
func (s *Service) ListStalePayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error) {
	rows, err := s.db.QueryContext(ctx, queryListStalePayments, olderThan.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale payments: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

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

func (s *Service) scanPayment(row *sql.Row) (*models.Payment, error) {
	payment, err := scanPaymentRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return payment, nil
}
