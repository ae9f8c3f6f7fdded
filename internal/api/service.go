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

package api

import (
	"context"
	"fmt"

	"wallet-ledger-go/internal/ledger"
	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/payment"
	"wallet-ledger-go/internal/store"
	"wallet-ledger-go/internal/transfer"

	"github.com/shopspring/decimal"
)

// historyPageSize is the fixed page size of the transaction history endpoint.
const historyPageSize = 10

// LedgerService bundles the store, the wallet ledger, the transfer
// coordinator, and the payment orchestrator behind one API surface.
type LedgerService struct {
	store        store.LedgerStore
	ledger       *ledger.Ledger
	transfers    *transfer.Coordinator
	orchestrator *payment.Orchestrator
}

func NewLedgerService(st store.LedgerStore, lg *ledger.Ledger, transfers *transfer.Coordinator, orchestrator *payment.Orchestrator) *LedgerService {
	return &LedgerService{
		store:        st,
		ledger:       lg,
		transfers:    transfers,
		orchestrator: orchestrator,
	}
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (s *LedgerService) CreateWallet(ctx context.Context, userId string, req models.CreateWalletRequest) (*models.Wallet, error) {
	if userId == "" {
		return nil, fmt.Errorf("%w: user id is required", store.ErrValidation)
	}
	if req.Currency == "" {
		return nil, fmt.Errorf("%w: currency is required", store.ErrValidation)
	}
	if req.Balance.IsNegative() {
		return nil, fmt.Errorf("%w: opening balance cannot be negative", store.ErrValidation)
	}

	wallet := &models.Wallet{
		UserId:   userId,
		Balance:  req.Balance,
		Reserved: decimal.Zero,
		Currency: req.Currency,
	}
	if err := s.store.CreateWallet(ctx, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *LedgerService) TopUp(ctx context.Context, req models.TopUpRequest) (*models.Wallet, error) {
	if err := s.checkCurrency(ctx, req.WalletId, req.Currency); err != nil {
		return nil, err
	}
	return s.ledger.Credit(ctx, req.WalletId, req.Amount, models.ReferenceAdminAdjustment, "top-up")
}

func (s *LedgerService) WalletPayment(ctx context.Context, req models.WalletPaymentRequest) (*models.Wallet, error) {
	if req.ReferenceId == "" {
		return nil, fmt.Errorf("%w: reference id is required", store.ErrValidation)
	}
	if err := s.checkCurrency(ctx, req.WalletId, req.Currency); err != nil {
		return nil, err
	}
	return s.ledger.Debit(ctx, req.WalletId, req.Amount, models.ReferenceOrder, req.ReferenceId)
}

// Transfer moves funds from the calling user's wallet in the given currency to
// the destination wallet.
func (s *LedgerService) Transfer(ctx context.Context, userId string, req models.TransferRequest) (*transfer.Receipt, error) {
	if userId == "" {
		return nil, fmt.Errorf("%w: user id is required", store.ErrValidation)
	}
	from, err := s.store.FindWalletByUser(ctx, userId, req.Currency)
	if err != nil {
		return nil, err
	}
	if err := s.checkCurrency(ctx, req.ToWalletId, req.Currency); err != nil {
		return nil, err
	}
	return s.transfers.Transfer(ctx, from.Id, req.ToWalletId, req.Amount, req.ReferenceId)
}

func (s *LedgerService) GetBalance(ctx context.Context, walletId string) (*models.Wallet, error) {
	return s.ledger.GetBalance(ctx, walletId)
}

// GetHistory returns one page of a wallet's transaction history, newest
// first. Pages are 1-based.
func (s *LedgerService) GetHistory(ctx context.Context, walletId string, page int) ([]models.TransactionRecord, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: page must be >= 1, got %d", store.ErrValidation, page)
	}
	if _, err := s.store.GetWallet(ctx, walletId); err != nil {
		return nil, err
	}

	transactions, err := s.store.GetTransactionHistory(ctx, walletId, historyPageSize, (page-1)*historyPageSize)
	if err != nil {
		return nil, err
	}

	records := make([]models.TransactionRecord, 0, len(transactions))
	for _, tx := range transactions {
		records = append(records, models.TransactionRecord{
			Id:            tx.Id,
			Type:          tx.Type,
			Amount:        tx.Amount,
			ReferenceType: tx.ReferenceType,
			ReferenceId:   tx.ReferenceId,
			Status:        tx.Status,
			CreatedAt:     tx.CreatedAt,
		})
	}
	return records, nil
}

func (s *LedgerService) CloseWallet(ctx context.Context, walletId string) (*models.Wallet, error) {
	return s.ledger.CloseWallet(ctx, walletId)
}

func (s *LedgerService) InitiatePayment(ctx context.Context, userId string, req models.InitiatePaymentRequest) (*models.Payment, bool, error) {
	return s.orchestrator.Initiate(ctx, payment.InitiateParams{
		UserId:                userId,
		WalletId:              req.WalletId,
		Amount:                req.Amount,
		Currency:              req.Currency,
		ClientRequestId:       req.ClientRequestId,
		Provider:              req.Provider,
		ExternalTransactionId: req.ExternalTransactionId,
	})
}

func (s *LedgerService) ProcessPayment(ctx context.Context, paymentId string, req models.ProcessPaymentRequest) (*models.Payment, error) {
	return s.orchestrator.Process(ctx, paymentId, req.PaymentMethodToken, req.ExpectedVersion)
}

func (s *LedgerService) ConfirmPayment(ctx context.Context, paymentId string, req models.ConfirmPaymentRequest) (*models.Payment, error) {
	return s.orchestrator.Confirm(ctx, paymentId, req.Succeeded, req.ExternalTransactionId)
}

func (s *LedgerService) GetPayment(ctx context.Context, paymentId string) (*models.Payment, error) {
	return s.store.GetPayment(ctx, paymentId)
}

// checkCurrency rejects operations whose currency does not match the wallet.
func (s *LedgerService) checkCurrency(ctx context.Context, walletId, currency string) error {
	if walletId == "" {
		return fmt.Errorf("%w: wallet id is required", store.ErrValidation)
	}
	wallet, err := s.store.GetWallet(ctx, walletId)
	if err != nil {
		return err
	}
	if currency != "" && wallet.Currency != currency {
		return fmt.Errorf("%w: wallet currency %s does not match request currency %s",
			store.ErrValidation, wallet.Currency, currency)
	}
	return nil
}
