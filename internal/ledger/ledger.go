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

package ledger

import (
	"context"
	"fmt"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is the slice of the ledger store the wallet ledger needs.
type Store interface {
	GetWallet(ctx context.Context, walletId string) (*models.Wallet, error)
	UpdateWallet(ctx context.Context, upd store.WalletUpdate) (*models.Wallet, error)
}

// Ledger applies balance mutations to wallets with optimistic-lock retry.
// Every mutation is a read-modify-CAS-write; the wallet row is never written
// outside this path.
type Ledger struct {
	store Store
	retry RetryPolicy
}

func New(st Store, retry RetryPolicy) *Ledger {
	return &Ledger{store: st, retry: retry}
}

// Credit adds amount to the wallet balance and posts a CREDIT entry.
func (l *Ledger) Credit(ctx context.Context, walletId string, amount decimal.Decimal, refType models.ReferenceType, refId string) (*models.Wallet, error) {
	return l.mutate(ctx, "credit", walletId, amount, func(w *models.Wallet, upd *store.WalletUpdate) error {
		upd.Balance = w.Balance.Add(amount)
		upd.Append = []store.TransactionAppend{{
			Type:          models.TransactionCredit,
			Amount:        amount,
			ReferenceType: refType,
			ReferenceId:   refId,
			Status:        models.TransactionPosted,
		}}
		return nil
	})
}

// Debit subtracts amount from the wallet balance and posts a DEBIT entry.
// A debit that would take the available balance below zero fails with
// store.ErrInsufficientFunds and never partially applies.
func (l *Ledger) Debit(ctx context.Context, walletId string, amount decimal.Decimal, refType models.ReferenceType, refId string) (*models.Wallet, error) {
	return l.mutate(ctx, "debit", walletId, amount, func(w *models.Wallet, upd *store.WalletUpdate) error {
		if w.Available().LessThan(amount) {
			return fmt.Errorf("%w: available %s, requested %s",
				store.ErrInsufficientFunds, w.Available().String(), amount.String())
		}
		upd.Balance = w.Balance.Sub(amount)
		upd.Append = []store.TransactionAppend{{
			Type:          models.TransactionDebit,
			Amount:        amount,
			ReferenceType: refType,
			ReferenceId:   refId,
			Status:        models.TransactionPosted,
		}}
		return nil
	})
}

// Reserve earmarks amount against the available balance without posting a
// debit. The hold is audited with a HELD entry that never counts toward the
// balance.
func (l *Ledger) Reserve(ctx context.Context, walletId string, amount decimal.Decimal, refType models.ReferenceType, refId string) (*models.Wallet, error) {
	return l.mutate(ctx, "reserve", walletId, amount, func(w *models.Wallet, upd *store.WalletUpdate) error {
		if w.Available().LessThan(amount) {
			return fmt.Errorf("%w: available %s, requested %s",
				store.ErrInsufficientFunds, w.Available().String(), amount.String())
		}
		upd.Reserved = w.Reserved.Add(amount)
		upd.Append = []store.TransactionAppend{{
			Type:          models.TransactionReserve,
			Amount:        amount,
			ReferenceType: refType,
			ReferenceId:   refId,
			Status:        models.TransactionHeld,
		}}
		return nil
	})
}

// Release frees a hold without posting a debit.
func (l *Ledger) Release(ctx context.Context, walletId string, amount decimal.Decimal, refType models.ReferenceType, refId string) (*models.Wallet, error) {
	return l.mutate(ctx, "release", walletId, amount, func(w *models.Wallet, upd *store.WalletUpdate) error {
		if w.Reserved.LessThan(amount) {
			return fmt.Errorf("%w: reserved %s is less than release amount %s",
				store.ErrValidation, w.Reserved.String(), amount.String())
		}
		upd.Reserved = w.Reserved.Sub(amount)
		upd.Append = []store.TransactionAppend{{
			Type:          models.TransactionReserve,
			Amount:        amount,
			ReferenceType: refType,
			ReferenceId:   refId,
			Status:        models.TransactionReleased,
		}}
		return nil
	})
}

// Capture converts a hold into a posted DEBIT in one committed update: the
// amount leaves both the reservation and the balance.
func (l *Ledger) Capture(ctx context.Context, walletId string, amount decimal.Decimal, refType models.ReferenceType, refId, externalTxId string) (*models.Wallet, error) {
	return l.mutate(ctx, "capture", walletId, amount, func(w *models.Wallet, upd *store.WalletUpdate) error {
		if w.Reserved.LessThan(amount) {
			return fmt.Errorf("%w: reserved %s is less than capture amount %s",
				store.ErrValidation, w.Reserved.String(), amount.String())
		}
		upd.Reserved = w.Reserved.Sub(amount)
		upd.Balance = w.Balance.Sub(amount)
		upd.Append = []store.TransactionAppend{{
			Type:                  models.TransactionDebit,
			Amount:                amount,
			ReferenceType:         refType,
			ReferenceId:           refId,
			ExternalTransactionId: externalTxId,
			Status:                models.TransactionPosted,
		}}
		return nil
	})
}

// GetBalance returns the wallet's committed state.
func (l *Ledger) GetBalance(ctx context.Context, walletId string) (*models.Wallet, error) {
	return l.store.GetWallet(ctx, walletId)
}

// CloseWallet flags the wallet closed through the same CAS path, so in-flight
// mutations lose their race and observe the flag on re-read.
func (l *Ledger) CloseWallet(ctx context.Context, walletId string) (*models.Wallet, error) {
	var updated *models.Wallet
	err := l.retry.Do(ctx, "close", func(ctx context.Context) error {
		wallet, err := l.store.GetWallet(ctx, walletId)
		if err != nil {
			return err
		}
		if wallet.Closed {
			updated = wallet
			return nil
		}
		updated, err = l.store.UpdateWallet(ctx, store.WalletUpdate{
			WalletId:        walletId,
			Balance:         wallet.Balance,
			Reserved:        wallet.Reserved,
			Closed:          true,
			ExpectedVersion: wallet.Version,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("Wallet closed", zap.String("wallet_id", walletId))
	return updated, nil
}

// mutate runs one balance-affecting operation under the retry policy. apply
// computes the new row from the freshly read wallet; the CAS write is
// conditioned on the version that read observed.
func (l *Ledger) mutate(ctx context.Context, op, walletId string, amount decimal.Decimal, apply func(*models.Wallet, *store.WalletUpdate) error) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", store.ErrValidation, amount.String())
	}

	var updated *models.Wallet
	err := l.retry.Do(ctx, op, func(ctx context.Context) error {
		wallet, err := l.store.GetWallet(ctx, walletId)
		if err != nil {
			return err
		}
		if wallet.Closed {
			return fmt.Errorf("%w: wallet %s", store.ErrWalletClosed, walletId)
		}

		upd := store.WalletUpdate{
			WalletId:        walletId,
			Balance:         wallet.Balance,
			Reserved:        wallet.Reserved,
			ExpectedVersion: wallet.Version,
		}
		if err := apply(wallet, &upd); err != nil {
			return err
		}
		if upd.Balance.IsNegative() {
			return fmt.Errorf("%w: operation would leave balance %s",
				store.ErrInsufficientFunds, upd.Balance.String())
		}

		updated, err = l.store.UpdateWallet(ctx, upd)
		return err
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Ledger operation committed",
		zap.String("operation", op),
		zap.String("wallet_id", walletId),
		zap.String("amount", amount.String()),
		zap.String("balance", updated.Balance.String()),
		zap.Int64("version", updated.Version))
	return updated, nil
}
