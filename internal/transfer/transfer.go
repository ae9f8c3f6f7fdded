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

package transfer

import (
	"context"
	"errors"
	"fmt"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Transfer outcomes.
const (
	StatusCompleted = "COMPLETED"
	StatusReversed  = "REVERSED"
)

// Ledger is the slice of the wallet ledger the coordinator drives.
type Ledger interface {
	Credit(ctx context.Context, walletId string, amount decimal.Decimal, refType models.ReferenceType, refId string) (*models.Wallet, error)
	Debit(ctx context.Context, walletId string, amount decimal.Decimal, refType models.ReferenceType, refId string) (*models.Wallet, error)
}

// Coordinator moves funds between two wallets as one caller-visible unit.
// The two legs are independent CAS writes; when the second leg fails after the
// first committed, the completed leg is reversed under the same reference id
// (forward recovery). A clean rejection then surfaces as an error, anything
// else reports REVERSED.
type Coordinator struct {
	ledger Ledger
}

func NewCoordinator(ledger Ledger) *Coordinator {
	return &Coordinator{ledger: ledger}
}

// Receipt describes the outcome of a transfer. Cause is set when the
// transfer was reversed and names the failure that triggered the reversal.
type Receipt struct {
	Status      string
	ReferenceId string
	Cause       error
}

type leg struct {
	walletId string
	debit    bool
}

// Transfer debits fromWalletId and credits toWalletId. The legs are attempted
// in lexicographic wallet-id order regardless of direction, so two transfers
// racing on the same pair in opposite directions cannot livelock each other.
func (c *Coordinator) Transfer(ctx context.Context, fromWalletId, toWalletId string, amount decimal.Decimal, referenceId string) (*Receipt, error) {
	if fromWalletId == toWalletId {
		return nil, fmt.Errorf("%w: cannot transfer wallet %s to itself", store.ErrValidation, fromWalletId)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", store.ErrValidation, amount.String())
	}

	first := leg{walletId: fromWalletId, debit: true}
	second := leg{walletId: toWalletId, debit: false}
	if toWalletId < fromWalletId {
		first, second = second, first
	}

	zap.L().Info("Starting transfer",
		zap.String("from_wallet_id", fromWalletId),
		zap.String("to_wallet_id", toWalletId),
		zap.String("amount", amount.String()),
		zap.String("reference_id", referenceId))

	if err := c.apply(ctx, first, amount, referenceId); err != nil {
		// Nothing committed yet; surface as-is.
		return nil, err
	}

	if err := c.apply(ctx, second, amount, referenceId); err != nil {
		zap.L().Warn("Transfer second leg failed, reversing first leg",
			zap.String("wallet_id", second.walletId),
			zap.String("reference_id", referenceId),
			zap.Error(err))

		if revErr := c.reverse(ctx, first, amount, referenceId); revErr != nil {
			zap.L().Error("Transfer reversal failed, manual reconciliation required",
				zap.String("wallet_id", first.walletId),
				zap.String("reference_id", referenceId),
				zap.Error(revErr))
			return nil, &store.ReconciliationError{
				WalletId:    first.walletId,
				ReferenceId: referenceId,
				Err:         fmt.Errorf("reversal after failed transfer leg: %w", revErr),
			}
		}

		// A clean domain rejection that rolled back fully surfaces as the
		// same taxonomy error either leg order produces. REVERSED is kept
		// for indeterminate failures after a committed leg.
		if businessRejection(err) {
			zap.L().Info("Transfer rolled back",
				zap.String("from_wallet_id", fromWalletId),
				zap.String("to_wallet_id", toWalletId),
				zap.String("reference_id", referenceId),
				zap.Error(err))
			return nil, err
		}

		zap.L().Info("Transfer reversed",
			zap.String("from_wallet_id", fromWalletId),
			zap.String("to_wallet_id", toWalletId),
			zap.String("reference_id", referenceId))
		return &Receipt{Status: StatusReversed, ReferenceId: referenceId, Cause: err}, nil
	}

	zap.L().Info("Transfer completed",
		zap.String("from_wallet_id", fromWalletId),
		zap.String("to_wallet_id", toWalletId),
		zap.String("reference_id", referenceId))
	return &Receipt{Status: StatusCompleted, ReferenceId: referenceId}, nil
}

// businessRejection reports whether err is a clean domain rejection rather
// than a transient or indeterminate failure.
func businessRejection(err error) bool {
	return errors.Is(err, store.ErrInsufficientFunds) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrValidation) ||
		errors.Is(err, store.ErrWalletClosed)
}

func (c *Coordinator) apply(ctx context.Context, l leg, amount decimal.Decimal, referenceId string) error {
	var err error
	if l.debit {
		_, err = c.ledger.Debit(ctx, l.walletId, amount, models.ReferenceTransfer, referenceId)
	} else {
		_, err = c.ledger.Credit(ctx, l.walletId, amount, models.ReferenceTransfer, referenceId)
	}
	return err
}

// reverse undoes a committed leg: a committed debit is credited back, a
// committed credit is debited back. A reversed credit cannot hit insufficient
// funds because the reversal takes back exactly what the leg added.
func (c *Coordinator) reverse(ctx context.Context, l leg, amount decimal.Decimal, referenceId string) error {
	var err error
	if l.debit {
		_, err = c.ledger.Credit(ctx, l.walletId, amount, models.ReferenceTransfer, referenceId)
	} else {
		_, err = c.ledger.Debit(ctx, l.walletId, amount, models.ReferenceTransfer, referenceId)
	}
	return err
}
