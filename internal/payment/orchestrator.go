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

package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/provider"
	"wallet-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExpiredMarker is recorded as the failure code of payments abandoned by the
// reconciliation sweep. It is a lifecycle marker, not a provider code.
const ExpiredMarker = "EXPIRED"

// Store is the slice of the ledger store the orchestrator needs.
type Store interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, paymentId string) (*models.Payment, error)
	FindPaymentByRequestId(ctx context.Context, userId, clientRequestId string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, upd store.PaymentUpdate) (*models.Payment, error)
}

// WalletLedger is the slice of the wallet ledger the orchestrator drives.
type WalletLedger interface {
	Reserve(ctx context.Context, walletId string, amount decimal.Decimal, refType models.ReferenceType, refId string) (*models.Wallet, error)
	Release(ctx context.Context, walletId string, amount decimal.Decimal, refType models.ReferenceType, refId string) (*models.Wallet, error)
	Capture(ctx context.Context, walletId string, amount decimal.Decimal, refType models.ReferenceType, refId, externalTxId string) (*models.Wallet, error)
	GetBalance(ctx context.Context, walletId string) (*models.Wallet, error)
}

// Providers resolves a provider name to an adapter.
type Providers interface {
	Get(name string) (provider.Provider, error)
}

// Orchestrator owns the payment lifecycle state machine and the retry policy
// for retryable provider failures. The adapter itself never retries.
type Orchestrator struct {
	store       Store
	wallets     WalletLedger
	providers   Providers
	maxAttempts int
	backoff     time.Duration
}

func NewOrchestrator(st Store, wallets WalletLedger, providers Providers, maxAttempts int, backoff time.Duration) *Orchestrator {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &Orchestrator{
		store:       st,
		wallets:     wallets,
		providers:   providers,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

// InitiateParams describes a payment initiation request.
type InitiateParams struct {
	UserId                string
	WalletId              string
	Amount                decimal.Decimal
	Currency              string
	ClientRequestId       string
	Provider              string
	ExternalTransactionId string
}

// Initiate creates an INITIATED payment and places a hold for its amount, or
// returns the existing payment unchanged when the (user, clientRequestId)
// pair has been seen before. Idempotency holds for the lifetime of the
// record, not just a retry window.
func (o *Orchestrator) Initiate(ctx context.Context, params InitiateParams) (*models.Payment, bool, error) {
	if err := o.validateInitiate(ctx, params); err != nil {
		return nil, false, err
	}

	existing, err := o.store.FindPaymentByRequestId(ctx, params.UserId, params.ClientRequestId)
	if err == nil {
		zap.L().Info("Idempotent replay of payment initiation",
			zap.String("payment_id", existing.Id),
			zap.String("user_id", params.UserId),
			zap.String("client_request_id", params.ClientRequestId))
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	payment := &models.Payment{
		UserId:                params.UserId,
		WalletId:              params.WalletId,
		Amount:                params.Amount,
		Currency:              params.Currency,
		ClientRequestId:       params.ClientRequestId,
		Provider:              params.Provider,
		ExternalTransactionId: params.ExternalTransactionId,
		Status:                models.PaymentInitiated,
	}
	if err := o.store.CreatePayment(ctx, payment); err != nil {
		// Lost a creation race: the winner's record is the answer.
		if errors.Is(err, store.ErrDuplicatePayment) {
			existing, findErr := o.store.FindPaymentByRequestId(ctx, params.UserId, params.ClientRequestId)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	// Hold the funds so two in-flight payments cannot collectively overdraw.
	if _, err := o.wallets.Reserve(ctx, payment.WalletId, payment.Amount, models.ReferencePayment, payment.Id); err != nil {
		failed, updErr := o.store.UpdatePayment(ctx, store.PaymentUpdate{
			PaymentId:             payment.Id,
			Status:                models.PaymentFailed,
			ExternalTransactionId: payment.ExternalTransactionId,
			FailureCode:           string(provider.CodeInsufficientFunds),
			ExpectedVersion:       payment.Version,
		})
		if updErr != nil {
			zap.L().Error("Failed to mark payment failed after reservation failure",
				zap.String("payment_id", payment.Id),
				zap.Error(updErr))
			return nil, false, updErr
		}
		zap.L().Warn("Payment reservation failed",
			zap.String("payment_id", failed.Id),
			zap.String("wallet_id", payment.WalletId),
			zap.Error(err))
		return nil, false, err
	}

	return payment, true, nil
}

// Process transitions INITIATED -> PROCESSING, invokes the provider, and
// resolves the reservation according to the outcome. expectedVersion, when
// non-nil, rejects stale clients before any state change or provider call.
func (o *Orchestrator) Process(ctx context.Context, paymentId, paymentMethodToken string, expectedVersion *int64) (*models.Payment, error) {
	payment, err := o.store.GetPayment(ctx, paymentId)
	if err != nil {
		return nil, err
	}
	if expectedVersion != nil && *expectedVersion != payment.Version {
		return nil, fmt.Errorf("%w: payment %s is at version %d, caller expected %d",
			store.ErrConcurrencyConflict, paymentId, payment.Version, *expectedVersion)
	}
	switch payment.Status {
	case models.PaymentInitiated:
		// proceed
	case models.PaymentProcessing:
		return nil, fmt.Errorf("%w: payment %s is already being processed",
			store.ErrConcurrencyConflict, paymentId)
	default:
		return nil, fmt.Errorf("%w: payment %s cannot be processed from status %s",
			store.ErrValidation, paymentId, payment.Status)
	}

	prov, err := o.providers.Get(payment.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	payment, err = o.store.UpdatePayment(ctx, store.PaymentUpdate{
		PaymentId:             payment.Id,
		Status:                models.PaymentProcessing,
		ExternalTransactionId: payment.ExternalTransactionId,
		FailureCode:           payment.FailureCode,
		ExpectedVersion:       payment.Version,
	})
	if err != nil {
		if errors.Is(err, store.ErrConcurrentModification) {
			return nil, fmt.Errorf("%w: payment %s was modified concurrently",
				store.ErrConcurrencyConflict, paymentId)
		}
		return nil, err
	}

	result := o.chargeWithRetry(ctx, prov, payment, paymentMethodToken)
	return o.resolve(ctx, payment, result)
}

// chargeWithRetry applies bounded exponential backoff to retryable failure
// codes only. The last result is returned once the budget is spent.
func (o *Orchestrator) chargeWithRetry(ctx context.Context, prov provider.Provider, payment *models.Payment, token string) provider.Result {
	req := provider.ChargeRequest{
		PaymentId:          payment.Id,
		Amount:             payment.Amount,
		Currency:           payment.Currency,
		PaymentMethodToken: token,
		// A stable key keeps provider-side retries single-effect.
		IdempotencyKey: payment.Id,
	}

	var result provider.Result
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		result = prov.Charge(ctx, req)
		if result.Status != provider.StatusFailed || !result.Retryable {
			return result
		}

		zap.L().Warn("Retryable provider failure",
			zap.String("payment_id", payment.Id),
			zap.String("provider", result.Provider),
			zap.String("code", string(result.Code)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", o.maxAttempts))

		if attempt == o.maxAttempts {
			break
		}
		select {
		case <-time.After(o.backoff << (attempt - 1)):
		case <-ctx.Done():
			return result
		}
	}
	return result
}

// resolve commits the provider outcome: capture on success, release on
// failure, park on pending.
func (o *Orchestrator) resolve(ctx context.Context, payment *models.Payment, result provider.Result) (*models.Payment, error) {
	switch result.Status {
	case provider.StatusSucceeded:
		return o.settle(ctx, payment, result.ExternalTransactionId)

	case provider.StatusPending:
		zap.L().Info("Payment awaiting asynchronous confirmation",
			zap.String("payment_id", payment.Id),
			zap.String("provider", result.Provider))
		return o.store.UpdatePayment(ctx, store.PaymentUpdate{
			PaymentId:             payment.Id,
			Status:                models.PaymentPending,
			ExternalTransactionId: o.externalTxId(payment, result.ExternalTransactionId),
			FailureCode:           "",
			ExpectedVersion:       payment.Version,
		})

	default:
		zap.L().Warn("Payment failed",
			zap.String("payment_id", payment.Id),
			zap.String("provider", result.Provider),
			zap.String("code", string(result.Code)),
			zap.String("message", result.Message))
		// Winning the FAILED transition claims the hold; releasing before
		// winning could free funds a concurrent resolution owns.
		updated, err := o.store.UpdatePayment(ctx, store.PaymentUpdate{
			PaymentId:             payment.Id,
			Status:                models.PaymentFailed,
			ExternalTransactionId: payment.ExternalTransactionId,
			FailureCode:           string(result.Code),
			ExpectedVersion:       payment.Version,
		})
		if err != nil {
			return nil, err
		}
		if _, err := o.wallets.Release(ctx, updated.WalletId, updated.Amount, models.ReferencePayment, updated.Id); err != nil {
			zap.L().Error("Failed to release reservation after provider failure",
				zap.String("payment_id", updated.Id),
				zap.String("wallet_id", updated.WalletId),
				zap.Error(err))
			return nil, &store.ReconciliationError{
				WalletId:    updated.WalletId,
				ReferenceId: updated.Id,
				Err:         fmt.Errorf("release after provider failure: %w", err),
			}
		}
		return updated, nil
	}
}

// settle captures the reservation into a posted DEBIT and marks the payment
// SUCCEEDED. A local failure after external capture is a reconciliation case:
// money moved at the provider but not on our books.
func (o *Orchestrator) settle(ctx context.Context, payment *models.Payment, providerTxId string) (*models.Payment, error) {
	externalTxId := o.externalTxId(payment, providerTxId)
	if _, err := o.wallets.Capture(ctx, payment.WalletId, payment.Amount, models.ReferencePayment, payment.Id, externalTxId); err != nil {
		if !errors.Is(err, store.ErrDuplicateTransaction) {
			zap.L().Error("Failed to capture reservation after provider success",
				zap.String("payment_id", payment.Id),
				zap.String("wallet_id", payment.WalletId),
				zap.Error(err))
			return nil, &store.ReconciliationError{
				WalletId:    payment.WalletId,
				ReferenceId: payment.Id,
				Err:         fmt.Errorf("capture after provider success: %w", err),
			}
		}
		// The capture already landed (confirmation replay); fall through.
	}

	updated, err := o.store.UpdatePayment(ctx, store.PaymentUpdate{
		PaymentId:             payment.Id,
		Status:                models.PaymentSucceeded,
		ExternalTransactionId: externalTxId,
		FailureCode:           "",
		ExpectedVersion:       payment.Version,
	})
	if err != nil {
		zap.L().Error("Failed to mark payment succeeded after capture",
			zap.String("payment_id", payment.Id),
			zap.Error(err))
		return nil, &store.ReconciliationError{
			WalletId:    payment.WalletId,
			ReferenceId: payment.Id,
			Err:         fmt.Errorf("payment update after capture: %w", err),
		}
	}

	zap.L().Info("Payment succeeded",
		zap.String("payment_id", updated.Id),
		zap.String("wallet_id", updated.WalletId),
		zap.String("amount", updated.Amount.String()),
		zap.String("external_tx_id", updated.ExternalTransactionId))
	return updated, nil
}

// Confirm resolves a PENDING payment once the provider's asynchronous
// confirmation arrives.
func (o *Orchestrator) Confirm(ctx context.Context, paymentId string, succeeded bool, externalTxId string) (*models.Payment, error) {
	payment, err := o.store.GetPayment(ctx, paymentId)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentPending {
		return nil, fmt.Errorf("%w: payment %s cannot be confirmed from status %s",
			store.ErrValidation, paymentId, payment.Status)
	}

	if succeeded {
		if externalTxId == "" {
			externalTxId = payment.ExternalTransactionId
		}
		return o.settle(ctx, payment, externalTxId)
	}

	// Same ordering as resolve: the FAILED transition is won first, the hold
	// is released after.
	updated, err := o.store.UpdatePayment(ctx, store.PaymentUpdate{
		PaymentId:             payment.Id,
		Status:                models.PaymentFailed,
		ExternalTransactionId: payment.ExternalTransactionId,
		FailureCode:           payment.FailureCode,
		ExpectedVersion:       payment.Version,
	})
	if err != nil {
		return nil, err
	}
	if _, err := o.wallets.Release(ctx, updated.WalletId, updated.Amount, models.ReferencePayment, updated.Id); err != nil {
		return nil, &store.ReconciliationError{
			WalletId:    updated.WalletId,
			ReferenceId: updated.Id,
			Err:         fmt.Errorf("release after failed confirmation: %w", err),
		}
	}
	return updated, nil
}

// Expire abandons a stale in-flight payment: the payment fails with the
// EXPIRED marker and its hold is released. Used by the reconciliation sweep.
//
// The caller's snapshot may be stale, so the decision is made on a fresh
// read and the hold is released only after winning the FAILED transition.
// A release issued first could free funds a concurrent resolution captured,
// eating into holds owned by other payments on the same wallet.
func (o *Orchestrator) Expire(ctx context.Context, payment *models.Payment) error {
	fresh, err := o.store.GetPayment(ctx, payment.Id)
	if err != nil {
		return err
	}
	switch fresh.Status {
	case models.PaymentInitiated, models.PaymentProcessing, models.PaymentPending:
		// proceed
	default:
		return fmt.Errorf("%w: payment %s cannot be expired from status %s",
			store.ErrValidation, fresh.Id, fresh.Status)
	}

	updated, err := o.store.UpdatePayment(ctx, store.PaymentUpdate{
		PaymentId:             fresh.Id,
		Status:                models.PaymentFailed,
		ExternalTransactionId: fresh.ExternalTransactionId,
		FailureCode:           ExpiredMarker,
		ExpectedVersion:       fresh.Version,
	})
	if err != nil {
		// Someone else resolved the payment between the read and the CAS;
		// they own the hold now.
		if errors.Is(err, store.ErrConcurrentModification) {
			zap.L().Info("Skipping expiry, payment resolved concurrently",
				zap.String("payment_id", fresh.Id))
			return nil
		}
		return err
	}

	if _, err := o.wallets.Release(ctx, updated.WalletId, updated.Amount, models.ReferencePayment, updated.Id); err != nil {
		return &store.ReconciliationError{
			WalletId:    updated.WalletId,
			ReferenceId: updated.Id,
			Err:         fmt.Errorf("release for expired payment: %w", err),
		}
	}

	zap.L().Info("Expired stale payment",
		zap.String("payment_id", updated.Id),
		zap.String("wallet_id", updated.WalletId),
		zap.String("previous_status", string(fresh.Status)))
	return nil
}

func (o *Orchestrator) validateInitiate(ctx context.Context, params InitiateParams) error {
	if params.UserId == "" {
		return fmt.Errorf("%w: user id is required", store.ErrValidation)
	}
	if params.ClientRequestId == "" {
		return fmt.Errorf("%w: client request id is required", store.ErrValidation)
	}
	if !params.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", store.ErrValidation, params.Amount.String())
	}
	if _, err := o.providers.Get(params.Provider); err != nil {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	wallet, err := o.wallets.GetBalance(ctx, params.WalletId)
	if err != nil {
		return err
	}
	if wallet.UserId != params.UserId {
		return fmt.Errorf("%w: wallet %s does not belong to user %s",
			store.ErrValidation, params.WalletId, params.UserId)
	}
	if wallet.Currency != params.Currency {
		return fmt.Errorf("%w: wallet currency %s does not match payment currency %s",
			store.ErrValidation, wallet.Currency, params.Currency)
	}
	return nil
}

func (o *Orchestrator) externalTxId(payment *models.Payment, providerTxId string) string {
	if providerTxId != "" {
		return providerTxId
	}
	return payment.ExternalTransactionId
}
