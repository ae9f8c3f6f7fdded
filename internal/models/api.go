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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateWalletRequest opens a wallet for the calling user.
type CreateWalletRequest struct {
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

// CreateWalletResponse returns the new wallet identity.
type CreateWalletResponse struct {
	WalletId string          `json:"walletId"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
	Version  int64           `json:"version"`
}

// TopUpRequest credits a wallet.
type TopUpRequest struct {
	WalletId string          `json:"walletId"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// WalletPaymentRequest debits a wallet against a business reference.
type WalletPaymentRequest struct {
	WalletId    string          `json:"walletId"`
	Currency    string          `json:"currency"`
	ReferenceId string          `json:"referenceId"`
	Amount      decimal.Decimal `json:"amount"`
}

// TransferRequest moves funds from the caller's wallet to another wallet.
type TransferRequest struct {
	ToWalletId  string          `json:"toWalletId"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	ReferenceId string          `json:"referenceId"`
}

// BalanceUpdateResponse returns the committed state after a mutation.
type BalanceUpdateResponse struct {
	NewBalance decimal.Decimal `json:"newBalance"`
	Version    int64           `json:"version"`
}

// BalanceResponse returns the current balance of a wallet.
type BalanceResponse struct {
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

// StatusResponse reports the outcome of an orchestrated operation.
type StatusResponse struct {
	Status string `json:"status"`
}

// TransactionRecord is one entry of a wallet's history page.
type TransactionRecord struct {
	Id            string          `json:"id"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	ReferenceType ReferenceType   `json:"referenceType"`
	ReferenceId   string          `json:"referenceId,omitempty"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// InitiatePaymentRequest starts (or idempotently replays) a payment.
type InitiatePaymentRequest struct {
	Amount                decimal.Decimal `json:"amount"`
	WalletId              string          `json:"walletId"`
	Currency              string          `json:"currency"`
	ClientRequestId       string          `json:"clientRequestId"`
	Provider              string          `json:"provider"`
	ExternalTransactionId string          `json:"externalTransactionId,omitempty"`
}

// InitiatePaymentResponse identifies the payment owning the idempotency key.
type InitiatePaymentResponse struct {
	Message   string `json:"message"`
	PaymentId string `json:"paymentId"`
	Version   int64  `json:"version"`
}

// ProcessPaymentRequest drives the payment state machine. ExpectedVersion is
// optional; when set, a stale version is rejected before the provider call.
type ProcessPaymentRequest struct {
	PaymentMethodToken string `json:"paymentMethodToken"`
	ExpectedVersion    *int64 `json:"expectedVersion,omitempty"`
}

// ProcessPaymentResponse reports the resulting payment state.
type ProcessPaymentResponse struct {
	Status      PaymentStatus `json:"status"`
	FailureCode string        `json:"failureCode,omitempty"`
	Retryable   *bool         `json:"retryable,omitempty"`
}

// ConfirmPaymentRequest resolves a PENDING payment once the provider's
// asynchronous confirmation arrives.
type ConfirmPaymentRequest struct {
	Succeeded             bool   `json:"succeeded"`
	ExternalTransactionId string `json:"externalTransactionId,omitempty"`
}

// ErrorResponse is the uniform failure body. Error carries the taxonomy tag;
// Retryable is present only for provider failures.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable *bool  `json:"retryable,omitempty"`
}
