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

package provider

import (
	"context"

	"github.com/shopspring/decimal"
)

// FailureCode classifies a provider call outcome.
type FailureCode string

const (
	CodeCardDeclined        FailureCode = "CARD_DECLINED"
	CodeInsufficientFunds   FailureCode = "INSUFFICIENT_FUNDS"
	CodeExpiredCard         FailureCode = "EXPIRED_CARD"
	CodeInvalidCard         FailureCode = "INVALID_CARD"
	CodeFraudSuspected      FailureCode = "FRAUD_SUSPECTED"
	CodeNetworkError        FailureCode = "NETWORK_ERROR"
	CodeProviderUnavailable FailureCode = "PROVIDER_UNAVAILABLE"
	CodeRateLimited         FailureCode = "RATE_LIMITED"
	CodeTransactionNotFound FailureCode = "TRANSACTION_NOT_FOUND"
)

// Retryable reports whether the orchestrator may retry the call. Only
// transport-level failures qualify; every decline is terminal.
func (c FailureCode) Retryable() bool {
	switch c {
	case CodeNetworkError, CodeProviderUnavailable, CodeRateLimited:
		return true
	}
	return false
}

// ParseFailureCode maps a provider's code string onto the taxonomy. Unknown
// codes classify as a terminal decline so a misbehaving provider can never
// trigger an internal retry loop.
func ParseFailureCode(code string) FailureCode {
	switch FailureCode(code) {
	case CodeCardDeclined, CodeInsufficientFunds, CodeExpiredCard, CodeInvalidCard,
		CodeFraudSuspected, CodeNetworkError, CodeProviderUnavailable,
		CodeRateLimited, CodeTransactionNotFound:
		return FailureCode(code)
	}
	return CodeCardDeclined
}

// Status is the tag of a Result.
type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusPending   Status = "PENDING"
	StatusFailed    Status = "FAILED"
)

// Result is the tagged outcome of a provider call. Declines travel here, not
// as Go errors; callers branch on Status and Code instead of catching.
type Result struct {
	Status                Status
	Code                  FailureCode
	Retryable             bool
	Provider              string
	ExternalTransactionId string
	Message               string
}

func succeeded(provider, externalTxId string) Result {
	return Result{Status: StatusSucceeded, Provider: provider, ExternalTransactionId: externalTxId}
}

func pending(provider, externalTxId string) Result {
	return Result{Status: StatusPending, Provider: provider, ExternalTransactionId: externalTxId}
}

func failed(provider string, code FailureCode, message string) Result {
	return Result{
		Status:    StatusFailed,
		Code:      code,
		Retryable: code.Retryable(),
		Provider:  provider,
		Message:   message,
	}
}

// ChargeRequest asks a provider to capture funds from a payment method.
// IdempotencyKey makes a replayed capture safe on the provider side.
type ChargeRequest struct {
	PaymentId          string
	Amount             decimal.Decimal
	Currency           string
	PaymentMethodToken string
	IdempotencyKey     string
}

// Provider is one external payment processor. Implementations classify; they
// never retry - retry policy is owned by the payment orchestrator.
type Provider interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) Result
}
