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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/provider"
	"wallet-ledger-go/internal/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// userIdHeader identifies the calling user. Authentication proper sits in
// front of this service.
const userIdHeader = "X-User-Id"

// Handler owns the HTTP surface over the ledger service.
type Handler struct {
	service *LedgerService
}

func NewHandler(service *LedgerService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.HealthCheck(r.Context()); err != nil {
		zap.L().Error("Health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, models.StatusResponse{Status: "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, models.StatusResponse{Status: "ok"})
}

func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req models.CreateWalletRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	wallet, err := h.service.CreateWallet(r.Context(), r.Header.Get(userIdHeader), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.CreateWalletResponse{
		WalletId: wallet.Id,
		Balance:  wallet.Balance,
		Currency: wallet.Currency,
		Version:  wallet.Version,
	})
}

func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	var req models.TopUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	wallet, err := h.service.TopUp(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.BalanceUpdateResponse{
		NewBalance: wallet.Balance,
		Version:    wallet.Version,
	})
}

func (h *Handler) WalletPayment(w http.ResponseWriter, r *http.Request) {
	var req models.WalletPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	wallet, err := h.service.WalletPayment(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.BalanceUpdateResponse{
		NewBalance: wallet.Balance,
		Version:    wallet.Version,
	})
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	receipt, err := h.service.Transfer(r.Context(), r.Header.Get(userIdHeader), req)
	if err != nil {
		writeError(w, err)
		return
	}
	// REVERSED is a completed outcome: both legs rolled back cleanly.
	writeJSON(w, http.StatusOK, models.StatusResponse{Status: string(receipt.Status)})
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.service.GetBalance(r.Context(), chi.URLParam(r, "walletId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.BalanceResponse{
		Balance:  wallet.Balance,
		Currency: wallet.Currency,
	})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil {
		writeError(w, store.ErrValidation)
		return
	}
	records, err := h.service.GetHistory(r.Context(), chi.URLParam(r, "walletId"), page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) CloseWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.service.CloseWallet(r.Context(), chi.URLParam(r, "walletId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.BalanceUpdateResponse{
		NewBalance: wallet.Balance,
		Version:    wallet.Version,
	})
}

func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req models.InitiatePaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	payment, created, err := h.service.InitiatePayment(r.Context(), r.Header.Get(userIdHeader), req)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	message := "payment initiated"
	if !created {
		status = http.StatusOK
		message = "payment already exists"
	}
	writeJSON(w, status, models.InitiatePaymentResponse{
		Message:   message,
		PaymentId: payment.Id,
		Version:   payment.Version,
	})
}

func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req models.ProcessPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	payment, err := h.service.ProcessPayment(r.Context(), chi.URLParam(r, "paymentId"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentOutcome(payment))
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req models.ConfirmPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	payment, err := h.service.ConfirmPayment(r.Context(), chi.URLParam(r, "paymentId"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentOutcome(payment))
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.service.GetPayment(r.Context(), chi.URLParam(r, "paymentId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentOutcome(payment))
}

// paymentOutcome maps a payment record to the response body. A declined
// payment is a completed request: the outcome rides a 200, not an error.
func paymentOutcome(p *models.Payment) models.ProcessPaymentResponse {
	resp := models.ProcessPaymentResponse{Status: p.Status}
	if p.Status == models.PaymentFailed && p.FailureCode != "" {
		resp.FailureCode = p.FailureCode
		retryable := provider.FailureCode(p.FailureCode).Retryable()
		resp.Retryable = &retryable
	}
	return resp
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Error:   "VALIDATION_ERROR",
			Message: "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("Failed to encode response", zap.Error(err))
	}
}

// writeError maps the error taxonomy onto HTTP statuses. Reconciliation
// errors surface as 500 with their own tag so operators can alert on them.
func writeError(w http.ResponseWriter, err error) {
	var recErr *store.ReconciliationError
	switch {
	case errors.As(err, &recErr):
		zap.L().Error("Reconciliation required", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
			Error:   "RECONCILIATION_REQUIRED",
			Message: recErr.Error(),
		})
	case errors.Is(err, store.ErrValidation):
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Error:   "VALIDATION_ERROR",
			Message: err.Error(),
		})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{
			Error:   "NOT_FOUND",
			Message: err.Error(),
		})
	case errors.Is(err, store.ErrInsufficientFunds):
		writeJSON(w, http.StatusUnprocessableEntity, models.ErrorResponse{
			Error:   "INSUFFICIENT_FUNDS",
			Message: err.Error(),
		})
	case errors.Is(err, store.ErrConcurrencyConflict),
		errors.Is(err, store.ErrConcurrentModification):
		writeJSON(w, http.StatusConflict, models.ErrorResponse{
			Error:   "CONCURRENCY_CONFLICT",
			Message: err.Error(),
		})
	case errors.Is(err, store.ErrDuplicateTransaction):
		writeJSON(w, http.StatusConflict, models.ErrorResponse{
			Error:   "DUPLICATE_TRANSACTION",
			Message: err.Error(),
		})
	case errors.Is(err, store.ErrWalletClosed):
		writeJSON(w, http.StatusConflict, models.ErrorResponse{
			Error:   "WALLET_CLOSED",
			Message: err.Error(),
		})
	default:
		zap.L().Error("Unhandled API error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
			Error:   "INTERNAL_ERROR",
			Message: "internal server error",
		})
	}
}
