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
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id"},
		AllowCredentials: false,
	}))

	r.Get("/health", h.Health)

	r.Route("/wallet", func(r chi.Router) {
		r.Post("/", h.CreateWallet)
		r.Post("/topup", h.TopUp)
		r.Post("/payment", h.WalletPayment)
		r.Post("/transfer", h.Transfer)
		r.Get("/{walletId}/balance", h.GetBalance)
		r.Get("/{walletId}/history/{page}", h.GetHistory)
		r.Delete("/{walletId}", h.CloseWallet)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/", h.InitiatePayment)
		r.Get("/{paymentId}", h.GetPayment)
		r.Post("/{paymentId}/process", h.ProcessPayment)
		r.Post("/{paymentId}/confirm", h.ConfirmPayment)
	})

	return r
}
