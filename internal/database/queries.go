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

package database

const (
	// Wallet queries
	queryInsertWallet = `
		INSERT INTO wallets (id, user_id, balance, reserved, currency, version, closed)
		VALUES (?, ?, ?, ?, ?, ?, 0)`

	queryGetWallet = `
		SELECT id, user_id, balance, reserved, currency, version, closed, created_at, updated_at
		FROM wallets
		WHERE id = ?`

	queryFindWalletByUser = `
		SELECT id, user_id, balance, reserved, currency, version, closed, created_at, updated_at
		FROM wallets
		WHERE user_id = ? AND currency = ?
		ORDER BY created_at
		LIMIT 1`

	queryListWallets = `
		SELECT id, user_id, balance, reserved, currency, version, closed, created_at, updated_at
		FROM wallets
		ORDER BY created_at`

	queryUpdateWallet = `
		UPDATE wallets
		SET balance = ?, reserved = ?, closed = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?`

	// Transaction queries
	queryCheckDuplicateTransaction = `
		SELECT id FROM transactions WHERE external_transaction_id = ? LIMIT 1`

	queryInsertTransaction = `
		INSERT INTO transactions (id, wallet_id, type, amount, reference_type, reference_id,
			external_transaction_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetTransactionHistory = `
		SELECT id, wallet_id, type, amount, reference_type, reference_id,
		       external_transaction_id, status, created_at
		FROM transactions
		WHERE wallet_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`

	queryListPostedTransactions = `
		SELECT type, amount
		FROM transactions
		WHERE wallet_id = ? AND status = 'POSTED'`

	// Payment queries
	queryInsertPayment = `
		INSERT INTO payments (id, user_id, wallet_id, amount, currency, client_request_id,
			provider, external_transaction_id, status, failure_code, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetPayment = `
		SELECT id, user_id, wallet_id, amount, currency, client_request_id, provider,
		       external_transaction_id, status, failure_code, version, created_at, updated_at
		FROM payments
		WHERE id = ?`

	queryFindPaymentByRequestId = `
		SELECT id, user_id, wallet_id, amount, currency, client_request_id, provider,
		       external_transaction_id, status, failure_code, version, created_at, updated_at
		FROM payments
		WHERE user_id = ? AND client_request_id = ?`

	queryUpdatePayment = `
		UPDATE payments
		SET status = ?, external_transaction_id = ?, failure_code = ?, version = version + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?`

	queryListStalePayments = `
		SELECT id, user_id, wallet_id, amount, currency, client_request_id, provider,
		       external_transaction_id, status, failure_code, version, created_at, updated_at
		FROM payments
		WHERE status IN ('INITIATED', 'PROCESSING', 'PENDING') AND updated_at < ?
		ORDER BY updated_at
		LIMIT ?`
)
