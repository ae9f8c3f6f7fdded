package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionCredit  TransactionType = "CREDIT"
	TransactionDebit   TransactionType = "DEBIT"
	TransactionReserve TransactionType = "RESERVE"
)

// ReferenceType names the business operation a ledger entry belongs to.
type ReferenceType string

const (
	ReferencePayment         ReferenceType = "PAYMENT"
	ReferenceOrder           ReferenceType = "ORDER"
	ReferenceRefund          ReferenceType = "REFUND"
	ReferenceAdminAdjustment ReferenceType = "ADMIN_ADJUSTMENT"
	ReferenceTransfer        ReferenceType = "TRANSFER"
)

// Transaction statuses. POSTED entries count toward the wallet balance;
// HELD and RELEASED entries are the audit trail of reservations.
const (
	TransactionPosted   = "POSTED"
	TransactionHeld     = "HELD"
	TransactionReleased = "RELEASED"
)

// PaymentStatus is a state of the payment lifecycle.
type PaymentStatus string

const (
	PaymentInitiated  PaymentStatus = "INITIATED"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentSucceeded  PaymentStatus = "SUCCEEDED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentPending    PaymentStatus = "PENDING"
)

// Terminal reports whether no further transition is allowed from s.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentSucceeded || s == PaymentFailed
}

// Wallet represents current balance state (hot data). Balance is the posted
// total; Reserved is earmarked by in-flight payments and is not spendable.
type Wallet struct {
	Id        string          `db:"id"`
	UserId    string          `db:"user_id"`
	Balance   decimal.Decimal `db:"balance"`
	Reserved  decimal.Decimal `db:"reserved"`
	Currency  string          `db:"currency"`
	Version   int64           `db:"version"`
	Closed    bool            `db:"closed"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// Available is the balance spendable by new debits and reservations.
func (w *Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.Reserved)
}

// Transaction represents immutable transaction history (cold data).
// Amount is always positive; Type carries the sign.
type Transaction struct {
	Id                    string          `db:"id"`
	WalletId              string          `db:"wallet_id"`
	Type                  TransactionType `db:"type"`
	Amount                decimal.Decimal `db:"amount"`
	ReferenceType         ReferenceType   `db:"reference_type"`
	ReferenceId           string          `db:"reference_id"`
	ExternalTransactionId string          `db:"external_transaction_id"`
	Status                string          `db:"status"`
	CreatedAt             time.Time       `db:"created_at"`
}

// Payment is the lifecycle record for one capture with an external provider.
// ClientRequestId is the caller-supplied idempotency key, unique per user for
// the lifetime of the record.
type Payment struct {
	Id                    string          `db:"id"`
	UserId                string          `db:"user_id"`
	WalletId              string          `db:"wallet_id"`
	Amount                decimal.Decimal `db:"amount"`
	Currency              string          `db:"currency"`
	ClientRequestId       string          `db:"client_request_id"`
	Provider              string          `db:"provider"`
	ExternalTransactionId string          `db:"external_transaction_id"`
	Status                PaymentStatus   `db:"status"`
	FailureCode           string          `db:"failure_code"`
	Version               int64           `db:"version"`
	CreatedAt             time.Time       `db:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at"`
}
