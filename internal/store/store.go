package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	// ErrNotFound reports an unknown wallet or payment id.
	ErrNotFound = errors.New("record not found")

	// ErrValidation reports malformed or out-of-range input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientFunds reports a debit or reservation that would take the
	// available balance below zero. The wallet is left unchanged.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConcurrentModification reports a single failed compare-and-swap
	// attempt: another writer committed between the read and the write.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrConcurrencyConflict reports a CAS retry budget exhausted. Surfaced to
	// the caller, who may retry the whole operation.
	ErrConcurrencyConflict = errors.New("concurrency conflict: retries exhausted")

	// ErrDuplicateTransaction reports an external transaction id already
	// present in the append-only log.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrDuplicatePayment reports a (user, clientRequestId) pair that already
	// maps to a payment row.
	ErrDuplicatePayment = errors.New("duplicate payment request")

	// ErrWalletClosed reports a mutation attempted on a closed wallet.
	ErrWalletClosed = errors.New("wallet is closed")
)

// ReconciliationError reports that a compensating action itself failed and the
// books need manual attention. It is fatal and must never be silently retried.
type ReconciliationError struct {
	WalletId    string
	ReferenceId string
	Err         error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("manual reconciliation required for wallet %s (reference %s): %v",
		e.WalletId, e.ReferenceId, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// TransactionAppend is one log row written atomically with a wallet CAS.
type TransactionAppend struct {
	Type                  models.TransactionType
	Amount                decimal.Decimal
	ReferenceType         models.ReferenceType
	ReferenceId           string
	ExternalTransactionId string
	Status                string
}

// WalletUpdate is a compare-and-swap write of a wallet row. Balance and
// Reserved are the full new values computed from the read at ExpectedVersion;
// the committed version is ExpectedVersion+1. Append rows land in the same
// storage transaction.
type WalletUpdate struct {
	WalletId        string
	Balance         decimal.Decimal
	Reserved        decimal.Decimal
	Closed          bool
	ExpectedVersion int64
	Append          []TransactionAppend
}

// PaymentUpdate is a compare-and-swap write of a payment row.
type PaymentUpdate struct {
	PaymentId             string
	Status                models.PaymentStatus
	ExternalTransactionId string
	FailureCode           string
	ExpectedVersion       int64
}

// LedgerStore defines the contract that every backend (SQLite, Postgres, ...)
// must satisfy. Wallet rows are mutated only through UpdateWallet; transaction
// rows are write-once.
type LedgerStore interface {
	// --- Wallets ---
	CreateWallet(ctx context.Context, wallet *models.Wallet) error
	GetWallet(ctx context.Context, walletId string) (*models.Wallet, error)
	FindWalletByUser(ctx context.Context, userId, currency string) (*models.Wallet, error)
	ListWallets(ctx context.Context) ([]models.Wallet, error)
	UpdateWallet(ctx context.Context, upd WalletUpdate) (*models.Wallet, error)

	// --- Transactions ---
	GetTransactionHistory(ctx context.Context, walletId string, limit, offset int) ([]models.Transaction, error)
	ReconcileWallet(ctx context.Context, walletId string) error

	// --- Payments ---
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, paymentId string) (*models.Payment, error)
	FindPaymentByRequestId(ctx context.Context, userId, clientRequestId string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, upd PaymentUpdate) (*models.Payment, error)
	ListStalePayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error)

	// --- Lifecycle ---
	Ping(ctx context.Context) error
	Close()
}
