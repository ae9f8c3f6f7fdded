package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wallet-ledger-go/internal/database"
	"wallet-ledger-go/internal/ledger"
	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/payment"
	"wallet-ledger-go/internal/provider"
	"wallet-ledger-go/internal/transfer"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider returns a fixed result for every charge.
type stubProvider struct {
	result provider.Result
}

func (s *stubProvider) Name() string { return "acme-pay" }

func (s *stubProvider) Charge(context.Context, provider.ChargeRequest) provider.Result {
	return s.result
}

type fixture struct {
	router   http.Handler
	provider *stubProvider
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	svc := database.NewServiceWithDB(db)
	require.NoError(t, svc.InitSchema())

	stub := &stubProvider{result: provider.Result{
		Status:                provider.StatusSucceeded,
		Provider:              "acme-pay",
		ExternalTransactionId: "ext-1",
	}}
	registry := provider.NewRegistry(stub)

	walletLedger := ledger.New(svc, ledger.RetryPolicy{MaxAttempts: 4, Backoff: time.Microsecond})
	orchestrator := payment.NewOrchestrator(svc, walletLedger, registry, 3, time.Microsecond)
	service := NewLedgerService(svc, walletLedger, transfer.NewCoordinator(walletLedger), orchestrator)

	return &fixture{
		router:   NewRouter(NewHandler(service)),
		provider: stub,
	}
}

func (f *fixture) do(t *testing.T, method, path, userId string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if userId != "" {
		req.Header.Set("X-User-Id", userId)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func (f *fixture) createWallet(t *testing.T, userId, balance string) models.CreateWalletResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/wallet", userId, models.CreateWalletRequest{
		Balance:  decimal.RequireFromString(balance),
		Currency: "USD",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[models.CreateWalletResponse](t, rec)
}

func TestCreateWalletAndBalance(t *testing.T) {
	f := setupFixture(t)
	wallet := f.createWallet(t, "user1", "100")
	assert.Equal(t, int64(0), wallet.Version)

	rec := f.do(t, http.MethodGet, "/wallet/"+wallet.WalletId+"/balance", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decodeBody[models.BalanceResponse](t, rec)
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "USD", balance.Currency)
}

func TestCreateWallet_RequiresUser(t *testing.T) {
	f := setupFixture(t)
	rec := f.do(t, http.MethodPost, "/wallet", "", models.CreateWalletRequest{Currency: "USD"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[models.ErrorResponse](t, rec)
	assert.Equal(t, "VALIDATION_ERROR", body.Error)
}

func TestTopUpAndWalletPayment(t *testing.T) {
	f := setupFixture(t)
	wallet := f.createWallet(t, "user1", "100")

	rec := f.do(t, http.MethodPost, "/wallet/topup", "user1", models.TopUpRequest{
		WalletId: wallet.WalletId,
		Amount:   decimal.NewFromInt(50),
		Currency: "USD",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	topped := decodeBody[models.BalanceUpdateResponse](t, rec)
	assert.True(t, topped.NewBalance.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, int64(1), topped.Version)

	rec = f.do(t, http.MethodPost, "/wallet/payment", "user1", models.WalletPaymentRequest{
		WalletId:    wallet.WalletId,
		Currency:    "USD",
		ReferenceId: "order-1",
		Amount:      decimal.NewFromInt(30),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decodeBody[models.BalanceUpdateResponse](t, rec)
	assert.True(t, paid.NewBalance.Equal(decimal.NewFromInt(120)))
}

func TestWalletPayment_InsufficientFunds(t *testing.T) {
	f := setupFixture(t)
	wallet := f.createWallet(t, "user1", "10")

	rec := f.do(t, http.MethodPost, "/wallet/payment", "user1", models.WalletPaymentRequest{
		WalletId:    wallet.WalletId,
		Currency:    "USD",
		ReferenceId: "order-1",
		Amount:      decimal.NewFromInt(30),
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody[models.ErrorResponse](t, rec)
	assert.Equal(t, "INSUFFICIENT_FUNDS", body.Error)
}

func TestTransferEndpoint(t *testing.T) {
	f := setupFixture(t)
	from := f.createWallet(t, "user1", "100")
	to := f.createWallet(t, "user2", "0")

	rec := f.do(t, http.MethodPost, "/wallet/transfer", "user1", models.TransferRequest{
		ToWalletId:  to.WalletId,
		Amount:      decimal.NewFromInt(40),
		Currency:    "USD",
		ReferenceId: "xfer-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	status := decodeBody[models.StatusResponse](t, rec)
	assert.Equal(t, "COMPLETED", status.Status)

	balance := decodeBody[models.BalanceResponse](t,
		f.do(t, http.MethodGet, "/wallet/"+from.WalletId+"/balance", "", nil))
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(60)))
}

// The 422 must come back regardless of how the two wallet ids happen to
// order; the destination never keeps funds the source could not pay.
func TestTransfer_InsufficientFunds(t *testing.T) {
	f := setupFixture(t)
	from := f.createWallet(t, "user1", "10")
	to := f.createWallet(t, "user2", "0")

	rec := f.do(t, http.MethodPost, "/wallet/transfer", "user1", models.TransferRequest{
		ToWalletId:  to.WalletId,
		Amount:      decimal.NewFromInt(50),
		Currency:    "USD",
		ReferenceId: "xfer-broke",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	body := decodeBody[models.ErrorResponse](t, rec)
	assert.Equal(t, "INSUFFICIENT_FUNDS", body.Error)

	source := decodeBody[models.BalanceResponse](t,
		f.do(t, http.MethodGet, "/wallet/"+from.WalletId+"/balance", "", nil))
	assert.True(t, source.Balance.Equal(decimal.NewFromInt(10)))
	dest := decodeBody[models.BalanceResponse](t,
		f.do(t, http.MethodGet, "/wallet/"+to.WalletId+"/balance", "", nil))
	assert.True(t, dest.Balance.IsZero())
}

func TestTransfer_UnknownDestination(t *testing.T) {
	f := setupFixture(t)
	f.createWallet(t, "user1", "100")

	rec := f.do(t, http.MethodPost, "/wallet/transfer", "user1", models.TransferRequest{
		ToWalletId: "missing",
		Amount:     decimal.NewFromInt(10),
		Currency:   "USD",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryPagination(t *testing.T) {
	f := setupFixture(t)
	wallet := f.createWallet(t, "user1", "0")

	for i := 0; i < 12; i++ {
		rec := f.do(t, http.MethodPost, "/wallet/topup", "user1", models.TopUpRequest{
			WalletId: wallet.WalletId,
			Amount:   decimal.NewFromInt(1),
			Currency: "USD",
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	page1 := decodeBody[[]models.TransactionRecord](t,
		f.do(t, http.MethodGet, "/wallet/"+wallet.WalletId+"/history/1", "", nil))
	assert.Len(t, page1, 10)
	page2 := decodeBody[[]models.TransactionRecord](t,
		f.do(t, http.MethodGet, "/wallet/"+wallet.WalletId+"/history/2", "", nil))
	assert.Len(t, page2, 2)

	rec := f.do(t, http.MethodGet, "/wallet/"+wallet.WalletId+"/history/0", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCloseWalletRejectsFurtherMutations(t *testing.T) {
	f := setupFixture(t)
	wallet := f.createWallet(t, "user1", "100")

	rec := f.do(t, http.MethodDelete, "/wallet/"+wallet.WalletId, "user1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/wallet/topup", "user1", models.TopUpRequest{
		WalletId: wallet.WalletId,
		Amount:   decimal.NewFromInt(10),
		Currency: "USD",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[models.ErrorResponse](t, rec)
	assert.Equal(t, "WALLET_CLOSED", body.Error)
}

func TestPaymentLifecycle_Succeeded(t *testing.T) {
	f := setupFixture(t)
	wallet := f.createWallet(t, "user1", "100")

	rec := f.do(t, http.MethodPost, "/payments", "user1", models.InitiatePaymentRequest{
		Amount:          decimal.NewFromInt(25),
		WalletId:        wallet.WalletId,
		Currency:        "USD",
		ClientRequestId: "req-1",
		Provider:        "acme-pay",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	initiated := decodeBody[models.InitiatePaymentResponse](t, rec)

	// The hold reduces available funds but not the balance.
	balance := decodeBody[models.BalanceResponse](t,
		f.do(t, http.MethodGet, "/wallet/"+wallet.WalletId+"/balance", "", nil))
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(100)))

	rec = f.do(t, http.MethodPost, "/payments/"+initiated.PaymentId+"/process", "user1",
		models.ProcessPaymentRequest{PaymentMethodToken: "tok-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	outcome := decodeBody[models.ProcessPaymentResponse](t, rec)
	assert.Equal(t, models.PaymentSucceeded, outcome.Status)

	balance = decodeBody[models.BalanceResponse](t,
		f.do(t, http.MethodGet, "/wallet/"+wallet.WalletId+"/balance", "", nil))
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(75)))
}

func TestPaymentInitiate_IdempotentReplay(t *testing.T) {
	f := setupFixture(t)
	wallet := f.createWallet(t, "user1", "100")

	req := models.InitiatePaymentRequest{
		Amount:          decimal.NewFromInt(25),
		WalletId:        wallet.WalletId,
		Currency:        "USD",
		ClientRequestId: "req-1",
		Provider:        "acme-pay",
	}
	first := f.do(t, http.MethodPost, "/payments", "user1", req)
	require.Equal(t, http.StatusCreated, first.Code)
	created := decodeBody[models.InitiatePaymentResponse](t, first)

	second := f.do(t, http.MethodPost, "/payments", "user1", req)
	require.Equal(t, http.StatusOK, second.Code)
	replayed := decodeBody[models.InitiatePaymentResponse](t, second)
	assert.Equal(t, created.PaymentId, replayed.PaymentId)
}

func TestPaymentProcess_DeclineIsA200(t *testing.T) {
	f := setupFixture(t)
	wallet := f.createWallet(t, "user1", "100")
	f.provider.result = provider.Result{
		Status:    provider.StatusFailed,
		Code:      provider.CodeCardDeclined,
		Provider:  "acme-pay",
		Retryable: false,
	}

	rec := f.do(t, http.MethodPost, "/payments", "user1", models.InitiatePaymentRequest{
		Amount:          decimal.NewFromInt(25),
		WalletId:        wallet.WalletId,
		Currency:        "USD",
		ClientRequestId: "req-1",
		Provider:        "acme-pay",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	initiated := decodeBody[models.InitiatePaymentResponse](t, rec)

	rec = f.do(t, http.MethodPost, "/payments/"+initiated.PaymentId+"/process", "user1",
		models.ProcessPaymentRequest{PaymentMethodToken: "tok-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	outcome := decodeBody[models.ProcessPaymentResponse](t, rec)
	assert.Equal(t, models.PaymentFailed, outcome.Status)
	assert.Equal(t, string(provider.CodeCardDeclined), outcome.FailureCode)
	require.NotNil(t, outcome.Retryable)
	assert.False(t, *outcome.Retryable)

	// The hold was released.
	balance := decodeBody[models.BalanceResponse](t,
		f.do(t, http.MethodGet, "/wallet/"+wallet.WalletId+"/balance", "", nil))
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(100)))
}

func TestPaymentProcess_StaleVersionConflict(t *testing.T) {
	f := setupFixture(t)
	wallet := f.createWallet(t, "user1", "100")

	rec := f.do(t, http.MethodPost, "/payments", "user1", models.InitiatePaymentRequest{
		Amount:          decimal.NewFromInt(25),
		WalletId:        wallet.WalletId,
		Currency:        "USD",
		ClientRequestId: "req-1",
		Provider:        "acme-pay",
	})
	initiated := decodeBody[models.InitiatePaymentResponse](t, rec)

	stale := int64(42)
	rec = f.do(t, http.MethodPost, "/payments/"+initiated.PaymentId+"/process", "user1",
		models.ProcessPaymentRequest{PaymentMethodToken: "tok-1", ExpectedVersion: &stale})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[models.ErrorResponse](t, rec)
	assert.Equal(t, "CONCURRENCY_CONFLICT", body.Error)
}

func TestPaymentConfirmEndpoint(t *testing.T) {
	f := setupFixture(t)
	wallet := f.createWallet(t, "user1", "100")
	f.provider.result = provider.Result{
		Status:                provider.StatusPending,
		Provider:              "acme-pay",
		ExternalTransactionId: "ext-9",
	}

	rec := f.do(t, http.MethodPost, "/payments", "user1", models.InitiatePaymentRequest{
		Amount:          decimal.NewFromInt(25),
		WalletId:        wallet.WalletId,
		Currency:        "USD",
		ClientRequestId: "req-1",
		Provider:        "acme-pay",
	})
	initiated := decodeBody[models.InitiatePaymentResponse](t, rec)

	rec = f.do(t, http.MethodPost, "/payments/"+initiated.PaymentId+"/process", "user1",
		models.ProcessPaymentRequest{PaymentMethodToken: "tok-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	outcome := decodeBody[models.ProcessPaymentResponse](t, rec)
	require.Equal(t, models.PaymentPending, outcome.Status)

	rec = f.do(t, http.MethodPost, "/payments/"+initiated.PaymentId+"/confirm", "user1",
		models.ConfirmPaymentRequest{Succeeded: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	confirmed := decodeBody[models.ProcessPaymentResponse](t, rec)
	assert.Equal(t, models.PaymentSucceeded, confirmed.Status)

	balance := decodeBody[models.BalanceResponse](t,
		f.do(t, http.MethodGet, "/wallet/"+wallet.WalletId+"/balance", "", nil))
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(75)))
}

func TestHealthEndpoint(t *testing.T) {
	f := setupFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[models.StatusResponse](t, rec)
	assert.Equal(t, "ok", body.Status)
}
