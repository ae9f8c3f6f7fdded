package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailureCodeRetryable(t *testing.T) {
	tests := []struct {
		code      FailureCode
		retryable bool
	}{
		{CodeCardDeclined, false},
		{CodeInsufficientFunds, false},
		{CodeExpiredCard, false},
		{CodeInvalidCard, false},
		{CodeFraudSuspected, false},
		{CodeNetworkError, true},
		{CodeProviderUnavailable, true},
		{CodeRateLimited, true},
		{CodeTransactionNotFound, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.retryable, tc.code.Retryable(), "code %s", tc.code)
	}
}

func TestParseFailureCode_UnknownIsTerminal(t *testing.T) {
	code := ParseFailureCode("SOMETHING_NEW")
	assert.Equal(t, CodeCardDeclined, code)
	assert.False(t, code.Retryable())
}

func newTestProvider(t *testing.T, url string) *HTTPProvider {
	t.Helper()
	p, err := NewHTTPProvider(HTTPConfig{
		Name:           "acme-pay",
		URL:            url,
		APIKey:         "test-key",
		TimeoutSeconds: 5,
	})
	require.NoError(t, err)
	return p
}

func chargeRequest() ChargeRequest {
	return ChargeRequest{
		PaymentId:          "pay-1",
		Amount:             decimal.NewFromInt(25),
		Currency:           "USD",
		PaymentMethodToken: "tok-1",
		IdempotencyKey:     "pay-1",
	}
}

func TestCharge_Succeeded(t *testing.T) {
	var gotIdempotencyKey, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdempotencyKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/charges", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "25", body["amount"])

		json.NewEncoder(w).Encode(map[string]string{
			"status":         "succeeded",
			"transaction_id": "ext-1",
		})
	}))
	defer server.Close()

	result := newTestProvider(t, server.URL).Charge(context.Background(), chargeRequest())
	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, "ext-1", result.ExternalTransactionId)
	assert.Equal(t, "pay-1", gotIdempotencyKey)
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestCharge_Pending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"status":         "pending",
			"transaction_id": "ext-2",
		})
	}))
	defer server.Close()

	result := newTestProvider(t, server.URL).Charge(context.Background(), chargeRequest())
	assert.Equal(t, StatusPending, result.Status)
	assert.Equal(t, "ext-2", result.ExternalTransactionId)
}

func TestCharge_Declined(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "failed",
			"code":    "EXPIRED_CARD",
			"message": "card expired 12/24",
		})
	}))
	defer server.Close()

	result := newTestProvider(t, server.URL).Charge(context.Background(), chargeRequest())
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, CodeExpiredCard, result.Code)
	assert.False(t, result.Retryable)
	assert.Equal(t, "card expired 12/24", result.Message)
}

func TestCharge_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	result := newTestProvider(t, server.URL).Charge(context.Background(), chargeRequest())
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, CodeRateLimited, result.Code)
	assert.True(t, result.Retryable)
}

func TestCharge_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	result := newTestProvider(t, server.URL).Charge(context.Background(), chargeRequest())
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, CodeProviderUnavailable, result.Code)
	assert.True(t, result.Retryable)
}

func TestCharge_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	result := newTestProvider(t, server.URL).Charge(context.Background(), chargeRequest())
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, CodeNetworkError, result.Code)
	assert.True(t, result.Retryable)
}

func TestRegistry(t *testing.T) {
	p := newTestProvider(t, "https://example.com")
	r := NewRegistry(p)

	got, err := r.Get("acme-pay")
	require.NoError(t, err)
	assert.Equal(t, "acme-pay", got.Name())

	_, err = r.Get("unknown")
	assert.Error(t, err)
	assert.Equal(t, []string{"acme-pay"}, r.Names())
}

func TestLoadRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	content := []byte(`providers:
  - name: acme-pay
    url: https://acme.example.com
    api_key: k1
    timeout_seconds: 5
  - name: globex-payments
    url: https://globex.example.com
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	registry, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Len(t, registry.Names(), 2)

	_, err = LoadRegistry(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRegistry_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers:\n  - url: https://x.example.com\n"), 0o600))

	_, err := LoadRegistry(path)
	assert.ErrorContains(t, err, "missing name")
}
