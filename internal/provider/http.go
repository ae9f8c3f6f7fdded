package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// HTTPConfig describes one provider endpoint from providers.yaml.
type HTTPConfig struct {
	Name           string `yaml:"name"`
	URL            string `yaml:"url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// HTTPProvider talks to a processor over JSON/HTTP and classifies the
// response into the failure taxonomy.
type HTTPProvider struct {
	name   string
	url    string
	apiKey string
	client http.Client
}

func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.Name == "" || cfg.URL == "" {
		return nil, fmt.Errorf("provider name and url are required")
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client, err := createCustomHTTPClient(timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	return &HTTPProvider{
		name:   cfg.Name,
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		client: client,
	}, nil
}

func createCustomHTTPClient(timeout time.Duration) (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			DualStack: true,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

func (p *HTTPProvider) Name() string { return p.name }

type chargeBody struct {
	PaymentId          string `json:"payment_id"`
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	PaymentMethodToken string `json:"payment_method_token"`
}

type chargeResponse struct {
	Status        string `json:"status"`
	Code          string `json:"code"`
	TransactionId string `json:"transaction_id"`
	Message       string `json:"message"`
}

// Charge posts the capture request. Transport failures classify as
// NETWORK_ERROR, 429 as RATE_LIMITED, 5xx as PROVIDER_UNAVAILABLE; anything
// else is read from the response body.
func (p *HTTPProvider) Charge(ctx context.Context, req ChargeRequest) Result {
	body, err := json.Marshal(chargeBody{
		PaymentId:          req.PaymentId,
		Amount:             req.Amount.String(),
		Currency:           req.Currency,
		PaymentMethodToken: req.PaymentMethodToken,
	})
	if err != nil {
		return failed(p.name, CodeInvalidCard, fmt.Sprintf("unable to encode charge request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/charges", bytes.NewReader(body))
	if err != nil {
		return failed(p.name, CodeNetworkError, fmt.Sprintf("unable to build charge request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		zap.L().Warn("Provider call failed at transport level",
			zap.String("provider", p.name),
			zap.String("payment_id", req.PaymentId),
			zap.Error(err))
		return failed(p.name, CodeNetworkError, err.Error())
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			zap.L().Warn("Failed to close response body", zap.Error(err))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return failed(p.name, CodeRateLimited, "provider rate limit exceeded")
	case resp.StatusCode >= 500:
		return failed(p.name, CodeProviderUnavailable, fmt.Sprintf("provider returned %d", resp.StatusCode))
	}

	var decoded chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return failed(p.name, CodeProviderUnavailable, fmt.Sprintf("unable to decode provider response: %v", err))
	}

	switch decoded.Status {
	case "succeeded":
		return succeeded(p.name, decoded.TransactionId)
	case "pending":
		return pending(p.name, decoded.TransactionId)
	default:
		return failed(p.name, ParseFailureCode(decoded.Code), decoded.Message)
	}
}
