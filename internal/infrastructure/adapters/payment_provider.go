package adapters

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/railguard/sentinel/internal/domain/services/payments"
)

// HTTPPaymentProvider talks to the external payment processor's REST
// API and verifies its webhook signatures. It implements
// payments.Provider.
type HTTPPaymentProvider struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	webhookSecret string
}

func NewHTTPPaymentProvider(baseURL, apiKey, webhookSecret string) *HTTPPaymentProvider {
	return &HTTPPaymentProvider{
		httpClient: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
	}
}

type createIntentPayload struct {
	Amount   string            `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

type createIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"clientSecret"`
}

func (p *HTTPPaymentProvider) CreateIntent(ctx context.Context, req payments.ProviderIntentRequest) (*payments.ProviderIntent, error) {
	body, err := json.Marshal(createIntentPayload{
		Amount:   req.Amount.StringFixed(2),
		Currency: req.Currency,
		Metadata: req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("payment provider: marshal intent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/payment_intents", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("payment provider: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("payment provider: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("payment provider: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("payment provider: status %d: %s", resp.StatusCode, string(respBody))
	}

	var out createIntentResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("payment provider: decode response: %w", err)
	}

	return &payments.ProviderIntent{ID: out.ID, ClientSecret: out.ClientSecret}, nil
}

// VerifyWebhookSignature compares an HMAC-SHA256 signature over the
// raw body against the header value, constant-time.
func (p *HTTPPaymentProvider) VerifyWebhookSignature(payload []byte, signatureHeader string) error {
	if signatureHeader == "" {
		return fmt.Errorf("payment provider: missing signature header")
	}
	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signatureHeader)) {
		return fmt.Errorf("payment provider: signature mismatch")
	}
	return nil
}

type webhookEventPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID           string `json:"id"`
			LastPaymentError struct {
				Message string `json:"message"`
			} `json:"lastPaymentError"`
		} `json:"object"`
	} `json:"data"`
}

func (p *HTTPPaymentProvider) ParseEvent(payload []byte) (*payments.ProviderEvent, error) {
	var raw webhookEventPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("payment provider: decode event: %w", err)
	}
	return &payments.ProviderEvent{
		EventID:         raw.ID,
		Type:            payments.ProviderEventType(raw.Type),
		PaymentIntentID: raw.Data.Object.ID,
		LastError:       raw.Data.Object.LastPaymentError.Message,
	}, nil
}
