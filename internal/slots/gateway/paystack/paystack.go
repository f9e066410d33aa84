// Package paystack adapts the Paystack REST API to the payment gateway port.
// Amounts are in kobo throughout.
package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"examreg/internal/platform/config"
	"examreg/internal/slots/metrics"
	"examreg/internal/slots/models"
	"examreg/internal/slots/ports"
	id "examreg/pkg/domain"
)

type Client struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	callbackURL   string
	httpClient    *http.Client
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(cfg config.GatewayConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:       cfg.BaseURL,
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		callbackURL:   cfg.CallbackURL,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type initializePayload struct {
	Email       string            `json:"email"`
	Amount      string            `json:"amount"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	SplitCode   string            `json:"split_code,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Status string `json:"status"`
	ID     int64  `json:"id"`
	Amount int64  `json:"amount"`
	PaidAt string `json:"paid_at"`
}

func (c *Client) Initialize(ctx context.Context, req ports.GatewayInitializeRequest) (*ports.GatewayInitialization, error) {
	payload := initializePayload{
		Email:       req.Email,
		Amount:      strconv.FormatInt(req.Amount, 10),
		Reference:   string(req.Reference),
		CallbackURL: c.callbackURL,
		SplitCode:   req.SplitCode,
		Metadata:    req.Metadata,
	}

	var data initializeData
	if err := c.post(ctx, "/transaction/initialize", payload, &data); err != nil {
		return nil, err
	}
	return &ports.GatewayInitialization{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        id.PaymentReference(data.Reference),
	}, nil
}

func (c *Client) CheckStatus(ctx context.Context, reference id.PaymentReference) (*ports.GatewayCharge, error) {
	start := time.Now()
	var data verifyData
	err := c.get(ctx, "/transaction/verify/"+string(reference), &data)
	c.metrics.ObserveVerifyLatency(time.Since(start))
	if err != nil {
		return nil, err
	}

	charge := &ports.GatewayCharge{
		Status:        mapStatus(data.Status),
		Amount:        data.Amount,
		TransactionID: strconv.FormatInt(data.ID, 10),
	}
	if data.PaidAt != "" {
		if paidAt, err := time.Parse(time.RFC3339, data.PaidAt); err == nil {
			charge.PaidAt = &paidAt
		}
	}
	return charge, nil
}

// ValidateWebhookSignature checks the x-paystack-signature header: an
// HMAC-SHA512 of the raw body keyed with the webhook secret.
func (c *Client) ValidateWebhookSignature(body []byte, signature string) bool {
	if c.webhookSecret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(c.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func mapStatus(status string) ports.GatewayStatus {
	switch status {
	case "success":
		return ports.GatewaySuccess
	case "failed", "reversed":
		return ports.GatewayFailed
	default:
		// "abandoned", "ongoing", "processing" and anything unrecognized stay
		// pending; the sweep will abandon the order if nothing lands.
		return ports.GatewayPending
	}
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal gateway request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.IncrementGatewayError("transport")
		c.logger.Error("gateway request failed", "path", req.URL.Path, "error", err)
		return fmt.Errorf("%w: %v", models.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.metrics.IncrementGatewayError("transport")
		return fmt.Errorf("%w: read response: %v", models.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		c.metrics.IncrementGatewayError("server")
		return fmt.Errorf("%w: status %d", models.ErrGatewayUnavailable, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.metrics.IncrementGatewayError("decode")
		return fmt.Errorf("%w: decode response: %v", models.ErrGatewayUnavailable, err)
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Status {
		c.metrics.IncrementGatewayError("rejected")
		return fmt.Errorf("%w: %s", models.ErrGatewayRejected, env.Message)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			c.metrics.IncrementGatewayError("decode")
			return fmt.Errorf("%w: decode data: %v", models.ErrGatewayUnavailable, err)
		}
	}
	return nil
}
