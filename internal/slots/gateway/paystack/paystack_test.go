package paystack

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examreg/internal/platform/config"
	"examreg/internal/slots/models"
	"examreg/internal/slots/ports"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(config.GatewayConfig{
		BaseURL:       server.URL,
		SecretKey:     "sk_test_secret",
		WebhookSecret: "whsec_test",
		CallbackURL:   "https://examreg.test/payment/callback",
		Timeout:       2 * time.Second,
	})
}

func TestInitialize(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{
			"status": true,
			"message": "Authorization URL created",
			"data": {
				"authorization_url": "https://checkout.paystack.com/abc123",
				"access_code": "abc123",
				"reference": "SLOTS-ref-1"
			}
		}`))
	})

	init, err := client.Initialize(context.Background(), ports.GatewayInitializeRequest{
		Email:     "coordinator@example.com",
		Amount:    1500000,
		Reference: "SLOTS-ref-1",
		SplitCode: "SPL_xyz",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/abc123", init.AuthorizationURL)
	assert.Equal(t, "SLOTS-ref-1", string(init.Reference))
}

func TestInitializeRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status": false, "message": "Invalid amount"}`))
	})

	_, err := client.Initialize(context.Background(), ports.GatewayInitializeRequest{
		Email:     "coordinator@example.com",
		Amount:    -5,
		Reference: "SLOTS-ref-2",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrGatewayRejected))
	assert.Contains(t, err.Error(), "Invalid amount")
}

func TestCheckStatusSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/SLOTS-ref-3", r.URL.Path)
		w.Write([]byte(`{
			"status": true,
			"message": "Verification successful",
			"data": {
				"status": "success",
				"id": 987654,
				"amount": 1500000,
				"paid_at": "2026-08-30T10:15:00Z"
			}
		}`))
	})

	charge, err := client.CheckStatus(context.Background(), "SLOTS-ref-3")
	require.NoError(t, err)
	assert.Equal(t, ports.GatewaySuccess, charge.Status)
	assert.Equal(t, int64(1500000), charge.Amount)
	assert.Equal(t, "987654", charge.TransactionID)
	require.NotNil(t, charge.PaidAt)
}

func TestCheckStatusMapping(t *testing.T) {
	cases := map[string]ports.GatewayStatus{
		"success":   ports.GatewaySuccess,
		"failed":    ports.GatewayFailed,
		"reversed":  ports.GatewayFailed,
		"abandoned": ports.GatewayPending,
		"ongoing":   ports.GatewayPending,
		"weird":     ports.GatewayPending,
	}
	for raw, want := range cases {
		assert.Equal(t, want, mapStatus(raw), "status %q", raw)
	}
}

func TestCheckStatusServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.CheckStatus(context.Background(), "SLOTS-ref-4")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrGatewayUnavailable))
}

func TestValidateWebhookSignature(t *testing.T) {
	client := New(config.GatewayConfig{WebhookSecret: "whsec_test"})
	body := []byte(`{"event":"charge.success"}`)

	mac := hmac.New(sha512.New, []byte("whsec_test"))
	mac.Write(body)
	valid := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, client.ValidateWebhookSignature(body, valid))
	assert.False(t, client.ValidateWebhookSignature(body, "deadbeef"))
	assert.False(t, client.ValidateWebhookSignature(body, ""))
	assert.False(t, client.ValidateWebhookSignature([]byte("tampered"), valid))
}
