package stripe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	ierr "github.com/smallbiznis/payflow/internal/errors"
	"github.com/smallbiznis/payflow/internal/payment/domain"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	var opts []stripeapi.ClientOption
	if handler != nil {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)
		backends := stripeapi.NewBackendsWithConfig(&stripeapi.BackendConfig{
			URL:               stripeapi.String(server.URL),
			HTTPClient:        server.Client(),
			MaxNetworkRetries: stripeapi.Int64(0),
			LeveledLogger:     &stripeapi.LeveledLogger{Level: stripeapi.LevelNull},
		})
		opts = append(opts, stripeapi.WithBackends(backends))
	}
	adapter, err := NewFactory(opts...).NewAdapter(domain.AdapterConfig{
		Provider: ProviderName,
		Config:   map[string]any{"secret_key": "sk_test_123", "webhook_secret": testWebhookSecret},
	})
	require.NoError(t, err)
	return adapter.(*Adapter)
}

func TestFactoryRequiresSecrets(t *testing.T) {
	_, err := NewFactory().NewAdapter(domain.AdapterConfig{Config: map[string]any{"secret_key": "sk"}})
	require.Error(t, err)
	assert.True(t, ierr.Is(err, domain.ErrInvalidConfig))

	_, err = NewFactory().NewAdapter(domain.AdapterConfig{Config: map[string]any{"webhook_secret": "whsec"}})
	require.Error(t, err)
	assert.True(t, ierr.Is(err, domain.ErrInvalidConfig))
}

func TestCreateSendsMinorUnits(t *testing.T) {
	var form url.Values
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "payment-abc", r.Header.Get("Idempotency-Key"))
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_1","object":"payment_intent","status":"requires_capture","amount":2550,"currency":"eur"}`))
	})

	res, err := adapter.Create(context.Background(), domain.CreateRequest{
		Amount:         decimal.RequireFromString("25.50"),
		Currency:       "EUR",
		CustomerID:     "cus_1",
		PaymentMethod:  "pm_card_visa",
		Metadata:       map[string]string{"order": "42"},
		IdempotencyKey: "payment-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", res.ExternalID)
	assert.Equal(t, "requires_capture", res.Status)

	assert.Equal(t, "2550", form.Get("amount"))
	assert.Equal(t, "eur", form.Get("currency"))
	assert.Equal(t, "manual", form.Get("capture_method"))
	assert.Equal(t, "pm_card_visa", form.Get("payment_method"))
	assert.Equal(t, "42", form.Get("metadata[order]"))
	assert.Equal(t, "cus_1", form.Get("metadata[customer_id]"))
}

func TestCaptureMapsDecline(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents/pi_1/capture", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
	})

	_, err := adapter.Capture(context.Background(), "pi_1")
	require.Error(t, err)
	assert.True(t, ierr.IsProcessing(err))
	assert.True(t, ierr.Is(err, ierr.ErrDeclined))
	assert.Contains(t, ierr.Hints(err), "Your card was declined.")
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{
			name:  "rate limited",
			err:   &stripeapi.Error{HTTPStatusCode: http.StatusTooManyRequests, Code: stripeapi.ErrorCodeRateLimit},
			check: ierr.IsRateLimited,
		},
		{
			name:  "authentication",
			err:   &stripeapi.Error{HTTPStatusCode: http.StatusUnauthorized, Type: stripeapi.ErrorTypeInvalidRequest},
			check: func(err error) bool { return ierr.Is(err, ierr.ErrAuthentication) && ierr.IsProcessing(err) },
		},
		{
			name:  "missing",
			err:   &stripeapi.Error{HTTPStatusCode: http.StatusNotFound, Code: stripeapi.ErrorCodeResourceMissing},
			check: ierr.IsNotFound,
		},
		{
			name:  "api error",
			err:   &stripeapi.Error{HTTPStatusCode: http.StatusInternalServerError, Type: stripeapi.ErrorTypeAPI},
			check: ierr.IsProcessing,
		},
		{
			name:  "transport",
			err:   io.ErrUnexpectedEOF,
			check: ierr.IsProcessing,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(mapError("capture", tt.err)))
		})
	}
}

func TestVerifyWebhook(t *testing.T) {
	adapter := newTestAdapter(t, nil)
	payload, err := json.Marshal(map[string]any{
		"id":   "evt_1",
		"type": "charge.refunded",
		"data": map[string]any{
			"object": map[string]any{
				"id":             "ch_1",
				"object":         "charge",
				"status":         "succeeded",
				"payment_intent": "pi_1",
			},
		},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	event, err := adapter.VerifyWebhook(context.Background(), payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, "charge.refunded", event.Type)
	assert.Equal(t, "pi_1", event.Object.ID)

	forged := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_other",
		Timestamp: time.Now(),
	})
	_, err = adapter.VerifyWebhook(context.Background(), payload, forged.Header)
	require.Error(t, err)
	assert.True(t, ierr.IsVerification(err))
	assert.True(t, ierr.Is(err, domain.ErrInvalidSignature))
}

func TestToProcessorPayment(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payment := toProcessorPayment(&stripeapi.PaymentIntent{
		ID:                 "pi_9",
		Amount:             1999,
		Currency:           stripeapi.Currency("usd"),
		Metadata:           map[string]string{"customer_id": "cus_9", "order": "7"},
		PaymentMethodTypes: []string{"card"},
		Status:             stripeapi.PaymentIntentStatusSucceeded,
		Created:            created.Unix(),
	})

	assert.Equal(t, "pi_9", payment.ExternalID)
	assert.True(t, decimal.RequireFromString("19.99").Equal(payment.Amount))
	assert.Equal(t, "USD", payment.Currency)
	assert.Equal(t, "cus_9", payment.CustomerID)
	assert.Equal(t, map[string]string{"order": "7"}, payment.Metadata)
	assert.Equal(t, "card", payment.PaymentMethod)
	assert.Equal(t, "succeeded", payment.Status)
	assert.True(t, created.Equal(payment.CreatedAt))
}
