package idempotency

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func request(key string) PaymentRequest {
	return PaymentRequest{
		RequestKey:    key,
		CustomerID:    "c1",
		PaymentMethod: "card",
		Amount:        "25.50",
		Currency:      "EUR",
		Metadata:      map[string]string{"order": "42", "channel": "web"},
	}
}

func TestPaymentKeyIsStableForSameRequestKey(t *testing.T) {
	g := NewGenerator()

	first, keyed := g.PaymentKey(request("order-42"))
	reordered := request("order-42")
	reordered.Metadata = map[string]string{"channel": "web", "order": "42"}
	second, _ := g.PaymentKey(reordered)

	assert.True(t, keyed)
	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first, "payment-"))
}

func TestPaymentKeyWithoutRequestKeyIsUnique(t *testing.T) {
	g := NewGenerator()

	first, keyed := g.PaymentKey(request(""))
	second, _ := g.PaymentKey(request(""))

	assert.False(t, keyed)
	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasPrefix(first, "payment-"))
}

func TestPaymentKeyChangesWithAnyField(t *testing.T) {
	g := NewGenerator()
	base, _ := g.PaymentKey(request("k1"))

	mutations := []func(*PaymentRequest){
		func(r *PaymentRequest) { r.RequestKey = "k2" },
		func(r *PaymentRequest) { r.CustomerID = "c2" },
		func(r *PaymentRequest) { r.PaymentMethod = "wallet" },
		func(r *PaymentRequest) { r.Amount = "25.51" },
		func(r *PaymentRequest) { r.Currency = "USD" },
		func(r *PaymentRequest) { r.Metadata = map[string]string{"order": "1"} },
	}
	for _, mutate := range mutations {
		req := request("k1")
		mutate(&req)
		key, _ := g.PaymentKey(req)
		assert.NotEqual(t, base, key)
	}
}

func TestPaymentKeyAcceptsMetadataRequestKey(t *testing.T) {
	g := NewGenerator()
	viaField, _ := g.PaymentKey(request("order-42"))

	req := request("")
	req.Metadata[MetadataKey] = " order-42 "
	viaMetadata, keyed := g.PaymentKey(req)

	assert.True(t, keyed)
	assert.Equal(t, viaField, viaMetadata)
}
