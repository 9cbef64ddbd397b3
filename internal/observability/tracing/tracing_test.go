package tracing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsCustomerData(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/v1/payments/:id"),
		attribute.String("customer_id", "cust_1"),
		attribute.String("payment.action", "capture"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
	assert.Equal(t, attribute.Key("payment.action"), attrs[1].Key)
}

func TestSafeErrorFlattensWrappedErrors(t *testing.T) {
	base := errors.New("inner")
	wrapped := fmt.Errorf("outer: %w", base)

	safe := SafeError(wrapped)
	assert.EqualError(t, safe, "outer: inner")
	assert.False(t, errors.Is(safe, base))
	assert.Nil(t, SafeError(nil))
}

func TestNewProviderDisabledNeverSamples(t *testing.T) {
	tp, err := NewProvider(nil, Config{Enabled: false}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.False(t, span.SpanContext().IsSampled())
}
