package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("payment_id", "pi_123"),
		attribute.String("customer_id", "cust_1"),
		attribute.String("result", "hit"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "provider" && attrs[1].Key != "provider" {
		t.Fatalf("expected provider to be retained")
	}
	if attrs[0].Key != "result" && attrs[1].Key != "result" {
		t.Fatalf("expected result to be retained")
	}
}

func TestNilMetricsRecordersAreNoops(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordPaymentCreated(ctx, "mock", "EUR")
	m.RecordTransition(ctx, "api", "created", "completed")
	m.RecordWebhookEvent(ctx, "mock", "payment.succeeded", "applied")
	m.RecordCacheLookup(ctx, "miss")
	m.RecordPersistenceError(ctx, "insert")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "payflow"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordCacheLookup(context.Background(), "hit")
}
