package observability

import (
	"testing"

	"github.com/smallbiznis/payflow/internal/config"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestLoadConfigCarriesPaymentStack(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment: "production",
		AppVersion:  " 1.2.0 ",
		DBType:      "Postgres",
		Cache:       config.CacheConfig{Backend: config.CacheBackendRedis},
		Payment:     config.PaymentConfig{Provider: " Stripe "},
		Reconcile:   config.ReconcileConfig{Enabled: true},
		Observability: config.ObservabilityConfig{
			LogLevel:      "info",
			OTLPEnabled:   true,
			OTLPEndpoint:  "collector:4317",
			SamplingRatio: 0.5,
		},
	})

	assert.Equal(t, "payflow", cfg.ServiceName)
	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, "stripe", cfg.PaymentProvider)
	assert.Equal(t, "postgres", cfg.DatabaseType)
	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, 0.5, cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())

	attrs := attribute.NewSet(cfg.ResourceAttributes()...)
	provider, ok := attrs.Value("payflow.payment.provider")
	assert.True(t, ok)
	assert.Equal(t, "stripe", provider.AsString())
	backend, _ := attrs.Value("payflow.cache.backend")
	assert.Equal(t, "redis", backend.AsString())
	reconcile, _ := attrs.Value("payflow.reconcile.enabled")
	assert.True(t, reconcile.AsBool())
}

func TestResourceAttributesSkipEmptyValues(t *testing.T) {
	attrs := attribute.NewSet(Config{PaymentProvider: "mock"}.ResourceAttributes()...)

	_, hasDB := attrs.Value("db.system")
	_, hasCache := attrs.Value("payflow.cache.backend")
	assert.False(t, hasDB)
	assert.False(t, hasCache)
	assert.Equal(t, 2, attrs.Len())
}

func TestDebugFollowsLevelAndEnvironment(t *testing.T) {
	assert.True(t, Config{LogLevel: "DEBUG", Environment: "production"}.Debug())
	assert.True(t, Config{Environment: "local"}.Debug())
	assert.False(t, Config{Environment: "staging"}.Debug())
}
