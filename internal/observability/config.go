package observability

import (
	"strings"

	"github.com/smallbiznis/payflow/internal/config"
	"go.opentelemetry.io/otel/attribute"
)

// Config is the observability view of the application config: service
// identity plus the payment stack this process fronts, so every span and
// metric says which processor and stores served it.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	PaymentProvider string
	CacheBackend    string
	DatabaseType    string
	Reconciling     bool

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "payflow"
	}
	obs := cfg.Observability
	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		PaymentProvider:      strings.ToLower(strings.TrimSpace(cfg.Payment.Provider)),
		CacheBackend:         cfg.Cache.Backend,
		DatabaseType:         strings.ToLower(strings.TrimSpace(cfg.DBType)),
		Reconciling:          cfg.Reconcile.Enabled,
		LogLevel:             obs.LogLevel,
		LogFormat:            obs.LogFormat,
		OtelEnabled:          obs.OTLPEnabled,
		OtelExporterEndpoint: obs.OTLPEndpoint,
		OtelExporterProtocol: obs.OTLPProtocol,
		OtelSamplingRatio:    obs.SamplingRatio,
	}
}

// ResourceAttributes describe the payment stack behind this process. Empty
// values are left out.
func (c Config) ResourceAttributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Bool("payflow.reconcile.enabled", c.Reconciling),
	}
	for key, value := range map[attribute.Key]string{
		"payflow.payment.provider": c.PaymentProvider,
		"payflow.cache.backend":    c.CacheBackend,
		"db.system":                c.DatabaseType,
	} {
		if value != "" {
			attrs = append(attrs, key.String(value))
		}
	}
	return attrs
}

func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
