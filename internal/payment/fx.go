package payment

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/payment/adapters"
	"github.com/smallbiznis/payflow/internal/payment/adapters/mock"
	"github.com/smallbiznis/payflow/internal/payment/adapters/stripe"
	"github.com/smallbiznis/payflow/internal/payment/domain"
	"github.com/smallbiznis/payflow/internal/payment/idempotency"
	"github.com/smallbiznis/payflow/internal/payment/repository"
	paymentservice "github.com/smallbiznis/payflow/internal/payment/service"
	"github.com/smallbiznis/payflow/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
			mock.NewFactory(),
		)
	}),
	fx.Provide(ProvideAdapter),
	fx.Provide(domain.NewNormalizer),
	fx.Provide(idempotency.NewGenerator),
	fx.Provide(NewSnowflake),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)

// ProvideAdapter resolves the configured processor once at startup and wraps
// it with the timeout and retry guard.
func ProvideAdapter(cfg config.Config, registry *adapters.Registry, log *zap.Logger) (domain.PaymentAdapter, error) {
	settings := map[string]any{
		"initial_status": cfg.Payment.MockInitialStatus,
	}
	switch cfg.Payment.Provider {
	case stripe.ProviderName:
		settings["secret_key"] = cfg.Payment.StripeSecretKey
		settings["webhook_secret"] = cfg.Payment.StripeWebhookSecret
	default:
		settings["webhook_secret"] = cfg.Payment.MockWebhookSecret
	}

	adapter, err := registry.NewAdapter(cfg.Payment.Provider, domain.AdapterConfig{
		Provider: cfg.Payment.Provider,
		Config:   settings,
	})
	if err != nil {
		return nil, err
	}

	log.Info("payment processor configured", zap.String("provider", adapter.Provider()))
	return adapters.NewGuard(adapter, cfg.Payment.AdapterTimeout, cfg.Payment.AdapterMaxRetries, log), nil
}

func NewSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
