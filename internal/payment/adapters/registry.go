package adapters

import (
	"sort"
	"strings"

	"github.com/samber/lo"
	ierr "github.com/smallbiznis/payflow/internal/errors"
	"github.com/smallbiznis/payflow/internal/payment/domain"
)

// Registry resolves processor adapters by provider name. The active provider
// is picked once from configuration at startup.
type Registry struct {
	factories map[string]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{factories: map[string]domain.AdapterFactory{}}
	for _, factory := range lo.Compact(factories) {
		provider := normalizeProvider(factory.Provider())
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

// Providers lists the registered provider names in sorted order.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	providers := lo.Keys(r.factories)
	sort.Strings(providers)
	return providers
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalizeProvider(provider)]
	return ok
}

func (r *Registry) NewAdapter(provider string, cfg domain.AdapterConfig) (domain.PaymentAdapter, error) {
	provider = normalizeProvider(provider)
	if !r.ProviderExists(provider) {
		return nil, ierr.NewErrorf("payment provider %q is not registered", provider).
			WithHintf("Supported payment providers: %s", strings.Join(r.Providers(), ", ")).
			Mark(domain.ErrProviderNotFound, ierr.ErrValidation)
	}
	cfg.Provider = provider
	return r.factories[provider].NewAdapter(cfg)
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
