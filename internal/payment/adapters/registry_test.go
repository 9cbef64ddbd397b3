package adapters

import (
	"testing"

	ierr "github.com/smallbiznis/payflow/internal/errors"
	"github.com/smallbiznis/payflow/internal/payment/adapters/mock"
	"github.com/smallbiznis/payflow/internal/payment/adapters/stripe"
	"github.com/smallbiznis/payflow/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	registry := NewRegistry(mock.NewFactory(), stripe.NewFactory(), nil)

	assert.True(t, registry.ProviderExists("mock"))
	assert.True(t, registry.ProviderExists(" Stripe "))
	assert.False(t, registry.ProviderExists("adyen"))

	adapter, err := registry.NewAdapter("MOCK", domain.AdapterConfig{
		Provider: "mock",
		Config:   map[string]any{"webhook_secret": "whsec"},
	})
	require.NoError(t, err)
	assert.Equal(t, "mock", adapter.Provider())

	assert.Equal(t, []string{"mock", "stripe"}, registry.Providers())

	_, err = registry.NewAdapter("adyen", domain.AdapterConfig{})
	assert.True(t, ierr.Is(err, domain.ErrProviderNotFound))
	assert.True(t, ierr.IsValidation(err))
	assert.Equal(t, []string{"Supported payment providers: mock, stripe"}, ierr.Hints(err))

	var nilRegistry *Registry
	assert.False(t, nilRegistry.ProviderExists("mock"))
	assert.Empty(t, nilRegistry.Providers())
	_, err = nilRegistry.NewAdapter("mock", domain.AdapterConfig{})
	assert.True(t, ierr.Is(err, domain.ErrProviderNotFound))
}
