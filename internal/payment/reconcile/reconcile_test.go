package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payflow/internal/cache"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	"github.com/smallbiznis/payflow/internal/payment/adapters/mock"
	"github.com/smallbiznis/payflow/internal/payment/domain"
	"github.com/smallbiznis/payflow/internal/payment/paymenttest"
	"github.com/smallbiznis/payflow/internal/payment/reconcile"
	"github.com/smallbiznis/payflow/internal/payment/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	reconciler *reconcile.Reconciler
	adapter    *mock.Adapter
	cache      cache.PaymentCache
	db         *gorm.DB
	registry   *prometheus.Registry
}

func newFixture(t *testing.T, adapter domain.PaymentAdapter) *fixture {
	t.Helper()
	db := paymenttest.NewDB(t)
	mockAdapter, _ := adapter.(*mock.Adapter)
	if adapter == nil {
		mockAdapter = mock.New("whsec_test", "created")
		adapter = mockAdapter
	}
	registry := prometheus.NewRegistry()
	paymentCache := cache.NewPaymentCache(cache.NewMemoryBackend(time.Minute), time.Minute, 50*time.Millisecond, zap.NewNop(), nil)

	reconciler, err := reconcile.New(reconcile.Params{
		Config:     reconcile.Config{Lookback: time.Hour, BatchSize: 50, Concurrency: 2},
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      clock.NewFakeClock(time.Now().Add(time.Second)),
		Repo:       repository.Provide(),
		Adapter:    adapter,
		Cache:      paymentCache,
		Normalizer: domain.NewNormalizer(config.NewStaticStatusAliasHolder(nil)),
		Metrics:    obsmetrics.NewReconcileMetricsForTest(registry),
	})
	require.NoError(t, err)

	return &fixture{
		reconciler: reconciler,
		adapter:    mockAdapter,
		cache:      paymentCache,
		db:         db,
		registry:   registry,
	}
}

func (f *fixture) processorPayment(t *testing.T, currency string) string {
	t.Helper()
	res, err := f.adapter.Create(context.Background(), domain.CreateRequest{
		Amount:        decimal.RequireFromString("25.50"),
		Currency:      currency,
		CustomerID:    "cus_1",
		PaymentMethod: "pm_card_visa",
		Metadata:      map[string]string{"order": "A-1"},
	})
	require.NoError(t, err)
	return res.ExternalID
}

func TestRunOnceRecoversPaymentMissingFromStore(t *testing.T) {
	f := newFixture(t, nil)
	id := f.processorPayment(t, "EUR")

	summary, err := f.reconciler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary[obsmetrics.ReconcileOutcomeInserted])

	stored, err := repository.Provide().FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.StatusCreated, stored.Status)
	assert.True(t, decimal.RequireFromString("25.50").Equal(stored.Amount))
	assert.Equal(t, "cus_1", stored.CustomerID)
	assert.Equal(t, "mock", stored.Provider)
	assert.Equal(t, map[string]string{"order": "A-1"}, stored.MetadataMap())

	cached, ok := f.cache.Get(context.Background(), id)
	require.True(t, ok)
	assert.Equal(t, domain.StatusCreated, cached.Status)
}

func TestRunOnceAdvancesStaleStatus(t *testing.T) {
	f := newFixture(t, nil)
	id := f.processorPayment(t, "EUR")
	paymenttest.SeedPayment(t, f.db, id, domain.StatusCreated, time.Now().UTC())

	_, err := f.adapter.Capture(context.Background(), id)
	require.NoError(t, err)

	summary, err := f.reconciler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary[obsmetrics.ReconcileOutcomeAdvanced])
	assert.Equal(t, domain.StatusCompleted, paymenttest.StoredStatus(t, f.db, id))
}

func TestRunOnceNeverRegressesStoredStatus(t *testing.T) {
	f := newFixture(t, nil)
	id := f.processorPayment(t, "EUR")
	paymenttest.SeedPayment(t, f.db, id, domain.StatusCompleted, time.Now().UTC())

	summary, err := f.reconciler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary[obsmetrics.ReconcileOutcomeUnchanged])
	assert.Equal(t, domain.StatusCompleted, paymenttest.StoredStatus(t, f.db, id))
}

func TestRunOnceKeepsGoingPastBadItems(t *testing.T) {
	f := newFixture(t, nil)
	bad := f.processorPayment(t, "eur")
	good := f.processorPayment(t, "USD")

	summary, err := f.reconciler.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid currency code: eur")
	assert.Equal(t, 1, summary[obsmetrics.ReconcileOutcomeFailed])
	assert.Equal(t, 1, summary[obsmetrics.ReconcileOutcomeInserted])

	missing, err := repository.Provide().FindByID(context.Background(), f.db, bad)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, domain.StatusCreated, paymenttest.StoredStatus(t, f.db, good))
}

func TestRunOnceSkipsProcessorsWithoutListing(t *testing.T) {
	adapter := &paymenttest.Adapter{}
	f := newFixture(t, adapter)

	summary, err := f.reconciler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary)
	adapter.AssertExpectations(t)
}

func TestRunOnceRecordsMetrics(t *testing.T) {
	f := newFixture(t, nil)
	inserted := f.processorPayment(t, "EUR")
	advanced := f.processorPayment(t, "EUR")
	paymenttest.SeedPayment(t, f.db, advanced, domain.StatusCreated, time.Now().UTC())
	require.True(t, f.adapter.SetStatus(advanced, "requires_capture"))

	_, err := f.reconciler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, paymenttest.StoredStatus(t, f.db, inserted))
	assert.Equal(t, domain.StatusAuthorized, paymenttest.StoredStatus(t, f.db, advanced))

	count, err := testutil.GatherAndCount(f.registry, "payflow_reconcile_items_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	runs, err := testutil.GatherAndCount(f.registry, "payflow_reconcile_job_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := reconcile.New(reconcile.Params{})
	assert.ErrorIs(t, err, reconcile.ErrInvalidConfig)
}
