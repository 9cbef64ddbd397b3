package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/smallbiznis/payflow/internal/cache"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	ierr "github.com/smallbiznis/payflow/internal/errors"
	obscontext "github.com/smallbiznis/payflow/internal/observability/context"
	"github.com/smallbiznis/payflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	"github.com/smallbiznis/payflow/internal/payment/domain"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	jobName          = "reconcile_payments"
	leaseKey         = "payflow:reconcile:lease"
	transitionSource = "reconcile"
)

var ErrInvalidConfig = errors.New("invalid_reconcile_config")

// Config controls how often and how far back the processor is compared with
// the store.
type Config struct {
	Interval    time.Duration
	Lookback    time.Duration
	BatchSize   int
	Concurrency int
	Timeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		Lookback:    24 * time.Hour,
		BatchSize:   100,
		Concurrency: 8,
		Timeout:     2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.Lookback <= 0 {
		c.Lookback = defaults.Lookback
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Interval:  cfg.Reconcile.Interval,
		Lookback:  cfg.Reconcile.Lookback,
		BatchSize: cfg.Reconcile.BatchSize,
	}.withDefaults()
}

type Params struct {
	fx.In

	Config     Config
	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       domain.Repository
	Adapter    domain.PaymentAdapter
	Cache      cache.PaymentCache
	Normalizer *domain.Normalizer
	Locker     *cache.Locker                `optional:"true"`
	ObsMetrics *obsmetrics.Metrics          `optional:"true"`
	Metrics    *obsmetrics.ReconcileMetrics `optional:"true"`
}

// Reconciler recovers payments the processor knows about but the store lost,
// typically because a store write failed after the processor accepted a
// create, and advances records whose status webhooks never delivered.
type Reconciler struct {
	cfg        Config
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       domain.Repository
	adapter    domain.PaymentAdapter
	cache      cache.PaymentCache
	normalizer *domain.Normalizer
	locker     *cache.Locker
	obsMetrics *obsmetrics.Metrics
	metrics    *obsmetrics.ReconcileMetrics
}

// Summary counts reconciled items by outcome.
type Summary map[string]int

func New(p Params) (*Reconciler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Repo == nil || p.Adapter == nil || p.Cache == nil || p.Normalizer == nil {
		return nil, ErrInvalidConfig
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Reconcile()
	}
	return &Reconciler{
		cfg:        p.Config.withDefaults(),
		db:         p.DB,
		log:        p.Log.Named("payment.reconcile").With(zap.String("component", "reconcile")),
		clock:      p.Clock,
		repo:       p.Repo,
		adapter:    p.Adapter,
		cache:      p.Cache,
		normalizer: p.Normalizer,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
		metrics:    metrics,
	}, nil
}

func (r *Reconciler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	nextRun := r.clock.Now().Add(r.cfg.Interval)

	for {
		if lag := r.clock.Now().Sub(nextRun); lag > 0 {
			r.metrics.ObserveRunLoopLag(lag)
		}
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Warn("reconcile run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(r.cfg.Interval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce compares one window of processor payments with the store.
func (r *Reconciler) RunOnce(parent context.Context) (Summary, error) {
	ctx, cancel := context.WithTimeout(parent, r.cfg.Timeout)
	defer cancel()
	ctx, runID := obscontext.EnsureCorrelationID(ctx)
	log := logger.WithContext(ctx, r.log).With(zap.String("job", jobName), zap.String("run_id", runID))

	lister, ok := r.adapter.(domain.PaymentLister)
	if !ok {
		log.Debug("processor cannot list payments, reconcile skipped")
		return Summary{}, nil
	}

	release, acquired := r.acquireLease(ctx, log)
	if !acquired {
		return Summary{}, nil
	}
	defer release()

	start := r.clock.Now()
	r.metrics.IncJobRun(jobName)
	defer func() { r.metrics.ObserveJobDuration(jobName, r.clock.Now().Sub(start)) }()

	items, err := lister.ListRecent(ctx, start.Add(-r.cfg.Lookback), r.cfg.BatchSize)
	if err != nil {
		if ierr.Is(err, domain.ErrListingUnsupported) {
			log.Debug("processor cannot list payments, reconcile skipped")
			return Summary{}, nil
		}
		r.metrics.IncJobError(jobName, err)
		return Summary{}, err
	}

	workers := pool.NewWithResults[string]().
		WithContext(ctx).
		WithCollectErrored().
		WithMaxGoroutines(r.cfg.Concurrency)
	for _, item := range items {
		workers.Go(func(ctx context.Context) (string, error) {
			return r.reconcileOne(ctx, log, item)
		})
	}
	outcomes, err := workers.Wait()

	summary := Summary(lo.CountValues(outcomes))
	for outcome, count := range summary {
		r.metrics.AddItems(outcome, count)
	}
	if err != nil {
		r.metrics.IncJobError(jobName, err)
	}

	log.Info("reconcile finished",
		zap.Int("listed", len(items)),
		zap.Int("inserted", summary[obsmetrics.ReconcileOutcomeInserted]),
		zap.Int("advanced", summary[obsmetrics.ReconcileOutcomeAdvanced]),
		zap.Int("failed", summary[obsmetrics.ReconcileOutcomeFailed]),
		zap.Duration("duration", r.clock.Now().Sub(start)),
	)
	return summary, err
}

// acquireLease keeps a single replica reconciling at a time. Without redis
// every replica runs; conditional writes keep that safe.
func (r *Reconciler) acquireLease(ctx context.Context, log *zap.Logger) (func(), bool) {
	noop := func() {}
	if r.locker == nil {
		return noop, true
	}
	token, ok, err := r.locker.TryLock(ctx, leaseKey, r.cfg.Interval)
	if err != nil {
		log.Warn("reconcile lease unavailable, running without it", zap.Error(err))
		return noop, true
	}
	if !ok {
		log.Debug("reconcile lease held by another instance")
		return noop, false
	}
	return func() {
		if err := r.locker.Release(context.WithoutCancel(ctx), leaseKey, token); err != nil {
			log.Warn("reconcile lease not released", zap.Error(err))
		}
	}, true
}

func (r *Reconciler) reconcileOne(ctx context.Context, log *zap.Logger, item domain.ProcessorPayment) (string, error) {
	id := strings.TrimSpace(item.ExternalID)
	log = logger.WithPayment(log, id)
	if id == "" {
		return obsmetrics.ReconcileOutcomeFailed, ierr.NewError("processor payment without id").Mark(ierr.ErrValidation)
	}
	if err := domain.ValidateCurrency(item.Currency); err != nil {
		log.Warn("processor payment has an unusable currency", zap.String("currency", item.Currency))
		return obsmetrics.ReconcileOutcomeFailed, err
	}
	if !item.Amount.IsPositive() {
		log.Warn("processor payment has an unusable amount", zap.String("amount", item.Amount.String()))
		return obsmetrics.ReconcileOutcomeFailed, ierr.NewErrorf("invalid amount: %s", item.Amount).
			Mark(domain.ErrInvalidAmount, ierr.ErrValidation)
	}

	status := r.normalizer.Normalize(item.Status)
	if status == "" {
		status = domain.StatusCreated
	}
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.clock.Now()
	}
	candidate := &domain.Payment{
		ID:            id,
		Provider:      r.adapter.Provider(),
		Amount:        item.Amount,
		Currency:      item.Currency,
		CustomerID:    item.CustomerID,
		PaymentMethod: item.PaymentMethod,
		Metadata:      datatypes.NewJSONType(lo.Assign(map[string]string{}, item.Metadata)),
		Status:        status,
		CreatedAt:     domain.StoredTime(createdAt),
	}

	inserted, err := r.repo.InsertIfMissing(ctx, r.db, candidate)
	if err != nil {
		r.obsMetrics.RecordPersistenceError(ctx, "reconcile")
		return obsmetrics.ReconcileOutcomeFailed, err
	}
	if inserted {
		log.Warn("recovered payment missing from store", zap.String("status", string(status)))
		r.cache.Set(ctx, candidate)
		r.obsMetrics.RecordPaymentCreated(ctx, candidate.Provider, candidate.Currency)
		return obsmetrics.ReconcileOutcomeInserted, nil
	}

	current, err := r.repo.FindByID(ctx, r.db, id)
	if err != nil {
		return obsmetrics.ReconcileOutcomeFailed, err
	}
	if current == nil || !domain.Advances(current.Status, status) {
		return obsmetrics.ReconcileOutcomeUnchanged, nil
	}

	now := domain.StoredTime(r.clock.Now())
	updated, err := r.repo.UpdateStatus(ctx, r.db, id, current.Status, status, now)
	if err != nil {
		r.obsMetrics.RecordPersistenceError(ctx, "reconcile")
		return obsmetrics.ReconcileOutcomeFailed, err
	}
	if !updated {
		// another writer moved it; the next run compares again
		return obsmetrics.ReconcileOutcomeUnchanged, nil
	}
	next := current.WithStatus(status, now)
	r.cache.Set(ctx, &next)
	r.obsMetrics.RecordTransition(ctx, transitionSource, string(current.Status), string(status))
	log.Info("advanced payment from processor state",
		zap.String("from", string(current.Status)),
		zap.String("to", string(status)),
	)
	return obsmetrics.ReconcileOutcomeAdvanced, nil
}
