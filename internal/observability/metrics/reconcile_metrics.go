package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	ierr "github.com/smallbiznis/payflow/internal/errors"
	"gorm.io/gorm"
)

const (
	ReconcileReasonDeadlineExceeded     = "deadline_exceeded"
	ReconcileReasonDBLockTimeout        = "db_lock_timeout"
	ReconcileReasonSerializationFailure = "serialization_failure"
	ReconcileReasonUniqueViolation      = "unique_violation"
	ReconcileReasonProcessor            = "processor"
	ReconcileReasonUnknown              = "unknown"
)

const (
	ReconcileOutcomeInserted  = "inserted"
	ReconcileOutcomeAdvanced  = "advanced"
	ReconcileOutcomeUnchanged = "unchanged"
	ReconcileOutcomeFailed    = "failed"
)

// ReconcileMetrics captures health signals of the out-of-band reconciliation job.
type ReconcileMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobErrors   *prometheus.CounterVec
	items       *prometheus.CounterVec
	runLoopLag  prometheus.Observer
}

var (
	reconcileMetricsOnce sync.Once
	reconcileMetrics     *ReconcileMetrics
)

// Reconcile returns the singleton reconcile metrics registry.
func Reconcile() *ReconcileMetrics {
	return ReconcileWithConfig(Config{})
}

// ReconcileWithConfig returns the singleton reconcile metrics registry using config labels.
func ReconcileWithConfig(cfg Config) *ReconcileMetrics {
	reconcileMetricsOnce.Do(func() {
		reconcileMetrics = newReconcileMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return reconcileMetrics
}

// NewReconcileMetricsForTest builds an unshared registry for tests.
func NewReconcileMetricsForTest(registerer prometheus.Registerer) *ReconcileMetrics {
	return newReconcileMetrics(registerer, Config{ServiceName: "payflow", Environment: "test"})
}

func newReconcileMetrics(registerer prometheus.Registerer, cfg Config) *ReconcileMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "payflow"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "payflow_reconcile_job_runs_total",
		Help:        "Reconcile job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "payflow_reconcile_job_duration_seconds",
		Help:        "Reconcile job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "payflow_reconcile_job_errors_total",
		Help:        "Reconcile job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "payflow_reconcile_items_total",
		Help:        "Processor payments reconciled by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "payflow_reconcile_runloop_lag_seconds",
		Help:        "Reconcile run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(jobRuns, jobDuration, jobErrors, items, runLoopLag)

	return &ReconcileMetrics{
		jobRuns:     jobRuns,
		jobDuration: jobDuration,
		jobErrors:   jobErrors,
		items:       items,
		runLoopLag:  runLoopLag,
	}
}

func (m *ReconcileMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *ReconcileMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobError increments the job error counter with classification.
func (m *ReconcileMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyReconcileReason(err)).Inc()
}

func (m *ReconcileMetrics) AddItems(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.items.WithLabelValues(outcome).Add(float64(count))
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *ReconcileMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// ClassifyReconcileReason maps reconcile errors to low-cardinality reasons.
func ClassifyReconcileReason(err error) string {
	if err == nil {
		return ReconcileReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReconcileReasonDeadlineExceeded
	}
	if ierr.IsProcessing(err) {
		return ReconcileReasonProcessor
	}
	if hasPGCode(err, "55P03") {
		return ReconcileReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return ReconcileReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return ReconcileReasonUniqueViolation
	}
	return ReconcileReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
