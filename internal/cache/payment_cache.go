package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	ierr "github.com/smallbiznis/payflow/internal/errors"
	obslogger "github.com/smallbiznis/payflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	"github.com/smallbiznis/payflow/internal/payment/domain"
	"go.uber.org/zap"
)

const (
	lookupHit   = "hit"
	lookupMiss  = "miss"
	lookupError = "error"
)

type paymentCache struct {
	backend Backend
	ttl     time.Duration
	timeout time.Duration
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

// NewPaymentCache wraps backend so every call is bounded by timeout and
// failures are logged and swallowed.
func NewPaymentCache(backend Backend, ttl, timeout time.Duration, log *zap.Logger, metrics *obsmetrics.Metrics) PaymentCache {
	if backend == nil {
		backend = NewNoopBackend()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &paymentCache{
		backend: backend,
		ttl:     ttl,
		timeout: timeout,
		log:     log.Named("payment.cache").With(zap.String("backend", backend.Name())),
		metrics: metrics,
	}
}

func (c *paymentCache) Get(ctx context.Context, id string) (*domain.Payment, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false
	}
	callCtx, cancel := c.bound(ctx)
	defer cancel()

	raw, err := c.backend.Get(callCtx, paymentKey(id))
	if err != nil {
		if errors.Is(err, ErrMiss) {
			c.metrics.RecordCacheLookup(ctx, lookupMiss)
			return nil, false
		}
		c.metrics.RecordCacheLookup(ctx, lookupError)
		c.warn(ctx, "get", id, err)
		return nil, false
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil || snap.ID != id {
		c.metrics.RecordCacheLookup(ctx, lookupError)
		c.warn(ctx, "decode", id, ierr.NewError("undecodable cache entry").Mark(ierr.ErrCache))
		c.Delete(ctx, id)
		return nil, false
	}
	c.metrics.RecordCacheLookup(ctx, lookupHit)
	return snap.payment(), true
}

func (c *paymentCache) Set(ctx context.Context, payment *domain.Payment) {
	if payment == nil || strings.TrimSpace(payment.ID) == "" {
		return
	}
	raw, err := json.Marshal(newSnapshot(payment))
	if err != nil {
		c.warn(ctx, "encode", payment.ID, err)
		return
	}
	callCtx, cancel := c.bound(ctx)
	defer cancel()

	if err := c.backend.Set(callCtx, paymentKey(payment.ID), raw, c.ttl); err != nil {
		c.warn(ctx, "set", payment.ID, err)
	}
}

func (c *paymentCache) Delete(ctx context.Context, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	callCtx, cancel := c.bound(ctx)
	defer cancel()

	if err := c.backend.Delete(callCtx, paymentKey(id)); err != nil {
		c.warn(ctx, "delete", id, err)
	}
}

// bound applies the cache budget independently of the caller's deadline.
func (c *paymentCache) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(context.WithoutCancel(ctx))
	}
	return context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
}

func (c *paymentCache) warn(ctx context.Context, op string, id string, err error) {
	obslogger.WithContext(ctx, c.log).Warn("cache operation failed",
		zap.String("operation", op),
		zap.String("payment_id", id),
		zap.Error(err),
	)
}
