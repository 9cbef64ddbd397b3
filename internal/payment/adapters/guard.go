package adapters

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	ierr "github.com/smallbiznis/payflow/internal/errors"
	"github.com/smallbiznis/payflow/internal/payment/domain"
	"go.uber.org/zap"
)

const (
	defaultAdapterTimeout = 10 * time.Second
	retryInitialInterval  = 200 * time.Millisecond
	retryMaxInterval      = 2 * time.Second
)

// Guard bounds the latency of every processor call and retries calls the
// processor rate limited. Retries reuse the same request, so create calls keep
// their idempotency token.
type Guard struct {
	inner      domain.PaymentAdapter
	timeout    time.Duration
	maxRetries uint64
	log        *zap.Logger
	newBackOff func() backoff.BackOff
}

func NewGuard(inner domain.PaymentAdapter, timeout time.Duration, maxRetries int, log *zap.Logger) *Guard {
	if timeout <= 0 {
		timeout = defaultAdapterTimeout
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{
		inner:      inner,
		timeout:    timeout,
		maxRetries: uint64(maxRetries),
		log:        log.Named("payment.adapter").With(zap.String("provider", inner.Provider())),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = retryInitialInterval
			b.MaxInterval = retryMaxInterval
			b.MaxElapsedTime = 0
			return b
		},
	}
}

func (g *Guard) Provider() string {
	return g.inner.Provider()
}

func (g *Guard) Create(ctx context.Context, req domain.CreateRequest) (*domain.CreateResult, error) {
	return guarded(ctx, g, "create", func(ctx context.Context) (*domain.CreateResult, error) {
		return g.inner.Create(ctx, req)
	})
}

func (g *Guard) Capture(ctx context.Context, externalID string) (*domain.ActionResult, error) {
	return guarded(ctx, g, "capture", func(ctx context.Context) (*domain.ActionResult, error) {
		return g.inner.Capture(ctx, externalID)
	})
}

func (g *Guard) Refund(ctx context.Context, externalID string) (*domain.ActionResult, error) {
	return guarded(ctx, g, "refund", func(ctx context.Context) (*domain.ActionResult, error) {
		return g.inner.Refund(ctx, externalID)
	})
}

func (g *Guard) Cancel(ctx context.Context, externalID string) (*domain.ActionResult, error) {
	return guarded(ctx, g, "cancel", func(ctx context.Context) (*domain.ActionResult, error) {
		return g.inner.Cancel(ctx, externalID)
	})
}

// VerifyWebhook is local work and is not retried.
func (g *Guard) VerifyWebhook(ctx context.Context, payload []byte, signatureHeader string) (*domain.WebhookEvent, error) {
	return g.inner.VerifyWebhook(ctx, payload, signatureHeader)
}

func (g *Guard) ListRecent(ctx context.Context, since time.Time, limit int) ([]domain.ProcessorPayment, error) {
	lister, ok := g.inner.(domain.PaymentLister)
	if !ok {
		return nil, ierr.NewErrorf("provider %s cannot list payments", g.inner.Provider()).
			Mark(domain.ErrListingUnsupported)
	}
	return guarded(ctx, g, "list", func(ctx context.Context) ([]domain.ProcessorPayment, error) {
		return lister.ListRecent(ctx, since, limit)
	})
}

type callResult[T any] struct {
	value T
	err   error
}

func guarded[T any](ctx context.Context, g *Guard, op string, fn func(context.Context) (T, error)) (T, error) {
	var result T
	attempt := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(g.newBackOff(), g.maxRetries), ctx)

	err := backoff.Retry(func() error {
		attempt++
		value, err := callOnce(ctx, g.timeout, op, fn)
		if err == nil {
			result = value
			return nil
		}
		if ierr.IsRateLimited(err) {
			g.log.Warn("processor rate limited",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
	if err != nil {
		return result, classify(op, err)
	}
	return result, nil
}

// callOnce runs fn under its own deadline. An adapter that ignores the
// context is abandoned once the deadline passes.
func callOnce[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult[T], 1)
	go func() {
		value, err := fn(callCtx)
		done <- callResult[T]{value: value, err: err}
	}()

	var zero T
	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && callCtx.Err() == context.DeadlineExceeded {
			return zero, timeoutError(op, timeout)
		}
		return res.value, res.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, timeoutError(op, timeout)
	}
}

func timeoutError(op string, timeout time.Duration) error {
	return ierr.NewErrorf("processor %s timed out after %s", op, timeout).
		WithHint("The payment processor did not respond in time").
		WithReportableDetails(map[string]any{"operation": op}).
		Mark(domain.ErrAdapterTimeout, ierr.ErrProcessing)
}

// classify keeps adapter errors inside the taxonomy the orchestrator expects.
// Anything the adapter did not classify is a processing error.
func classify(op string, err error) error {
	if ierr.IsValidation(err) || ierr.IsNotFound(err) || ierr.IsProcessing(err) {
		return err
	}
	return ierr.WithError(err).
		WithHintf("Processor %s failed", op).
		Mark(ierr.ErrProcessing)
}
