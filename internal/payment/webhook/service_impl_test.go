package webhook_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/cache"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	ierr "github.com/smallbiznis/payflow/internal/errors"
	"github.com/smallbiznis/payflow/internal/payment/adapters/mock"
	"github.com/smallbiznis/payflow/internal/payment/domain"
	"github.com/smallbiznis/payflow/internal/payment/idempotency"
	"github.com/smallbiznis/payflow/internal/payment/paymenttest"
	"github.com/smallbiznis/payflow/internal/payment/repository"
	paymentservice "github.com/smallbiznis/payflow/internal/payment/service"
	"github.com/smallbiznis/payflow/internal/payment/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const secret = "whsec_test"

type fixture struct {
	webhooks domain.WebhookService
	payments domain.Service
	adapter  *mock.Adapter
	cache    cache.PaymentCache
	db       *gorm.DB
}

func newFixture(t *testing.T, repo domain.Repository) *fixture {
	t.Helper()
	db := paymenttest.NewDB(t)
	if repo == nil {
		repo = repository.Provide()
	}
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	adapter := mock.New(secret, "created")
	paymentCache := cache.NewPaymentCache(cache.NewMemoryBackend(time.Minute), time.Minute, 50*time.Millisecond, zap.NewNop(), nil)
	normalizer := domain.NewNormalizer(config.NewStaticStatusAliasHolder(nil))
	clk := clock.NewFakeClock(time.Now())

	return &fixture{
		webhooks: webhook.NewService(webhook.Params{
			DB:         db,
			Log:        zap.NewNop(),
			Clock:      clk,
			GenID:      node,
			Repo:       repo,
			Adapter:    adapter,
			Cache:      paymentCache,
			Normalizer: normalizer,
		}),
		payments: paymentservice.NewService(paymentservice.Params{
			DB:         db,
			Log:        zap.NewNop(),
			Clock:      clk,
			Repo:       repo,
			Adapter:    adapter,
			Cache:      paymentCache,
			Normalizer: normalizer,
			IDs:        idempotency.NewGenerator(),
		}),
		adapter: adapter,
		cache:   paymentCache,
		db:      db,
	}
}

func (f *fixture) createPayment(t *testing.T) string {
	t.Helper()
	res, err := f.payments.CreatePayment(context.Background(), domain.CreatePaymentRequest{
		Amount:        "25.50",
		Currency:      "EUR",
		CustomerID:    fmt.Sprintf("cus_%d", time.Now().UnixNano()),
		PaymentMethod: "pm_card_visa",
	})
	require.NoError(t, err)
	return res.PaymentID
}

func (f *fixture) deliver(t *testing.T, eventID, eventType, paymentID, status string) (*domain.WebhookAck, error) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":   eventID,
		"type": eventType,
		"data": map[string]any{"object": map[string]any{"id": paymentID, "status": status}},
	})
	require.NoError(t, err)
	return f.webhooks.IngestWebhook(context.Background(), payload, mock.Sign(secret, payload, time.Now()))
}

func countEvents(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM payment_webhook_events`).Scan(&count).Error)
	return count
}

func TestWebhookAppliesForwardMove(t *testing.T) {
	f := newFixture(t, nil)
	id := f.createPayment(t)

	ack, err := f.deliver(t, "evt_1", "payment.succeeded", id, "succeeded")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookAckStatus, ack.Status)
	assert.Equal(t, domain.StatusCompleted, paymenttest.StoredStatus(t, f.db, id))

	cached, ok := f.cache.Get(context.Background(), id)
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, cached.Status)
	assert.NotNil(t, cached.ProcessedAt)
}

func TestWebhookNeverRegresses(t *testing.T) {
	f := newFixture(t, nil)
	id := f.createPayment(t)

	res, err := f.payments.ProcessPayment(context.Background(), id, "capture")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, res.Status)

	ack, err := f.deliver(t, "evt_late", "payment_intent.processing", id, "processing")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookAckStatus, ack.Status)
	assert.Equal(t, domain.StatusCompleted, paymenttest.StoredStatus(t, f.db, id))

	got, err := f.payments.GetPayment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

func TestWebhookDuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	id := f.createPayment(t)

	_, err := f.deliver(t, "evt_1", "payment.authorized", id, "requires_capture")
	require.NoError(t, err)
	first := paymenttest.StoredStatus(t, f.db, id)

	ack, err := f.deliver(t, "evt_1", "payment.authorized", id, "requires_capture")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookAckStatus, ack.Status)
	assert.Equal(t, first, paymenttest.StoredStatus(t, f.db, id))
	assert.Equal(t, domain.StatusAuthorized, first)
	assert.EqualValues(t, 1, countEvents(t, f.db))

	// same status under a new event id is also a no-op
	_, err = f.deliver(t, "evt_2", "payment.authorized", id, "requires_capture")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAuthorized, paymenttest.StoredStatus(t, f.db, id))
}

func TestWebhookUpdatedEventUsesObjectStatus(t *testing.T) {
	f := newFixture(t, nil)
	id := f.createPayment(t)

	_, err := f.deliver(t, "evt_1", "payment_intent.amount_capturable_updated", id, "requires_capture")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAuthorized, paymenttest.StoredStatus(t, f.db, id))

	_, err = f.deliver(t, "evt_2", "payment.updated", id, "canceled")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, paymenttest.StoredStatus(t, f.db, id))
}

func TestWebhookUnknownTypeIsAcknowledged(t *testing.T) {
	f := newFixture(t, nil)
	id := f.createPayment(t)

	ack, err := f.deliver(t, "evt_1", "charge.dispute.funds_withdrawn", id, "needs_response")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookAckStatus, ack.Status)
	assert.Equal(t, domain.StatusCreated, paymenttest.StoredStatus(t, f.db, id))
}

func TestWebhookUnknownRecordIsAcknowledged(t *testing.T) {
	f := newFixture(t, nil)

	ack, err := f.deliver(t, "evt_1", "payment.succeeded", "mock_unknown", "succeeded")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookAckStatus, ack.Status)

	items, err := f.payments.ListPayments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestWebhookRedeliveryAppliesOnceRecordExists(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.deliver(t, "evt_1", "payment.succeeded", "mock_late", "succeeded")
	require.NoError(t, err)
	stored, err := repository.Provide().FindEvent(ctx, f.db, "mock", "evt_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Nil(t, stored.ProcessedAt)

	paymenttest.SeedPayment(t, f.db, "mock_late", domain.StatusCreated, time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC))
	_, err = f.deliver(t, "evt_1", "payment.succeeded", "mock_late", "succeeded")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, paymenttest.StoredStatus(t, f.db, "mock_late"))
	assert.EqualValues(t, 1, countEvents(t, f.db))

	stored, err = repository.Provide().FindEvent(ctx, f.db, "mock", "evt_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotNil(t, stored.ProcessedAt)
}

func TestWebhookBadSignatureIsRejectedBeforeParsing(t *testing.T) {
	f := newFixture(t, nil)
	id := f.createPayment(t)
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","type":"payment.succeeded","data":{"object":{"id":%q}}}`, id))

	_, err := f.webhooks.IngestWebhook(context.Background(), payload, mock.Sign("whsec_wrong", payload, time.Now()))
	require.Error(t, err)
	assert.True(t, ierr.IsVerification(err))
	assert.Equal(t, domain.StatusCreated, paymenttest.StoredStatus(t, f.db, id))
	assert.EqualValues(t, 0, countEvents(t, f.db))

	_, err = f.webhooks.IngestWebhook(context.Background(), []byte("not json"), "")
	require.Error(t, err)
	assert.True(t, ierr.IsVerification(err))
}

// racingRepo simulates a client capture landing between the webhook's read
// and its conditional update.
type racingRepo struct {
	domain.Repository
	raceTo domain.Status
	raced  bool
}

func (r *racingRepo) UpdateStatus(ctx context.Context, db *gorm.DB, id string, from, to domain.Status, at time.Time) (bool, error) {
	if !r.raced {
		r.raced = true
		if _, err := r.Repository.UpdateStatus(ctx, db, id, from, r.raceTo, at); err != nil {
			return false, err
		}
	}
	return r.Repository.UpdateStatus(ctx, db, id, from, to, at)
}

func TestWebhookLosingRaceBecomesNoop(t *testing.T) {
	repo := &racingRepo{Repository: repository.Provide(), raceTo: domain.StatusCompleted}
	f := newFixture(t, repo)
	id := f.createPayment(t)

	ack, err := f.deliver(t, "evt_1", "payment.authorized", id, "requires_capture")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookAckStatus, ack.Status)
	assert.Equal(t, domain.StatusCompleted, paymenttest.StoredStatus(t, f.db, id))
}

func TestConcurrentCaptureAndWebhook(t *testing.T) {
	f := newFixture(t, nil)
	id := f.createPayment(t)
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","type":"payment.authorized","data":{"object":{"id":%q,"status":"requires_capture"}}}`, id))
	header := mock.Sign(secret, payload, time.Now())

	var wg sync.WaitGroup
	var captureErr, webhookErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, captureErr = f.payments.ProcessPayment(context.Background(), id, "capture")
	}()
	go func() {
		defer wg.Done()
		_, webhookErr = f.webhooks.IngestWebhook(context.Background(), payload, header)
	}()
	wg.Wait()

	require.NoError(t, captureErr)
	require.NoError(t, webhookErr)
	assert.Equal(t, domain.StatusCompleted, paymenttest.StoredStatus(t, f.db, id))
}
