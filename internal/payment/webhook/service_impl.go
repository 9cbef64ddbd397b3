package webhook

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/cache"
	"github.com/smallbiznis/payflow/internal/clock"
	ierr "github.com/smallbiznis/payflow/internal/errors"
	"github.com/smallbiznis/payflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	"github.com/smallbiznis/payflow/internal/observability/tracing"
	"github.com/smallbiznis/payflow/internal/payment/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxApplyAttempts = 3

const transitionSourceWebhook = "webhook"

// Delivery outcomes, also used as the metric label.
const (
	OutcomeApplied       = "applied"
	OutcomeUnchanged     = "unchanged"
	OutcomeDuplicate     = "duplicate"
	OutcomeIgnored       = "ignored"
	OutcomeUnknownRecord = "unknown_record"
	OutcomeRejected      = "rejected"
	OutcomeFailed        = "failed"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       domain.Repository
	Adapter    domain.PaymentAdapter
	Cache      cache.PaymentCache
	Normalizer *domain.Normalizer
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	repo       domain.Repository
	adapter    domain.PaymentAdapter
	cache      cache.PaymentCache
	normalizer *domain.Normalizer
	obsMetrics *obsmetrics.Metrics
	tracer     trace.Tracer
}

func NewService(p Params) domain.WebhookService {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		clock:      p.Clock,
		genID:      p.GenID,
		repo:       p.Repo,
		adapter:    p.Adapter,
		cache:      p.Cache,
		normalizer: p.Normalizer,
		obsMetrics: p.ObsMetrics,
		tracer:     otel.Tracer("payflow/webhook"),
	}
}

// IngestWebhook verifies a delivery and applies the status it reports when
// that status is ahead of the stored one. Duplicates, regressions, unknown
// event types and unknown records are acknowledged without a status write.
// Events for unknown records stay unprocessed so a redelivery can apply them.
func (s *Service) IngestWebhook(ctx context.Context, payload []byte, signatureHeader string) (*domain.WebhookAck, error) {
	ctx, span := s.tracer.Start(ctx, "payment.webhook")
	defer span.End()

	provider := s.adapter.Provider()
	log := logger.WithContext(ctx, s.log).With(zap.String("provider", provider))

	event, err := s.adapter.VerifyWebhook(ctx, payload, signatureHeader)
	if err != nil {
		log.Warn("webhook rejected", zap.Error(err))
		s.obsMetrics.RecordWebhookEvent(ctx, provider, "", OutcomeRejected)
		return nil, s.fail(span, verificationError(err))
	}

	paymentID := strings.TrimSpace(event.Object.ID)
	log = logger.WithPayment(log, paymentID).With(
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
	)
	span.SetAttributes(
		attribute.String("payment.id", paymentID),
		attribute.String("event.type", event.Type),
	)

	outcome, err := s.ingest(ctx, log, provider, event, payload)
	if err != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, provider, event.Type, OutcomeFailed)
		return nil, s.fail(span, err)
	}
	span.SetAttributes(attribute.String("webhook.outcome", outcome))
	s.obsMetrics.RecordWebhookEvent(ctx, provider, event.Type, outcome)
	return &domain.WebhookAck{Status: domain.WebhookAckStatus}, nil
}

func (s *Service) ingest(ctx context.Context, log *zap.Logger, provider string, event *domain.WebhookEvent, payload []byte) (string, error) {
	record := &domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		PaymentID:       strings.TrimSpace(event.Object.ID),
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      s.clock.Now(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		log.Error("webhook event not recorded", zap.Error(err))
		return "", persistenceError(err, "record_event", record.PaymentID)
	}
	if !inserted {
		stored, err := s.repo.FindEvent(ctx, s.db, provider, event.ID)
		if err != nil {
			return "", persistenceError(err, "record_event", record.PaymentID)
		}
		if stored != nil && stored.ProcessedAt != nil {
			log.Info("duplicate webhook delivery")
			return OutcomeDuplicate, nil
		}
		if stored != nil {
			// an earlier delivery was recorded but never finished
			record = stored
		}
	}

	outcome, err := s.apply(ctx, log, event)
	if err != nil {
		return "", err
	}
	if outcome == OutcomeUnknownRecord {
		// left unprocessed so a redelivery after the create commits still applies
		return outcome, nil
	}

	if err := s.repo.MarkEventProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
		log.Error("webhook applied but event not marked processed", zap.Error(err))
		return "", persistenceError(err, "mark_event", record.PaymentID)
	}
	return outcome, nil
}

func (s *Service) apply(ctx context.Context, log *zap.Logger, event *domain.WebhookEvent) (string, error) {
	target, ok := s.normalizer.EventStatus(event.Type, event.Object.Status)
	if !ok {
		log.Info("webhook event type carries no status")
		return OutcomeIgnored, nil
	}
	paymentID := strings.TrimSpace(event.Object.ID)
	if paymentID == "" {
		log.Warn("webhook event has no payment id")
		return OutcomeIgnored, nil
	}

	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		current, err := s.repo.FindByID(ctx, s.db, paymentID)
		if err != nil {
			return "", persistenceError(err, "apply", paymentID)
		}
		if current == nil {
			log.Warn("webhook for unknown payment", zap.String("status", string(target)))
			return OutcomeUnknownRecord, nil
		}
		if !domain.Advances(current.Status, target) {
			log.Info("webhook status not ahead of stored status",
				zap.String("stored_status", string(current.Status)),
				zap.String("reported_status", string(target)),
			)
			return OutcomeUnchanged, nil
		}

		now := domain.StoredTime(s.clock.Now())
		updated, err := s.repo.UpdateStatus(ctx, s.db, paymentID, current.Status, target, now)
		if err != nil {
			log.Error("webhook status not persisted", zap.Error(err))
			s.obsMetrics.RecordPersistenceError(ctx, "webhook")
			return "", persistenceError(err, "apply", paymentID)
		}
		if updated {
			next := current.WithStatus(target, now)
			s.cache.Set(ctx, &next)
			s.obsMetrics.RecordTransition(ctx, transitionSourceWebhook, string(current.Status), string(target))
			log.Info("webhook applied",
				zap.String("from", string(current.Status)),
				zap.String("to", string(target)),
			)
			return OutcomeApplied, nil
		}
	}

	s.obsMetrics.RecordPersistenceError(ctx, "webhook")
	return "", ierr.NewErrorf("payment %s kept changing while applying webhook", paymentID).
		WithHint("The payment changed concurrently, retry the delivery").
		WithReportableDetails(map[string]any{"payment_id": paymentID, "event_id": event.ID}).
		Mark(domain.ErrStatusConflict, ierr.ErrPersistence)
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(tracing.SafeError(err))
	span.SetStatus(codes.Error, ierr.Code(err))
	return err
}

// verificationError keeps payload errors found after a valid signature as
// validation errors; everything else is a verification failure.
func verificationError(err error) error {
	if ierr.IsVerification(err) || ierr.IsValidation(err) {
		return err
	}
	return ierr.WithError(err).
		WithHint("Webhook signature could not be verified").
		Mark(domain.ErrInvalidSignature, ierr.ErrVerification)
}

func persistenceError(err error, op string, paymentID string) error {
	return ierr.WithError(err).
		WithHint("Webhook could not be stored, the delivery should be retried").
		WithReportableDetails(map[string]any{"operation": op, "payment_id": paymentID}).
		Mark(ierr.ErrPersistence)
}
