package service

import (
	"context"
	"strings"

	"github.com/samber/lo"
	"github.com/smallbiznis/payflow/internal/cache"
	"github.com/smallbiznis/payflow/internal/clock"
	ierr "github.com/smallbiznis/payflow/internal/errors"
	"github.com/smallbiznis/payflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	"github.com/smallbiznis/payflow/internal/observability/tracing"
	"github.com/smallbiznis/payflow/internal/payment/domain"
	"github.com/smallbiznis/payflow/internal/payment/idempotency"
	"github.com/smallbiznis/payflow/pkg/db"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// maxTransitionAttempts bounds the conditional update retries when another
// writer moves the record between our read and our write.
const maxTransitionAttempts = 3

const transitionSourceClient = "client"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       domain.Repository
	Adapter    domain.PaymentAdapter
	Cache      cache.PaymentCache
	Normalizer *domain.Normalizer
	IDs        *idempotency.Generator
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       domain.Repository
	adapter    domain.PaymentAdapter
	cache      cache.PaymentCache
	normalizer *domain.Normalizer
	ids        *idempotency.Generator
	obsMetrics *obsmetrics.Metrics
	tracer     trace.Tracer
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		adapter:    p.Adapter,
		cache:      p.Cache,
		normalizer: p.Normalizer,
		ids:        p.IDs,
		obsMetrics: p.ObsMetrics,
		tracer:     otel.Tracer("payflow/payment"),
	}
}

func (s *Service) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "payment.create")
	defer span.End()

	amount, err := domain.ValidateMoney(req.Amount, req.Currency)
	if err != nil {
		return nil, s.fail(span, err)
	}
	currency := req.Currency
	customerID := strings.TrimSpace(req.CustomerID)
	paymentMethod := strings.TrimSpace(req.PaymentMethod)
	metadata := lo.Assign(map[string]string{}, req.Metadata)
	token, keyed := s.ids.PaymentKey(idempotency.PaymentRequest{
		RequestKey:    req.IdempotencyKey,
		CustomerID:    customerID,
		PaymentMethod: paymentMethod,
		Amount:        domain.FormatAmount(amount, currency),
		Currency:      currency,
		Metadata:      metadata,
	})

	log := logger.WithContext(ctx, s.log).With(
		zap.String("provider", s.adapter.Provider()),
		zap.String("currency", currency),
		zap.String("idempotency_key", token),
		zap.Bool("caller_key", keyed),
	)

	result, err := s.adapter.Create(ctx, domain.CreateRequest{
		Amount:         amount,
		Currency:       currency,
		CustomerID:     customerID,
		PaymentMethod:  paymentMethod,
		Metadata:       metadata,
		IdempotencyKey: token,
	})
	if err != nil {
		log.Warn("processor rejected payment", zap.Error(err))
		return nil, s.fail(span, processingError("create", err))
	}
	externalID := ""
	if result != nil {
		externalID = strings.TrimSpace(result.ExternalID)
	}
	if externalID == "" {
		log.Error("processor accepted payment without an id")
		return nil, s.fail(span, ierr.NewError("processor returned an empty payment id").
			WithHint("The payment processor returned an invalid response").
			Mark(domain.ErrMissingExternalID, ierr.ErrProcessing))
	}

	status := s.normalizer.Normalize(result.Status)
	if status == "" {
		status = domain.StatusCreated
	}
	payment := domain.Payment{
		ID:            externalID,
		Provider:      s.adapter.Provider(),
		Amount:        amount,
		Currency:      currency,
		CustomerID:    customerID,
		PaymentMethod: paymentMethod,
		Metadata:      datatypes.NewJSONType(metadata),
		Status:        status,
		CreatedAt:     domain.StoredTime(s.clock.Now()),
	}
	span.SetAttributes(attribute.String("payment.id", payment.ID), attribute.String("payment.status", string(status)))
	log = logger.WithPayment(log, payment.ID)

	if err := s.repo.Insert(ctx, s.db, &payment); err != nil {
		if keyed && db.IsDuplicateKeyErr(err) {
			// the processor replayed a create sent with the same request key
			existing, findErr := s.repo.FindByID(ctx, s.db, payment.ID)
			if findErr == nil && existing != nil {
				log.Info("payment already recorded for idempotent create")
				s.cache.Set(ctx, existing)
				resp := createResponse(existing)
				resp.Replayed = true
				return resp, nil
			}
		}
		log.Error("payment accepted by processor but not persisted",
			zap.String("status", string(status)),
			zap.Error(err),
		)
		s.obsMetrics.RecordPersistenceError(ctx, "create")
		return nil, s.fail(span, persistenceError(err, "create", payment.ID))
	}

	s.cache.Set(ctx, &payment)
	s.obsMetrics.RecordPaymentCreated(ctx, payment.Provider, payment.Currency)
	log.Info("payment created", zap.String("status", string(status)))
	return createResponse(&payment), nil
}

func (s *Service) GetPayment(ctx context.Context, id string) (*domain.PaymentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "payment.get")
	defer span.End()

	id, err := requireID(id)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if cached, ok := s.cache.Get(ctx, id); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return domain.NewPaymentResponse(cached), nil
	}

	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, s.fail(span, persistenceError(err, "get", id))
	}
	if payment == nil {
		return nil, s.fail(span, notFound(id))
	}
	s.cache.Set(ctx, payment)
	return domain.NewPaymentResponse(payment), nil
}

func (s *Service) ListPayments(ctx context.Context) ([]domain.PaymentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "payment.list")
	defer span.End()

	items, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, s.fail(span, persistenceError(err, "list", ""))
	}
	return lo.Map(items, func(item domain.Payment, _ int) domain.PaymentResponse {
		return *domain.NewPaymentResponse(&item)
	}), nil
}

func (s *Service) ProcessPayment(ctx context.Context, id string, rawAction string) (*domain.ProcessPaymentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "payment.process")
	defer span.End()

	id, err := requireID(id)
	if err != nil {
		return nil, s.fail(span, err)
	}
	action, ok := domain.ParseAction(rawAction)
	if !ok {
		return nil, s.fail(span, ierr.NewErrorf("unsupported action %q", rawAction).
			WithHintf("Unsupported action: %s", rawAction).
			WithReportableDetails(map[string]any{"allowed": []string{"capture", "refund", "cancel"}}).
			Mark(domain.ErrInvalidAction, ierr.ErrValidation))
	}
	span.SetAttributes(attribute.String("payment.id", id), attribute.String("payment.action", string(action)))
	log := logger.WithPayment(logger.WithContext(ctx, s.log), id).With(zap.String("action", string(action)))

	// legality is always decided on the store, never the cache
	current, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, s.fail(span, persistenceError(err, "process", id))
	}
	if current == nil {
		return nil, s.fail(span, notFound(id))
	}
	if !action.AllowedFrom(current.Status) {
		return nil, s.fail(span, ierr.NewErrorf("cannot %s payment %s in status %s", action, id, current.Status).
			WithHintf("Cannot %s a payment in status %s", action, current.Status).
			WithReportableDetails(map[string]any{"payment_id": id, "status": string(current.Status)}).
			Mark(domain.ErrInvalidTransition, ierr.ErrValidation))
	}

	result, err := s.callAction(ctx, action, id)
	if err != nil {
		log.Warn("processor rejected action", zap.Error(err))
		return nil, s.fail(span, processingError(string(action), err))
	}

	target := domain.Status("")
	if result != nil {
		target = s.normalizer.Normalize(result.Status)
	}
	if target == "" {
		target = action.Outcome()
	}
	if domain.Regresses(current.Status, target) {
		log.Warn("processor reported a status behind the stored one",
			zap.String("stored_status", string(current.Status)),
			zap.String("reported_status", string(target)),
		)
		return processResponse(current), nil
	}

	updated, err := s.transition(ctx, log, current, target)
	if err != nil {
		return nil, s.fail(span, err)
	}
	span.SetAttributes(attribute.String("payment.status", string(updated.Status)))
	return processResponse(updated), nil
}

func (s *Service) callAction(ctx context.Context, action domain.Action, id string) (*domain.ActionResult, error) {
	switch action {
	case domain.ActionCapture:
		return s.adapter.Capture(ctx, id)
	case domain.ActionRefund:
		return s.adapter.Refund(ctx, id)
	case domain.ActionCancel:
		return s.adapter.Cancel(ctx, id)
	}
	return nil, ierr.NewErrorf("unsupported action %q", action).Mark(domain.ErrUnsupportedAction, ierr.ErrValidation)
}

// transition writes target with a conditional update keyed on the status we
// last observed. When another writer wins, the latest state is returned if it
// already reached target, and the write is retried while target is still a
// forward move.
func (s *Service) transition(ctx context.Context, log *zap.Logger, current *domain.Payment, target domain.Status) (*domain.Payment, error) {
	observed := current
	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		now := domain.StoredTime(s.clock.Now())
		ok, err := s.repo.UpdateStatus(ctx, s.db, observed.ID, observed.Status, target, now)
		if err != nil {
			log.Error("processor applied action but status was not persisted",
				zap.String("target_status", string(target)),
				zap.Error(err),
			)
			s.obsMetrics.RecordPersistenceError(ctx, "transition")
			return nil, persistenceError(err, "transition", observed.ID)
		}
		if ok {
			updated := observed.WithStatus(target, now)
			s.cache.Set(ctx, &updated)
			s.obsMetrics.RecordTransition(ctx, transitionSourceClient, string(observed.Status), string(target))
			log.Info("payment transitioned",
				zap.String("from", string(observed.Status)),
				zap.String("to", string(target)),
			)
			return &updated, nil
		}

		latest, err := s.repo.FindByID(ctx, s.db, observed.ID)
		if err != nil {
			s.obsMetrics.RecordPersistenceError(ctx, "transition")
			return nil, persistenceError(err, "transition", observed.ID)
		}
		if latest == nil {
			s.obsMetrics.RecordPersistenceError(ctx, "transition")
			return nil, persistenceError(domain.ErrPaymentNotFound, "transition", observed.ID)
		}
		if latest.Status == target || domain.Advances(target, latest.Status) {
			log.Info("concurrent writer already moved payment",
				zap.String("status", string(latest.Status)),
				zap.Int("attempt", attempt),
			)
			s.cache.Set(ctx, latest)
			return latest, nil
		}
		if !domain.Advances(latest.Status, target) {
			break
		}
		observed = latest
	}

	log.Error("status conflict after processor applied action", zap.String("target_status", string(target)))
	s.obsMetrics.RecordPersistenceError(ctx, "transition")
	return nil, ierr.NewErrorf("payment %s could not be moved to %s", current.ID, target).
		WithHint("The payment changed concurrently and could not be updated").
		WithReportableDetails(map[string]any{"payment_id": current.ID, "target_status": string(target)}).
		Mark(domain.ErrStatusConflict, ierr.ErrPersistence)
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(tracing.SafeError(err))
	span.SetStatus(codes.Error, ierr.Code(err))
	return err
}

func requireID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ierr.NewError("payment id is required").
			WithHint("Payment id is required").
			Mark(domain.ErrInvalidPaymentID, ierr.ErrValidation)
	}
	return id, nil
}

func notFound(id string) error {
	return ierr.NewErrorf("payment %s not found", id).
		WithHintf("Payment %s not found", id).
		WithReportableDetails(map[string]any{"payment_id": id}).
		Mark(domain.ErrPaymentNotFound, ierr.ErrNotFound)
}

// processingError keeps classified adapter errors as they are; anything else
// is reported as a processing failure.
func processingError(op string, err error) error {
	if ierr.IsValidation(err) || ierr.IsNotFound(err) || ierr.IsProcessing(err) {
		return err
	}
	return ierr.WithError(err).
		WithHintf("Payment processor %s failed", op).
		Mark(ierr.ErrProcessing)
}

func persistenceError(err error, op string, id string) error {
	details := map[string]any{"operation": op}
	if id != "" {
		details["payment_id"] = id
	}
	return ierr.WithError(err).
		WithHint("Payment state could not be stored").
		WithReportableDetails(details).
		Mark(ierr.ErrPersistence)
}

func createResponse(p *domain.Payment) *domain.CreatePaymentResponse {
	return &domain.CreatePaymentResponse{
		PaymentID: p.ID,
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
	}
}

func processResponse(p *domain.Payment) *domain.ProcessPaymentResponse {
	return &domain.ProcessPaymentResponse{
		PaymentID:   p.ID,
		Status:      p.Status,
		ProcessedAt: p.ProcessedAt,
	}
}
