package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	ierr "github.com/smallbiznis/payflow/internal/errors"
	"github.com/smallbiznis/payflow/internal/payment/domain"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	ProviderName = "stripe"

	signatureTolerance = 5 * time.Minute
)

type Factory struct {
	opts []stripeapi.ClientOption
}

// NewFactory accepts client options so tests can point the client at a fake
// API server.
func NewFactory(opts ...stripeapi.ClientOption) *Factory {
	return &Factory{opts: opts}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.PaymentAdapter, error) {
	secretKey := strings.TrimSpace(readString(cfg.Config, "secret_key"))
	if secretKey == "" {
		return nil, ierr.NewError("stripe adapter requires a secret key").
			WithHint("Set STRIPE_SECRET_KEY").
			Mark(domain.ErrInvalidConfig, ierr.ErrValidation)
	}
	webhookSecret := strings.TrimSpace(readString(cfg.Config, "webhook_secret"))
	if webhookSecret == "" {
		return nil, ierr.NewError("stripe adapter requires a webhook secret").
			WithHint("Set STRIPE_WEBHOOK_SECRET").
			Mark(domain.ErrInvalidConfig, ierr.ErrValidation)
	}

	return &Adapter{
		client:        stripeapi.NewClient(secretKey, f.opts...),
		webhookSecret: webhookSecret,
	}, nil
}

// Adapter drives Stripe PaymentIntents. Payments are created with manual
// capture so capture and cancel are explicit lifecycle steps.
type Adapter struct {
	client        *stripeapi.Client
	webhookSecret string
}

func (a *Adapter) Provider() string {
	return ProviderName
}

func (a *Adapter) Create(ctx context.Context, req domain.CreateRequest) (*domain.CreateResult, error) {
	params := &stripeapi.PaymentIntentCreateParams{
		Amount:        stripeapi.Int64(domain.ToMinorUnits(req.Amount, req.Currency)),
		Currency:      stripeapi.String(strings.ToLower(req.Currency)),
		CaptureMethod: stripeapi.String(string(stripeapi.PaymentIntentCaptureMethodManual)),
	}
	method := strings.TrimSpace(req.PaymentMethod)
	switch {
	case strings.HasPrefix(method, "pm_"):
		params.PaymentMethod = stripeapi.String(method)
		params.Confirm = stripeapi.Bool(true)
		params.PaymentMethodTypes = []*string{stripeapi.String("card")}
	case method != "":
		params.PaymentMethodTypes = []*string{stripeapi.String(method)}
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.CustomerID != "" {
		params.AddMetadata("customer_id", req.CustomerID)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	intent, err := a.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, mapError("create", err)
	}
	return &domain.CreateResult{ExternalID: intent.ID, Status: string(intent.Status)}, nil
}

func (a *Adapter) Capture(ctx context.Context, externalID string) (*domain.ActionResult, error) {
	intent, err := a.client.V1PaymentIntents.Capture(ctx, externalID, &stripeapi.PaymentIntentCaptureParams{})
	if err != nil {
		return nil, mapError("capture", err)
	}
	return &domain.ActionResult{ExternalID: intent.ID, Status: string(intent.Status)}, nil
}

func (a *Adapter) Cancel(ctx context.Context, externalID string) (*domain.ActionResult, error) {
	intent, err := a.client.V1PaymentIntents.Cancel(ctx, externalID, &stripeapi.PaymentIntentCancelParams{})
	if err != nil {
		return nil, mapError("cancel", err)
	}
	return &domain.ActionResult{ExternalID: intent.ID, Status: string(intent.Status)}, nil
}

// Refund refunds the full captured amount. A refund Stripe has not settled yet
// leaves the payment completed; the charge.refunded webhook finishes it.
func (a *Adapter) Refund(ctx context.Context, externalID string) (*domain.ActionResult, error) {
	refund, err := a.client.V1Refunds.Create(ctx, &stripeapi.RefundCreateParams{
		PaymentIntent: stripeapi.String(externalID),
	})
	if err != nil {
		return nil, mapError("refund", err)
	}

	switch refund.Status {
	case stripeapi.RefundStatusSucceeded:
		return &domain.ActionResult{ExternalID: externalID, Status: string(domain.StatusRefunded)}, nil
	case stripeapi.RefundStatusFailed, stripeapi.RefundStatusCanceled:
		return nil, ierr.NewErrorf("refund %s ended in status %s", refund.ID, refund.Status).
			WithHint("The processor could not refund this payment").
			WithReportableDetails(map[string]any{"refund_id": refund.ID, "status": string(refund.Status)}).
			Mark(ierr.ErrProcessing)
	default:
		return &domain.ActionResult{ExternalID: externalID, Status: string(domain.StatusCompleted)}, nil
	}
}

func (a *Adapter) ListRecent(ctx context.Context, since time.Time, limit int) ([]domain.ProcessorPayment, error) {
	params := &stripeapi.PaymentIntentListParams{
		CreatedRange: &stripeapi.RangeQueryParams{GreaterThanOrEqual: since.Unix()},
	}
	if limit > 0 && limit <= 100 {
		params.Limit = stripeapi.Int64(int64(limit))
	}

	out := []domain.ProcessorPayment{}
	for intent, err := range a.client.V1PaymentIntents.List(ctx, params) {
		if err != nil {
			return nil, mapError("list", err)
		}
		out = append(out, toProcessorPayment(intent))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func toProcessorPayment(intent *stripeapi.PaymentIntent) domain.ProcessorPayment {
	currency := strings.ToUpper(string(intent.Currency))
	metadata := map[string]string{}
	for k, v := range intent.Metadata {
		metadata[k] = v
	}
	customerID := metadata["customer_id"]
	delete(metadata, "customer_id")
	if customerID == "" && intent.Customer != nil {
		customerID = intent.Customer.ID
	}
	method := ""
	if intent.PaymentMethod != nil {
		method = intent.PaymentMethod.ID
	} else if len(intent.PaymentMethodTypes) > 0 {
		method = intent.PaymentMethodTypes[0]
	}
	return domain.ProcessorPayment{
		ExternalID:    intent.ID,
		Amount:        domain.FromMinorUnits(intent.Amount, currency),
		Currency:      currency,
		CustomerID:    customerID,
		PaymentMethod: method,
		Metadata:      metadata,
		Status:        string(intent.Status),
		CreatedAt:     time.Unix(intent.Created, 0).UTC(),
	}
}

type stripeEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object stripeObject `json:"object"`
}

// stripeObject covers payment intents and charges. Charge events are mapped
// back to their payment intent.
type stripeObject struct {
	ID            string `json:"id"`
	Object        string `json:"object"`
	Status        string `json:"status"`
	PaymentIntent string `json:"payment_intent"`
}

func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, signatureHeader string) (*domain.WebhookEvent, error) {
	if err := webhook.ValidatePayloadWithTolerance(payload, signatureHeader, a.webhookSecret, signatureTolerance); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Webhook signature could not be verified").
			Mark(domain.ErrInvalidSignature, ierr.ErrVerification)
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Webhook payload is not valid JSON").
			Mark(domain.ErrInvalidPayload, ierr.ErrValidation)
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, ierr.NewError("webhook event is missing an id").
			Mark(domain.ErrInvalidPayload, ierr.ErrValidation)
	}

	object := event.Data.Object
	objectID := object.ID
	if object.Object == "charge" && object.PaymentIntent != "" {
		objectID = object.PaymentIntent
	}
	return &domain.WebhookEvent{
		ID:   event.ID,
		Type: event.Type,
		Object: domain.WebhookObject{
			ID:     objectID,
			Status: object.Status,
		},
	}, nil
}

func mapError(op string, err error) error {
	var stripeErr *stripeapi.Error
	if !errors.As(err, &stripeErr) {
		return ierr.WithError(err).
			WithHintf("Stripe %s request failed", op).
			Mark(ierr.ErrProcessing)
	}

	details := map[string]any{
		"operation":   op,
		"code":        string(stripeErr.Code),
		"type":        string(stripeErr.Type),
		"http_status": stripeErr.HTTPStatusCode,
	}
	if stripeErr.DeclineCode != "" {
		details["decline_code"] = string(stripeErr.DeclineCode)
	}
	builder := ierr.WithError(err).WithReportableDetails(details)

	switch {
	case stripeErr.Code == stripeapi.ErrorCodeCardDeclined || stripeErr.Type == stripeapi.ErrorTypeCard:
		return builder.WithHint(declineHint(stripeErr)).Mark(ierr.ErrDeclined, ierr.ErrProcessing)
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.Code == stripeapi.ErrorCodeRateLimit:
		return builder.WithHint("The payment processor is rate limiting requests").
			Mark(ierr.ErrRateLimited, ierr.ErrProcessing)
	case stripeErr.HTTPStatusCode == http.StatusUnauthorized || stripeErr.HTTPStatusCode == http.StatusForbidden:
		return builder.WithHint("The payment processor rejected our credentials").
			Mark(ierr.ErrAuthentication, ierr.ErrProcessing)
	case stripeErr.Code == stripeapi.ErrorCodeResourceMissing:
		return builder.WithHint("Payment does not exist at the processor").Mark(ierr.ErrNotFound)
	}
	return builder.WithHintf("Stripe %s request failed", op).Mark(ierr.ErrProcessing)
}

func declineHint(stripeErr *stripeapi.Error) string {
	if msg := strings.TrimSpace(stripeErr.Msg); msg != "" {
		return msg
	}
	return "The payment method was declined"
}

func readString(config map[string]any, key string) string {
	value, ok := config[key]
	if !ok {
		return ""
	}
	cast, _ := value.(string)
	return cast
}
