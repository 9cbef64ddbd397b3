package mock

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	ierr "github.com/smallbiznis/payflow/internal/errors"
	"github.com/smallbiznis/payflow/internal/payment/domain"
)

const (
	ProviderName = "mock"

	// DeclinedPaymentMethod always fails on create, like a processor test card.
	DeclinedPaymentMethod = "pm_card_declined"

	defaultInitialStatus = "requires_capture"
	signatureTolerance   = 5 * time.Minute
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.PaymentAdapter, error) {
	secret := strings.TrimSpace(readString(cfg.Config, "webhook_secret"))
	if secret == "" {
		return nil, ierr.NewError("mock adapter requires a webhook secret").
			WithHint("Set MOCK_WEBHOOK_SECRET").
			Mark(domain.ErrInvalidConfig, ierr.ErrValidation)
	}
	initial := strings.TrimSpace(readString(cfg.Config, "initial_status"))
	if initial == "" {
		initial = defaultInitialStatus
	}
	return New(secret, initial), nil
}

// Adapter is an in-process processor. Payments live in memory for the life of
// the process.
type Adapter struct {
	webhookSecret string
	initialStatus string
	now           func() time.Time

	mu       sync.Mutex
	payments map[string]*payment
	byToken  map[string]string
}

type payment struct {
	id            string
	amount        decimal.Decimal
	currency      string
	customerID    string
	paymentMethod string
	metadata      map[string]string
	status        string
	createdAt     time.Time
}

func New(webhookSecret, initialStatus string) *Adapter {
	return &Adapter{
		webhookSecret: webhookSecret,
		initialStatus: initialStatus,
		now:           func() time.Time { return time.Now().UTC() },
		payments:      map[string]*payment{},
		byToken:       map[string]string{},
	}
}

func (a *Adapter) Provider() string {
	return ProviderName
}

func (a *Adapter) Create(ctx context.Context, req domain.CreateRequest) (*domain.CreateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, ierr.NewErrorf("amount must be positive: %s", req.Amount).
			WithHintf("Invalid amount: %s", req.Amount).
			Mark(ierr.ErrValidation)
	}
	if req.PaymentMethod == DeclinedPaymentMethod {
		return nil, ierr.NewError("card declined").
			WithHint("Your card was declined").
			WithReportableDetails(map[string]any{"decline_code": "generic_decline"}).
			Mark(ierr.ErrDeclined, ierr.ErrProcessing)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if req.IdempotencyKey != "" {
		if id, ok := a.byToken[req.IdempotencyKey]; ok {
			existing := a.payments[id]
			return &domain.CreateResult{ExternalID: existing.id, Status: existing.status}, nil
		}
	}

	p := &payment{
		id:            "mock_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		amount:        req.Amount,
		currency:      req.Currency,
		customerID:    req.CustomerID,
		paymentMethod: req.PaymentMethod,
		metadata:      copyMetadata(req.Metadata),
		status:        a.initialStatus,
		createdAt:     a.now(),
	}
	a.payments[p.id] = p
	if req.IdempotencyKey != "" {
		a.byToken[req.IdempotencyKey] = p.id
	}
	return &domain.CreateResult{ExternalID: p.id, Status: p.status}, nil
}

func (a *Adapter) Capture(ctx context.Context, externalID string) (*domain.ActionResult, error) {
	return a.transition(ctx, externalID, "capture", "succeeded",
		"created", "requires_capture", "requires_payment_method", "requires_confirmation", "processing")
}

func (a *Adapter) Refund(ctx context.Context, externalID string) (*domain.ActionResult, error) {
	return a.transition(ctx, externalID, "refund", "refunded", "succeeded")
}

func (a *Adapter) Cancel(ctx context.Context, externalID string) (*domain.ActionResult, error) {
	return a.transition(ctx, externalID, "cancel", "canceled",
		"created", "requires_capture", "requires_payment_method", "requires_confirmation", "processing")
}

func (a *Adapter) transition(ctx context.Context, externalID, op, target string, from ...string) (*domain.ActionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.payments[externalID]
	if !ok {
		return nil, ierr.NewErrorf("no such payment: %s", externalID).
			WithHintf("Payment %s does not exist at the processor", externalID).
			Mark(ierr.ErrNotFound)
	}
	allowed := false
	for _, status := range from {
		if p.status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ierr.NewErrorf("cannot %s payment in status %s", op, p.status).
			WithReportableDetails(map[string]any{"payment_id": externalID, "status": p.status}).
			Mark(ierr.ErrProcessing)
	}
	p.status = target
	return &domain.ActionResult{ExternalID: p.id, Status: p.status}, nil
}

// SetStatus moves a payment to status out of band, the way a processor-side
// event would.
func (a *Adapter) SetStatus(externalID, status string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.payments[externalID]
	if !ok {
		return false
	}
	p.status = status
	return true
}

func (a *Adapter) ListRecent(ctx context.Context, since time.Time, limit int) ([]domain.ProcessorPayment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.ProcessorPayment, 0, len(a.payments))
	for _, p := range a.payments {
		if p.createdAt.Before(since) {
			continue
		}
		out = append(out, domain.ProcessorPayment{
			ExternalID:    p.id,
			Amount:        p.amount,
			Currency:      p.currency,
			CustomerID:    p.customerID,
			PaymentMethod: p.paymentMethod,
			Metadata:      copyMetadata(p.metadata),
			Status:        p.status,
			CreatedAt:     p.createdAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ExternalID < out[j].ExternalID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type mockEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"object"`
	} `json:"data"`
}

func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, signatureHeader string) (*domain.WebhookEvent, error) {
	if err := a.verifySignature(payload, signatureHeader); err != nil {
		return nil, err
	}

	var event mockEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Webhook payload is not valid JSON").
			Mark(domain.ErrInvalidPayload, ierr.ErrValidation)
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Data.Object.ID) == "" {
		return nil, ierr.NewError("webhook event is missing an id").
			WithHint("Webhook payload must carry an event id and an object id").
			Mark(domain.ErrInvalidPayload, ierr.ErrValidation)
	}
	return &domain.WebhookEvent{
		ID:   event.ID,
		Type: event.Type,
		Object: domain.WebhookObject{
			ID:     event.Data.Object.ID,
			Status: event.Data.Object.Status,
		},
	}, nil
}

func (a *Adapter) verifySignature(payload []byte, header string) error {
	timestamp, signatures, ok := parseSignature(header)
	if !ok {
		return invalidSignature("malformed signature header")
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return invalidSignature("malformed signature timestamp")
	}
	if age := a.now().Sub(time.Unix(ts, 0)); age > signatureTolerance || age < -signatureTolerance {
		return invalidSignature("signature timestamp outside tolerance")
	}

	expected := computeSignature(a.webhookSecret, timestamp, payload)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return invalidSignature("signature mismatch")
}

func invalidSignature(reason string) error {
	return ierr.NewError(reason).
		WithHint("Webhook signature could not be verified").
		Mark(domain.ErrInvalidSignature, ierr.ErrVerification)
}

// Sign builds a signature header for payload the way the mock processor does.
func Sign(secret string, payload []byte, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, computeSignature(secret, timestamp, payload))
}

func computeSignature(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignature(header string) (string, []string, bool) {
	var timestamp string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		switch strings.TrimSpace(keyValue[0]) {
		case "t":
			timestamp = strings.TrimSpace(keyValue[1])
		case "v1":
			signatures = append(signatures, strings.TrimSpace(keyValue[1]))
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, false
	}
	return timestamp, signatures, true
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func readString(config map[string]any, key string) string {
	value, ok := config[key]
	if !ok {
		return ""
	}
	cast, _ := value.(string)
	return cast
}
