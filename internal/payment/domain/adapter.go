package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentAdapter is the contract every payment processor integration fulfils.
// Errors are classified with the internal error kinds: processing (declined,
// rate limited, authentication), not found or validation.
type PaymentAdapter interface {
	Provider() string
	Create(ctx context.Context, req CreateRequest) (*CreateResult, error)
	Capture(ctx context.Context, externalID string) (*ActionResult, error)
	Refund(ctx context.Context, externalID string) (*ActionResult, error)
	Cancel(ctx context.Context, externalID string) (*ActionResult, error)
	// VerifyWebhook authenticates the raw payload before interpreting it.
	VerifyWebhook(ctx context.Context, payload []byte, signatureHeader string) (*WebhookEvent, error)
}

// PaymentLister is implemented by adapters that can enumerate recent
// processor-side payments for reconciliation.
type PaymentLister interface {
	ListRecent(ctx context.Context, since time.Time, limit int) ([]ProcessorPayment, error)
}

type CreateRequest struct {
	Amount         decimal.Decimal
	Currency       string
	CustomerID     string
	PaymentMethod  string
	Metadata       map[string]string
	IdempotencyKey string
}

type CreateResult struct {
	ExternalID string
	Status     string
}

type ActionResult struct {
	ExternalID string
	Status     string
}

type WebhookObject struct {
	ID     string
	Status string
}

type WebhookEvent struct {
	ID     string
	Type   string
	Object WebhookObject
}

// ProcessorPayment is a payment as reported by the processor.
type ProcessorPayment struct {
	ExternalID    string
	Amount        decimal.Decimal
	Currency      string
	CustomerID    string
	PaymentMethod string
	Metadata      map[string]string
	Status        string
	CreatedAt     time.Time
}

type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(config AdapterConfig) (PaymentAdapter, error)
}
