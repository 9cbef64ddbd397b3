package domain

import (
	"context"
	"time"
)

type Service interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResponse, error)
	GetPayment(ctx context.Context, id string) (*PaymentResponse, error)
	ListPayments(ctx context.Context) ([]PaymentResponse, error)
	ProcessPayment(ctx context.Context, id string, action string) (*ProcessPaymentResponse, error)
}

type WebhookService interface {
	IngestWebhook(ctx context.Context, payload []byte, signatureHeader string) (*WebhookAck, error)
}

type CreatePaymentRequest struct {
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	CustomerID    string            `json:"customer_id"`
	PaymentMethod string            `json:"payment_method"`
	Metadata      map[string]string `json:"metadata,omitempty"`

	// IdempotencyKey makes retries of the same create return the same payment.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type CreatePaymentResponse struct {
	PaymentID string    `json:"payment_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	// Replayed is set when the idempotency key matched an earlier create.
	Replayed bool `json:"replayed,omitempty"`
}

type PaymentResponse struct {
	ID            string            `json:"id"`
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	CustomerID    string            `json:"customer_id"`
	PaymentMethod string            `json:"payment_method"`
	Metadata      map[string]string `json:"metadata"`
	Status        Status            `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	ProcessedAt   *time.Time        `json:"processed_at,omitempty"`
}

type ProcessPaymentResponse struct {
	PaymentID   string     `json:"payment_id"`
	Status      Status     `json:"status"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

type WebhookAck struct {
	Status string `json:"status"`
}

const WebhookAckStatus = "processed"

func NewPaymentResponse(p *Payment) *PaymentResponse {
	if p == nil {
		return nil
	}
	var processedAt *time.Time
	if p.ProcessedAt != nil {
		at := p.ProcessedAt.UTC()
		processedAt = &at
	}
	return &PaymentResponse{
		ID:            p.ID,
		Amount:        FormatAmount(p.Amount, p.Currency),
		Currency:      p.Currency,
		CustomerID:    p.CustomerID,
		PaymentMethod: p.PaymentMethod,
		Metadata:      p.MetadataMap(),
		Status:        p.Status,
		CreatedAt:     p.CreatedAt.UTC(),
		ProcessedAt:   processedAt,
	}
}
