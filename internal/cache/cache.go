package cache

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payflow/internal/payment/domain"
	"gorm.io/datatypes"
)

// ErrMiss is returned by a Backend when the key is absent or expired.
var ErrMiss = errors.New("cache_miss")

// PaymentCache is a disposable copy of payment records. Implementations never
// return errors: failures degrade to a miss or a no-op.
type PaymentCache interface {
	Get(ctx context.Context, id string) (*domain.Payment, bool)
	Set(ctx context.Context, payment *domain.Payment)
	Delete(ctx context.Context, id string)
}

// Backend stores opaque values with a TTL.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

func paymentKey(id string) string {
	return "payment:" + id
}

// snapshot is the serialized form of a payment record.
type snapshot struct {
	ID            string            `json:"id"`
	Provider      string            `json:"provider"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	CustomerID    string            `json:"customer_id"`
	PaymentMethod string            `json:"payment_method"`
	Metadata      map[string]string `json:"metadata"`
	Status        domain.Status     `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	ProcessedAt   *time.Time        `json:"processed_at,omitempty"`
}

func newSnapshot(p *domain.Payment) snapshot {
	return snapshot{
		ID:            p.ID,
		Provider:      p.Provider,
		Amount:        p.Amount,
		Currency:      p.Currency,
		CustomerID:    p.CustomerID,
		PaymentMethod: p.PaymentMethod,
		Metadata:      p.MetadataMap(),
		Status:        p.Status,
		CreatedAt:     p.CreatedAt,
		ProcessedAt:   p.ProcessedAt,
	}
}

func (s snapshot) payment() *domain.Payment {
	metadata := s.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &domain.Payment{
		ID:            s.ID,
		Provider:      s.Provider,
		Amount:        s.Amount,
		Currency:      s.Currency,
		CustomerID:    s.CustomerID,
		PaymentMethod: s.PaymentMethod,
		Metadata:      datatypes.NewJSONType(metadata),
		Status:        s.Status,
		CreatedAt:     s.CreatedAt,
		ProcessedAt:   s.ProcessedAt,
	}
}
