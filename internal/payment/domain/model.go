package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Payment is the locally persisted view of a processor-side payment.
// ID is the identifier assigned by the processor adapter.
type Payment struct {
	ID            string                                `json:"id" gorm:"primaryKey;type:varchar(191)"`
	Provider      string                                `json:"provider" gorm:"type:varchar(64);not null"`
	Amount        decimal.Decimal                       `json:"amount" gorm:"type:numeric(18,3);not null"`
	Currency      string                                `json:"currency" gorm:"type:char(3);not null"`
	CustomerID    string                                `json:"customer_id" gorm:"type:varchar(191);not null;index"`
	PaymentMethod string                                `json:"payment_method" gorm:"type:varchar(191);not null"`
	Metadata      datatypes.JSONType[map[string]string] `json:"metadata" gorm:"not null"`
	Status        Status                                `json:"status" gorm:"type:varchar(32);not null"`
	CreatedAt     time.Time                             `json:"created_at" gorm:"not null;index:ix_payments_created_at"`
	ProcessedAt   *time.Time                            `json:"processed_at"`
}

func (Payment) TableName() string { return "payments" }

// TimestampPrecision is the finest resolution every supported store keeps.
// Postgres timestamptz stops at microseconds.
const TimestampPrecision = time.Microsecond

// StoredTime returns t as the store will read it back, so cached snapshots
// and store reads carry identical timestamps.
func StoredTime(t time.Time) time.Time {
	return t.UTC().Truncate(TimestampPrecision)
}

// MetadataMap returns a copy of the stored metadata, never nil.
func (p *Payment) MetadataMap() map[string]string {
	out := map[string]string{}
	if p == nil {
		return out
	}
	for k, v := range p.Metadata.Data() {
		out[k] = v
	}
	return out
}

// WithStatus returns a copy of p moved to status at processedAt.
func (p Payment) WithStatus(status Status, processedAt time.Time) Payment {
	at := StoredTime(processedAt)
	p.Status = status
	p.ProcessedAt = &at
	return p
}

// EventRecord is one received webhook delivery, used to deduplicate redeliveries.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Provider        string         `json:"provider" gorm:"type:varchar(64);not null;uniqueIndex:ux_payment_webhook_events_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_webhook_events_provider_event"`
	EventType       string         `json:"event_type" gorm:"type:varchar(128);not null"`
	PaymentID       string         `json:"payment_id" gorm:"type:varchar(191);not null;index"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_webhook_events" }
