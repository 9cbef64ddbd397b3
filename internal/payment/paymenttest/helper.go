// Package paymenttest holds fixtures shared by the payment package tests.
package paymenttest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payflow/internal/migration"
	"github.com/smallbiznis/payflow/internal/payment/domain"
	"github.com/smallbiznis/payflow/internal/payment/repository"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// NewDB opens an isolated in-memory database with the schema built from the
// gorm models, the same path sqlite and mysql take at startup.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:payflow_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.AutoMigrate(db))
	return db
}

// SeedPayment stores a payment directly, bypassing the processor.
func SeedPayment(t *testing.T, db *gorm.DB, id string, status domain.Status, createdAt time.Time) *domain.Payment {
	t.Helper()
	payment := &domain.Payment{
		ID:            id,
		Provider:      "mock",
		Amount:        decimal.RequireFromString("25.50"),
		Currency:      "EUR",
		CustomerID:    "cus_1",
		PaymentMethod: "pm_card_visa",
		Metadata:      datatypes.NewJSONType(map[string]string{}),
		Status:        status,
		CreatedAt:     createdAt,
	}
	require.NoError(t, repository.Provide().Insert(context.Background(), db, payment))
	return payment
}

// StoredStatus reads the persisted status of id.
func StoredStatus(t *testing.T, db *gorm.DB, id string) domain.Status {
	t.Helper()
	payment, err := repository.Provide().FindByID(context.Background(), db, id)
	require.NoError(t, err)
	require.NotNil(t, payment)
	return payment.Status
}

// Adapter is a scriptable processor adapter.
type Adapter struct {
	mock.Mock
	Name string
}

func (a *Adapter) Provider() string {
	if a.Name == "" {
		return "mock"
	}
	return a.Name
}

func (a *Adapter) Create(ctx context.Context, req domain.CreateRequest) (*domain.CreateResult, error) {
	args := a.Called(ctx, req)
	res, _ := args.Get(0).(*domain.CreateResult)
	return res, args.Error(1)
}

func (a *Adapter) Capture(ctx context.Context, externalID string) (*domain.ActionResult, error) {
	return a.action(ctx, "Capture", externalID)
}

func (a *Adapter) Refund(ctx context.Context, externalID string) (*domain.ActionResult, error) {
	return a.action(ctx, "Refund", externalID)
}

func (a *Adapter) Cancel(ctx context.Context, externalID string) (*domain.ActionResult, error) {
	return a.action(ctx, "Cancel", externalID)
}

func (a *Adapter) action(ctx context.Context, method string, externalID string) (*domain.ActionResult, error) {
	args := a.MethodCalled(method, ctx, externalID)
	res, _ := args.Get(0).(*domain.ActionResult)
	return res, args.Error(1)
}

func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, signatureHeader string) (*domain.WebhookEvent, error) {
	args := a.Called(ctx, payload, signatureHeader)
	event, _ := args.Get(0).(*domain.WebhookEvent)
	return event, args.Error(1)
}
