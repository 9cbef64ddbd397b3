package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payflow/internal/payment/domain"
	"github.com/smallbiznis/payflow/internal/payment/paymenttest"
	"github.com/smallbiznis/payflow/internal/payment/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var createdAt = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func newPayment(id string) *domain.Payment {
	return &domain.Payment{
		ID:            id,
		Provider:      "mock",
		Amount:        decimal.RequireFromString("12.34"),
		Currency:      "USD",
		CustomerID:    "cus_1",
		PaymentMethod: "pm_card_visa",
		Metadata:      datatypes.NewJSONType(map[string]string{"order": "7"}),
		Status:        domain.StatusCreated,
		CreatedAt:     createdAt,
	}
}

func TestInsertIfMissingKeepsFirstRecord(t *testing.T) {
	db := paymenttest.NewDB(t)
	repo := repository.Provide()
	ctx := context.Background()

	inserted, err := repo.InsertIfMissing(ctx, db, newPayment("pay_1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	again := newPayment("pay_1")
	again.Status = domain.StatusCompleted
	inserted, err = repo.InsertIfMissing(ctx, db, again)
	require.NoError(t, err)
	assert.False(t, inserted)

	stored, err := repo.FindByID(ctx, db, "pay_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.StatusCreated, stored.Status)
	assert.Equal(t, "12.34", stored.Amount.StringFixed(2))
	assert.Equal(t, map[string]string{"order": "7"}, stored.MetadataMap())
	assert.True(t, createdAt.Equal(stored.CreatedAt))
}

func TestInsertEventDeduplicatesByProviderEvent(t *testing.T) {
	db := paymenttest.NewDB(t)
	repo := repository.Provide()
	ctx := context.Background()

	event := func(id int64) *domain.EventRecord {
		return &domain.EventRecord{
			ID:              snowflake.ID(id),
			Provider:        "mock",
			ProviderEventID: "evt_1",
			EventType:       "payment.captured",
			PaymentID:       "pay_1",
			Payload:         datatypes.JSON(`{"id":"evt_1"}`),
			ReceivedAt:      createdAt,
		}
	}

	inserted, err := repo.InsertEvent(ctx, db, event(1))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertEvent(ctx, db, event(2))
	require.NoError(t, err)
	assert.False(t, inserted)

	found, err := repo.FindEvent(ctx, db, "mock", "evt_1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.EqualValues(t, 1, found.ID)
	assert.Nil(t, found.ProcessedAt)
}

func TestInsertIfMissingRendersDialectConflictClause(t *testing.T) {
	tests := []struct {
		name      string
		dialector gorm.Dialector
		want      string
	}{
		{
			name:      "postgres",
			dialector: postgres.New(postgres.Config{DSN: "host=localhost user=payflow dbname=payflow sslmode=disable"}),
			want:      "ON CONFLICT DO NOTHING",
		},
		{
			name: "mysql",
			dialector: mysql.New(mysql.Config{
				DSN:                       "payflow:payflow@tcp(localhost:3306)/payflow?parseTime=True",
				SkipInitializeWithVersion: true,
			}),
			want: "ON DUPLICATE KEY UPDATE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := gorm.Open(tt.dialector, &gorm.Config{DryRun: true, DisableAutomaticPing: true})
			require.NoError(t, err)

			var statements []string
			require.NoError(t, db.Callback().Create().After("gorm:create").Register("test:capture_sql", func(tx *gorm.DB) {
				statements = append(statements, tx.Statement.SQL.String())
			}))

			repo := repository.Provide()
			_, err = repo.InsertIfMissing(context.Background(), db, newPayment("pay_1"))
			require.NoError(t, err)
			_, err = repo.InsertEvent(context.Background(), db, &domain.EventRecord{
				ID:              snowflake.ID(1),
				Provider:        "mock",
				ProviderEventID: "evt_1",
				EventType:       "payment.captured",
				PaymentID:       "pay_1",
				Payload:         datatypes.JSON(`{}`),
				ReceivedAt:      createdAt,
			})
			require.NoError(t, err)

			require.Len(t, statements, 2)
			for _, stmt := range statements {
				assert.Contains(t, stmt, tt.want)
			}
		})
	}
}
