package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestOperationAndTableFromSQL(t *testing.T) {
	cases := []struct {
		sql       string
		operation string
		table     string
	}{
		{sql: "SELECT id FROM payments WHERE id = ?", operation: "SELECT", table: "payments"},
		{sql: "INSERT INTO payment_webhook_events (id) VALUES (?)", operation: "INSERT", table: "payment_webhook_events"},
		{sql: "UPDATE payments SET status = ? WHERE id = ?", operation: "UPDATE", table: "payments"},
		{sql: "", operation: "UNKNOWN", table: ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.operation, operationFromSQL(tc.sql), tc.sql)
		assert.Equal(t, tc.table, tableFromSQL(tc.sql), tc.sql)
	}
}

func TestGormLoggerTraceLogsErrorsWithoutParams(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewGormLogger(zap.New(core), DefaultGormLoggerConfig())

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "UPDATE payments SET status = 'completed' WHERE id = 'pi_1'", 0
	}, errors.New("database is locked"))

	entries := logs.FilterMessage("gorm.query").All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "UPDATE", fields["operation"])
		assert.Equal(t, "payments", fields["table"])
	}
}

func TestGormLoggerSilentSkipsEverything(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewGormLogger(zap.New(core), DefaultGormLoggerConfig()).LogMode(gormlogger.Silent)

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "SELECT 1", 1
	}, errors.New("boom"))

	assert.Equal(t, 0, logs.Len())
}
