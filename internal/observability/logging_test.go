package observability

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerFieldNames(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "leadsong-api", "test")
	logger.Info("hello", "user_id", "u1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "INFO", line["severity"])
	assert.Equal(t, "leadsong-api", line["service"])
	assert.Equal(t, "test", line["env"])
	assert.Contains(t, line, "timestamp")
}

func TestMetricsAreNilSafeAndIdempotent(t *testing.T) {
	var nilLedger *LedgerMetrics
	nilLedger.RecordCredit("purchase", "applied")
	var nilPayout *PayoutMetrics
	nilPayout.RecordBatch("simulated", "paid", 100, time.Second)

	assert.Same(t, Ledger(), Ledger())
	assert.Same(t, Payouts(), Payouts())
	Ledger().RecordDebit("redemption", "ok")
	Payouts().RecordBatch("simulated", "paid", 750, 10*time.Millisecond)
}
