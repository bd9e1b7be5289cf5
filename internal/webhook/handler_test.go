package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadsong/backend/internal/apperr"
	"github.com/leadsong/backend/internal/ledger"
	"github.com/leadsong/backend/internal/schema"
)

const testSecret = "whsec_test"

// memLedger applies each external event id once.
type memLedger struct {
	mu       sync.Mutex
	applied  map[string]bool
	balances map[uuid.UUID]int64
	err      error
}

func (m *memLedger) ApplyExternalCredit(_ context.Context, c ledger.Credit) (ledger.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return ledger.Result{Outcome: ledger.Failed, Retryable: apperr.Retryable(m.err)}, m.err
	}
	if _, ok := m.balances[c.UserID]; !ok {
		return ledger.Result{Outcome: ledger.Failed}, apperr.ErrUnknownUser
	}
	if m.applied[c.ExternalEventID] {
		return ledger.Result{Outcome: ledger.AlreadyApplied}, nil
	}
	m.applied[c.ExternalEventID] = true
	m.balances[c.UserID] += c.Amount
	return ledger.Result{Outcome: ledger.Applied, Balance: m.balances[c.UserID]}, nil
}

type memPayees struct {
	accounts map[string]bool
	err      error
}

func (m *memPayees) SetTransferEnabled(_ context.Context, id string, enabled bool) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.accounts[id]; !ok {
		return false, nil
	}
	m.accounts[id] = enabled
	return true, nil
}

func newTestHandler(t *testing.T, led *memLedger, payees *memPayees) *Handler {
	t.Helper()
	h := NewHandler(testSecret, 5*time.Minute, led, payees, schema.MustNew(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return h
}

func deliver(h http.Handler, body []byte, sign bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	if sign {
		req.Header.Set(SignatureHeader, Header([]byte(testSecret), 1_700_000_000, body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func purchase(eventID string, user uuid.UUID, credits int) []byte {
	return []byte(fmt.Sprintf(`{"event_type":"checkout.session.completed","external_event_id":%q,"metadata":{"user_id":%q,"credits":%d,"package_id":"starter"}}`,
		eventID, user, credits))
}

func outcome(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var a ack
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	return a.Outcome
}

// A purchase delivered twice credits the user once.
func TestPurchaseDeliveredTwice(t *testing.T) {
	user := uuid.New()
	led := &memLedger{applied: map[string]bool{}, balances: map[uuid.UUID]int64{user: 0}}
	h := newTestHandler(t, led, &memPayees{})

	first := deliver(h, purchase("evt_abc", user, 5), true)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "applied", outcome(t, first))

	second := deliver(h, purchase("evt_abc", user, 5), true)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "already_applied", outcome(t, second))

	assert.Equal(t, int64(5), led.balances[user])
}

func TestPurchaseResponses(t *testing.T) {
	user := uuid.New()

	t.Run("unsigned", func(t *testing.T) {
		led := &memLedger{applied: map[string]bool{}, balances: map[uuid.UUID]int64{user: 0}}
		rec := deliver(newTestHandler(t, led, &memPayees{}), purchase("evt_1", user, 5), false)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, led.balances[user])
	})

	t.Run("transient failure asks for redelivery", func(t *testing.T) {
		led := &memLedger{applied: map[string]bool{}, balances: map[uuid.UUID]int64{user: 0}, err: errors.New("conn reset")}
		rec := deliver(newTestHandler(t, led, &memPayees{}), purchase("evt_1", user, 5), true)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "conn reset")
	})

	t.Run("unknown user is not retried", func(t *testing.T) {
		led := &memLedger{applied: map[string]bool{}, balances: map[uuid.UUID]int64{}}
		rec := deliver(newTestHandler(t, led, &memPayees{}), purchase("evt_1", user, 5), true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("schema violation", func(t *testing.T) {
		led := &memLedger{applied: map[string]bool{}, balances: map[uuid.UUID]int64{user: 0}}
		rec := deliver(newTestHandler(t, led, &memPayees{}), purchase("evt_1", user, 0), true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, led.applied)
	})
}

func TestAccountUpdated(t *testing.T) {
	payees := &memPayees{accounts: map[string]bool{"acct_1": false}}
	h := newTestHandler(t, &memLedger{}, payees)

	body := []byte(`{"event_type":"account.updated","external_event_id":"evt_9","account":{"external_account_id":"acct_1","transfer_enabled":true}}`)
	rec := deliver(h, body, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "synced", outcome(t, rec))
	assert.True(t, payees.accounts["acct_1"])

	unknown := []byte(`{"event_type":"account.updated","external_event_id":"evt_10","account":{"external_account_id":"acct_x","transfer_enabled":true}}`)
	rec = deliver(h, unknown, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unmatched", outcome(t, rec))

	payees.err = errors.New("db down")
	rec = deliver(h, body, true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUnhandledEventIsAcknowledged(t *testing.T) {
	h := newTestHandler(t, &memLedger{}, &memPayees{})
	rec := deliver(h, []byte(`{"event_type":"invoice.created","external_event_id":"evt_5"}`), true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", outcome(t, rec))
}
