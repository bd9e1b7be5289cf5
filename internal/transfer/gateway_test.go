package transfer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

func sampleRequest() Request {
	return Request{
		Destination:    "acct_123",
		AmountCents:    750,
		Currency:       "usd",
		Description:    "Contributor payout",
		IdempotencyKey: "payout-claim-1",
		Metadata:       map[string]string{"payout_count": "2"},
	}
}

func TestNewSelectsGatewayByMode(t *testing.T) {
	g, err := New(Config{Mode: ModeSimulated}, nil)
	require.NoError(t, err)
	assert.Equal(t, "simulated", g.Name())

	g, err = New(Config{Mode: ModeLive, APIKey: "sk_test"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "stripe", g.Name())

	_, err = New(Config{Mode: ModeLive}, nil)
	assert.Error(t, err)
	_, err = New(Config{Mode: "prefix-sniffing"}, nil)
	assert.Error(t, err)
}

func TestStripeGateway_Success(t *testing.T) {
	var gotForm url.Values
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		gotForm, _ = url.ParseQuery(string(body))
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"tr_live_1","amount":750,"destination":"acct_123"}`))
	}))
	defer srv.Close()

	g := NewStripeGateway("sk_test_abc", srv.URL, srv.Client())
	res, err := g.Transfer(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "tr_live_1", res.ID)
	assert.Equal(t, int64(750), res.AmountCents)

	assert.Equal(t, "750", gotForm.Get("amount"))
	assert.Equal(t, "acct_123", gotForm.Get("destination"))
	assert.Equal(t, "2", gotForm.Get("metadata[payout_count]"))
	assert.Equal(t, "Bearer sk_test_abc", gotHeaders.Get("Authorization"))
	assert.Equal(t, "payout-claim-1", gotHeaders.Get("Idempotency-Key"))
	assert.Equal(t, "acct_123", res.Destination)
}

func TestStripeGateway_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"Insufficient funds in platform balance"}}`))
	}))
	defer srv.Close()

	g := NewStripeGateway("sk_test", srv.URL, srv.Client())
	_, err := g.Transfer(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "Insufficient funds"))
	var se *stripe.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.HTTPStatusCode)
	assert.Equal(t, stripe.ErrorTypeInvalidRequest, se.Type)
}

func TestStripeGateway_HonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	g := NewStripeGateway("sk_test", srv.URL, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.Transfer(ctx, sampleRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulated(t *testing.T) {
	s := NewSimulated(nil)
	res, err := s.Transfer(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.ID, "tr_sim_"))
	assert.Len(t, s.Sent(), 1)

	failing := NewSimulated(nil, WithFailure(errors.New("declined")))
	_, err = failing.Transfer(context.Background(), sampleRequest())
	assert.EqualError(t, err, "declined")

	slow := NewSimulated(nil, WithDelay(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = slow.Transfer(ctx, sampleRequest())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequestValidation(t *testing.T) {
	s := NewSimulated(nil)
	bad := sampleRequest()
	bad.AmountCents = 0
	_, err := s.Transfer(context.Background(), bad)
	assert.Error(t, err)
	assert.Empty(t, s.Sent())
}
