package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v76"
	stripetransfer "github.com/stripe/stripe-go/v76/transfer"
)

// StripeGateway creates transfers to connected accounts through the Stripe
// API.
type StripeGateway struct {
	client stripetransfer.Client
}

// NewStripeGateway builds a gateway for apiKey. baseURL overrides the API
// host; empty means api.stripe.com.
func NewStripeGateway(apiKey, baseURL string, httpClient *http.Client) *StripeGateway {
	if baseURL == "" {
		baseURL = stripe.APIURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(strings.TrimRight(baseURL, "/")),
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		EnableTelemetry:   stripe.Bool(false),
	})
	return &StripeGateway{client: stripetransfer.Client{B: backend, Key: apiKey}}
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) Transfer(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.Destination),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	tr, err := g.client.New(params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("transfer API call aborted: %w", errors.Join(ctxErr, err))
		}
		var se *stripe.Error
		if errors.As(err, &se) {
			return nil, fmt.Errorf("transfer API returned %d (%s): %s: %w", se.HTTPStatusCode, se.Type, se.Msg, err)
		}
		return nil, fmt.Errorf("network error calling transfer API: %w", err)
	}
	if tr.ID == "" {
		return nil, fmt.Errorf("transfer API response missing id")
	}
	res := &Result{ID: tr.ID, AmountCents: tr.Amount}
	if tr.Destination != nil {
		res.Destination = tr.Destination.ID
	}
	return res, nil
}
