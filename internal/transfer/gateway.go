// Package transfer moves money to payee accounts through an external
// provider, or simulates doing so.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Request is one transfer. AmountCents is in the smallest currency unit.
type Request struct {
	Destination    string
	AmountCents    int64
	Currency       string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

type Result struct {
	ID          string
	AmountCents int64
	Destination string
}

// Gateway is the capability to execute a transfer. Implementations must
// honour ctx cancellation and deadlines.
type Gateway interface {
	Name() string
	Transfer(ctx context.Context, req Request) (*Result, error)
}

const (
	ModeLive      = "live"
	ModeSimulated = "simulated"
)

type Config struct {
	Mode    string
	APIKey  string
	BaseURL string
}

// New selects the gateway for the configured mode.
func New(cfg Config, log *slog.Logger) (Gateway, error) {
	switch cfg.Mode {
	case ModeLive:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("live transfer gateway requires an API key")
		}
		return NewStripeGateway(cfg.APIKey, cfg.BaseURL, &http.Client{Timeout: 60 * time.Second}), nil
	case ModeSimulated, "":
		return NewSimulated(log), nil
	default:
		return nil, fmt.Errorf("unknown transfer mode %q", cfg.Mode)
	}
}

func (r Request) validate() error {
	if r.Destination == "" {
		return fmt.Errorf("transfer destination is required")
	}
	if r.AmountCents <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %d", r.AmountCents)
	}
	if r.Currency == "" {
		return fmt.Errorf("transfer currency is required")
	}
	return nil
}
