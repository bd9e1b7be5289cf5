// Package reports hands redeemed properties to the report rendering service.
// Rendering and email delivery happen outside this process.
package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrPermanent marks a delivery the report service rejected; retrying will not help.
var ErrPermanent = errors.New("report delivery rejected")

type Delivery struct {
	UserID        uuid.UUID   `json:"user_id"`
	Email         string      `json:"email"`
	PropertyIDs   []uuid.UUID `json:"property_ids"`
	RedemptionIDs []uuid.UUID `json:"redemption_ids"`
}

type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) error
}

// New returns an HTTP deliverer when serviceURL is set, otherwise one that
// only logs.
func New(serviceURL string, log *slog.Logger) Deliverer {
	if serviceURL == "" {
		return &LogDeliverer{log: log}
	}
	return NewHTTPDeliverer(serviceURL)
}

type LogDeliverer struct {
	log *slog.Logger
}

func (d *LogDeliverer) Deliver(_ context.Context, del Delivery) error {
	log := d.log
	if log == nil {
		log = slog.Default()
	}
	log.Info("report delivery requested", "user_id", del.UserID, "properties", len(del.PropertyIDs))
	return nil
}

type HTTPDeliverer struct {
	url        string
	httpClient *http.Client
}

func NewHTTPDeliverer(url string) *HTTPDeliverer {
	return &HTTPDeliverer{url: url, httpClient: &http.Client{Timeout: 60 * time.Second}}
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, del Delivery) error {
	body, err := json.Marshal(del)
	if err != nil {
		return fmt.Errorf("%w: encode delivery: %v", ErrPermanent, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error calling report service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("%w: report service returned %d", ErrPermanent, resp.StatusCode)
	default:
		return fmt.Errorf("report service returned non-2xx status: %d", resp.StatusCode)
	}
}
