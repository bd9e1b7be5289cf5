// Package webhook receives signed payment provider events and applies them
// exactly once.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/leadsong/backend/internal/apperr"
	"github.com/leadsong/backend/internal/ledger"
	"github.com/leadsong/backend/internal/models"
	"github.com/leadsong/backend/internal/schema"
)

const maxBodyBytes = 1 << 20

// Event types handled here. Anything else is acknowledged and ignored.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventPaymentCompleted  = "payment.completed"
	EventAccountUpdated    = "account.updated"
)

type Event struct {
	EventType       string         `json:"event_type"`
	ExternalEventID string         `json:"external_event_id"`
	Metadata        *Metadata      `json:"metadata,omitempty"`
	Account         *AccountUpdate `json:"account,omitempty"`
}

type Metadata struct {
	UserID    string `json:"user_id"`
	Credits   int64  `json:"credits"`
	PackageID string `json:"package_id,omitempty"`
}

type AccountUpdate struct {
	ExternalAccountID string `json:"external_account_id"`
	TransferEnabled   bool   `json:"transfer_enabled"`
}

// Crediter applies a purchase to the ledger.
type Crediter interface {
	ApplyExternalCredit(ctx context.Context, c ledger.Credit) (ledger.Result, error)
}

// PayeeSync records the provider's view of a payee account.
type PayeeSync interface {
	SetTransferEnabled(ctx context.Context, externalAccountID string, enabled bool) (bool, error)
}

type Handler struct {
	secret    []byte
	tolerance time.Duration
	ledger    Crediter
	payees    PayeeSync
	schemas   *schema.Validator
	now       func() time.Time
	log       *slog.Logger
}

func NewHandler(secret string, tolerance time.Duration, ledger Crediter, payees PayeeSync, schemas *schema.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		secret:    []byte(secret),
		tolerance: tolerance,
		ledger:    ledger,
		payees:    payees,
		schemas:   schemas,
		now:       time.Now,
		log:       log,
	}
}

type ack struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

// ServeHTTP answers 200 only once the event is durably applied or known to be
// applied already, 500 when redelivery may succeed, and 400 when it cannot.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, `{"error":"unreadable body"}`, http.StatusBadRequest)
		return
	}
	if err := Verify(r.Header.Get(SignatureHeader), body, h.secret, h.now(), h.tolerance); err != nil {
		h.log.Warn("webhook signature rejected", "error", err, "remote_addr", r.RemoteAddr)
		http.Error(w, `{"error":"invalid signature"}`, http.StatusBadRequest)
		return
	}
	if err := h.schemas.Validate(schema.PaymentEvent, body); err != nil {
		h.log.Warn("webhook payload rejected", "error", err)
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	log := h.log.With("event_type", ev.EventType, "external_event_id", ev.ExternalEventID)
	switch ev.EventType {
	case EventCheckoutCompleted, EventPaymentCompleted:
		h.handlePurchase(r.Context(), w, log, ev)
	case EventAccountUpdated:
		h.handleAccountUpdate(r.Context(), w, log, ev)
	default:
		log.Debug("webhook event ignored")
		writeJSON(w, http.StatusOK, ack{Received: true, Outcome: "ignored"})
	}
}

func (h *Handler) handlePurchase(ctx context.Context, w http.ResponseWriter, log *slog.Logger, ev Event) {
	userID, err := uuid.Parse(ev.Metadata.UserID)
	if err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	reason := "purchase"
	if ev.Metadata.PackageID != "" {
		reason = fmt.Sprintf("purchase: %s", ev.Metadata.PackageID)
	}
	res, err := h.ledger.ApplyExternalCredit(ctx, ledger.Credit{
		ExternalEventID: ev.ExternalEventID,
		UserID:          userID,
		Amount:          ev.Metadata.Credits,
		Source:          models.LedgerSourcePurchase,
		Reason:          reason,
	})
	if err != nil {
		if res.Retryable {
			log.Error("purchase credit failed, sender should retry", "user_id", userID, "error", err)
			http.Error(w, `{"error":"temporary failure"}`, http.StatusInternalServerError)
			return
		}
		log.Error("purchase credit rejected", "user_id", userID, "kind", apperr.KindOf(err).String(), "error", err)
		http.Error(w, `{"error":"rejected"}`, http.StatusBadRequest)
		return
	}
	log.Info("purchase credit processed", "user_id", userID, "credits", ev.Metadata.Credits, "outcome", res.Outcome.String())
	writeJSON(w, http.StatusOK, ack{Received: true, Outcome: res.Outcome.String()})
}

func (h *Handler) handleAccountUpdate(ctx context.Context, w http.ResponseWriter, log *slog.Logger, ev Event) {
	matched, err := h.payees.SetTransferEnabled(ctx, ev.Account.ExternalAccountID, ev.Account.TransferEnabled)
	if err != nil {
		log.Error("payee account sync failed", "external_account_id", ev.Account.ExternalAccountID, "error", err)
		http.Error(w, `{"error":"temporary failure"}`, http.StatusInternalServerError)
		return
	}
	if !matched {
		// not linked yet; the link request carries the current state
		log.Warn("account update for unknown payee account", "external_account_id", ev.Account.ExternalAccountID)
		writeJSON(w, http.StatusOK, ack{Received: true, Outcome: "unmatched"})
		return
	}
	log.Info("payee account synced", "external_account_id", ev.Account.ExternalAccountID, "transfer_enabled", ev.Account.TransferEnabled)
	writeJSON(w, http.StatusOK, ack{Received: true, Outcome: "synced"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
