package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/leadsong/backend/internal/apperr"
	"github.com/leadsong/backend/internal/middleware"
	"github.com/leadsong/backend/internal/models"
	"github.com/leadsong/backend/internal/payout"
	"github.com/leadsong/backend/internal/schema"
)

type PayoutProcessor interface {
	Process(ctx context.Context, payeeID uuid.UUID) (*payout.Summary, error)
}

type PayeeAccountStore interface {
	GetPayeeAccount(ctx context.Context, userID uuid.UUID) (*models.PayeeAccount, error)
	Upsert(ctx context.Context, a *models.PayeeAccount) error
}

type PayoutHandler struct {
	processor PayoutProcessor
	payees    PayeeAccountStore
	schemas   *schema.Validator
	// autoEnable marks newly linked accounts transfer-enabled without waiting
	// for the provider's account.updated event.
	autoEnable bool
	log        *slog.Logger
}

func NewPayoutHandler(processor PayoutProcessor, payees PayeeAccountStore, schemas *schema.Validator, autoEnable bool, log *slog.Logger) *PayoutHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PayoutHandler{processor: processor, payees: payees, schemas: schemas, autoEnable: autoEnable, log: log}
}

type payoutResponse struct {
	TotalPayouts      int             `json:"totalPayouts"`
	SuccessfulPayouts int             `json:"successfulPayouts"`
	FailedPayouts     int             `json:"failedPayouts"`
	TotalAmount       json.RawMessage `json:"totalAmount"`
	TotalAmountCents  int64           `json:"totalAmountCents"`
	TransferID        string          `json:"transferId,omitempty"`
	Error             string          `json:"error,omitempty"`
}

func toPayoutResponse(s *payout.Summary) payoutResponse {
	return payoutResponse{
		TotalPayouts:      s.TotalPayouts,
		SuccessfulPayouts: s.SuccessfulPayouts,
		FailedPayouts:     s.FailedPayouts,
		TotalAmount:       dollars(s.TotalAmount),
		TotalAmountCents:  s.TotalAmount,
		TransferID:        s.TransferID,
	}
}

// Process handles POST /api/v1/payouts/process.
func (h *PayoutHandler) Process(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized)
		return
	}
	summary, err := h.processor.Process(r.Context(), userID)
	if err == nil {
		writeJSON(w, http.StatusOK, toPayoutResponse(summary))
		return
	}
	switch {
	case errors.Is(err, apperr.ErrNoAccount):
		writeError(w, http.StatusBadRequest, CodeNoAccount)
	case errors.Is(err, apperr.ErrTransferNotEnabled):
		writeError(w, http.StatusBadRequest, CodeTransferNotEnabled)
	case errors.Is(err, apperr.ErrBelowMinimum):
		writeError(w, http.StatusBadRequest, CodeBelowMinimum)
	case errors.Is(err, apperr.ErrTransferFailed):
		h.log.Warn("payout transfer failed", "user_id", userID, "error", err)
		resp := payoutResponse{Error: CodeTransferFailed, TotalAmount: dollars(0)}
		if summary != nil {
			resp = toPayoutResponse(summary)
			resp.Error = CodeTransferFailed
		}
		writeJSON(w, http.StatusBadGateway, resp)
	default:
		h.log.Error("payout processing failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError)
	}
}

type payeeAccountRequest struct {
	ExternalAccountID string `json:"external_account_id"`
}

type payeeAccountResponse struct {
	ExternalAccountID string    `json:"external_account_id"`
	TransferEnabled   bool      `json:"transfer_enabled"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// LinkAccount handles PUT /api/v1/payee-account.
func (h *PayoutHandler) LinkAccount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 16<<10))
	if err != nil || h.schemas.Validate(schema.PayeeAccount, body) != nil {
		writeError(w, http.StatusBadRequest, CodeBadInput)
		return
	}
	var req payeeAccountRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadInput)
		return
	}

	acct := &models.PayeeAccount{UserID: userID, ExternalAccountID: req.ExternalAccountID, TransferEnabled: h.autoEnable}
	if !h.autoEnable {
		// relinking the same account keeps the provider-reported state
		existing, err := h.payees.GetPayeeAccount(r.Context(), userID)
		if err != nil {
			h.log.Error("get payee account", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, CodeInternalError)
			return
		}
		if existing != nil && existing.ExternalAccountID == req.ExternalAccountID {
			acct.TransferEnabled = existing.TransferEnabled
		}
	}
	if err := h.payees.Upsert(r.Context(), acct); err != nil {
		h.log.Error("upsert payee account", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError)
		return
	}
	h.log.Info("payee account linked", "user_id", userID, "transfer_enabled", acct.TransferEnabled)
	writeJSON(w, http.StatusOK, payeeAccountResponse{
		ExternalAccountID: acct.ExternalAccountID,
		TransferEnabled:   acct.TransferEnabled,
		UpdatedAt:         acct.UpdatedAt,
	})
}
