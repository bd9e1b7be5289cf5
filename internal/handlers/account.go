package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/leadsong/backend/internal/apperr"
	"github.com/leadsong/backend/internal/ledger"
	"github.com/leadsong/backend/internal/middleware"
	"github.com/leadsong/backend/internal/models"
)

type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	ReferralStats(ctx context.Context, userID uuid.UUID) (referred int64, earned int64, err error)
}

type LedgerReader interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
}

type EarningsReader interface {
	EarningsByStatus(ctx context.Context, userID uuid.UUID) (map[models.PayoutStatus]int64, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.ContributorPayout, error)
}

// Granter is the part of ledger.Service the manual grant uses.
type Granter interface {
	ApplyExternalCredit(ctx context.Context, c ledger.Credit) (ledger.Result, error)
	Debit(ctx context.Context, userID uuid.UUID, amount int64, source, reason string) (ledger.Result, error)
}

// MaxDevGrant bounds a single manual grant in either direction.
const MaxDevGrant = 20

type AccountHandler struct {
	users    UserReader
	entries  LedgerReader
	earnings EarningsReader
	ledger   Granter
	devGrant bool
	log      *slog.Logger
}

func NewAccountHandler(users UserReader, entries LedgerReader, earnings EarningsReader, ledger Granter, devGrant bool, log *slog.Logger) *AccountHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AccountHandler{users: users, entries: entries, earnings: earnings, ledger: ledger, devGrant: devGrant, log: log}
}

type meResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name"`
	CreditBalance int64     `json:"credit_balance"`
	ReferralCode  string    `json:"referral_code"`
	CreatedAt     time.Time `json:"created_at"`
}

// Me handles GET /api/v1/account/me.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	u, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		h.log.Error("get user", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeServerError)
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, CodeNotFound)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		ID:            u.ID.String(),
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		CreditBalance: u.CreditBalance,
		ReferralCode:  u.ReferralCode,
		CreatedAt:     u.CreatedAt,
	})
}

// Ledger handles GET /api/v1/credit-ledger?limit=N, newest first.
func (h *AccountHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	entries, err := h.entries.ListByUser(r.Context(), userID, pageLimit(r))
	if err != nil {
		h.log.Error("list ledger", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeServerError)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

type earningsResponse struct {
	Pending    json.RawMessage             `json:"pending"`
	Processing json.RawMessage             `json:"processing"`
	Paid       json.RawMessage             `json:"paid"`
	Failed     json.RawMessage             `json:"failed"`
	Total      json.RawMessage             `json:"total"`
	Recent     []*models.ContributorPayout `json:"recent"`
}

// Earnings handles GET /api/v1/earnings.
func (h *AccountHandler) Earnings(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	sums, err := h.earnings.EarningsByStatus(r.Context(), userID)
	if err != nil {
		h.log.Error("earnings by status", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeServerError)
		return
	}
	recent, err := h.earnings.ListByUser(r.Context(), userID, pageLimit(r))
	if err != nil {
		h.log.Error("list payouts", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeServerError)
		return
	}
	if recent == nil {
		recent = []*models.ContributorPayout{}
	}
	var total int64
	for _, v := range sums {
		total += v
	}
	writeJSON(w, http.StatusOK, earningsResponse{
		Pending:    dollars(sums[models.PayoutPending]),
		Processing: dollars(sums[models.PayoutProcessing]),
		Paid:       dollars(sums[models.PayoutPaid]),
		Failed:     dollars(sums[models.PayoutFailed]),
		Total:      dollars(total),
		Recent:     recent,
	})
}

// ReferralStats handles GET /api/v1/referrals/stats.
func (h *AccountHandler) ReferralStats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	referred, earned, err := h.users.ReferralStats(r.Context(), userID)
	if err != nil {
		h.log.Error("referral stats", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"referred_users": referred, "credits_earned": earned})
}

type devGrantRequest struct {
	Amount int64 `json:"amount"`
}

// DevGrant handles POST /api/v1/dev/credits. A positive amount credits the
// caller; a negative one debits without overdraft. An Idempotency-Key header
// makes retries safe.
func (h *AccountHandler) DevGrant(w http.ResponseWriter, r *http.Request) {
	if !h.devGrant {
		writeError(w, http.StatusNotFound, CodeNotFound)
		return
	}
	userID := middleware.UserIDFromCtx(r.Context())
	var req devGrantRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadInput)
		return
	}
	if req.Amount == 0 || req.Amount > MaxDevGrant || req.Amount < -MaxDevGrant {
		writeError(w, http.StatusBadRequest, CodeBadInput)
		return
	}

	var res ledger.Result
	var err error
	if req.Amount > 0 {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			key = uuid.NewString()
		}
		res, err = h.ledger.ApplyExternalCredit(r.Context(), ledger.Credit{
			ExternalEventID: "manual:" + userID.String() + ":" + key,
			UserID:          userID,
			Amount:          req.Amount,
			Source:          models.LedgerSourceManual,
			Reason:          "dev grant",
		})
	} else {
		res, err = h.ledger.Debit(r.Context(), userID, -req.Amount, models.LedgerSourceManual, "dev grant")
	}
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrInsufficientBalance):
			writeError(w, http.StatusPaymentRequired, CodeInsufficientCredits)
		case apperr.KindOf(err) == apperr.KindValidation:
			writeError(w, http.StatusBadRequest, CodeBadInput)
		default:
			h.log.Error("dev grant failed", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, CodeServerError)
		}
		return
	}
	h.log.Info("dev grant applied", "user_id", userID, "amount", req.Amount, "outcome", res.Outcome.String())
	writeJSON(w, http.StatusOK, map[string]interface{}{"outcome": res.Outcome.String(), "balance": res.Balance})
}

func pageLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 50
	}
	if n > 200 {
		return 200
	}
	return n
}
