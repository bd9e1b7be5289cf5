package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/leadsong/backend/internal/apperr"
	"github.com/leadsong/backend/internal/middleware"
	"github.com/leadsong/backend/internal/schema"
	"github.com/leadsong/backend/internal/services"
)

// Redeemer is implemented by services.RedemptionService.
type Redeemer interface {
	Redeem(ctx context.Context, userID uuid.UUID, email string, propertyIDs []uuid.UUID) (*services.RedeemResult, error)
}

type RedemptionHandler struct {
	svc     Redeemer
	schemas *schema.Validator
	log     *slog.Logger
}

func NewRedemptionHandler(svc Redeemer, schemas *schema.Validator, log *slog.Logger) *RedemptionHandler {
	if log == nil {
		log = slog.Default()
	}
	return &RedemptionHandler{svc: svc, schemas: schemas, log: log}
}

type redeemRequest struct {
	PropertyIDs []string `json:"propertyIds"`
	Email       string   `json:"email"`
}

type redeemResponse struct {
	OK          bool   `json:"ok"`
	Files       int    `json:"files"`
	Message     string `json:"message"`
	CreditsUsed int64  `json:"creditsUsed"`
	Balance     int64  `json:"balance"`
}

// Redeem handles POST /api/v1/reports/redeem.
func (h *RedemptionHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadInput)
		return
	}
	if err := h.schemas.Validate(schema.RedeemRequest, body); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadInput)
		return
	}
	var req redeemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadInput)
		return
	}
	ids := make([]uuid.UUID, 0, len(req.PropertyIDs))
	for _, s := range req.PropertyIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeBadInput)
			return
		}
		ids = append(ids, id)
	}

	res, err := h.svc.Redeem(r.Context(), userID, req.Email, ids)
	if err != nil {
		status, code := redeemError(err)
		if status >= 500 {
			h.log.Error("redeem failed", "user_id", userID, "error", err)
		} else {
			h.log.Info("redeem rejected", "user_id", userID, "code", code, "error", err)
		}
		writeError(w, status, code)
		return
	}
	writeJSON(w, http.StatusOK, redeemResponse{
		OK:          true,
		Files:       res.Files,
		Message:     fmt.Sprintf("%d report(s) will be emailed shortly", res.Files),
		CreditsUsed: res.CreditsUsed,
		Balance:     res.Balance,
	})
}

func redeemError(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrNoEmail):
		return http.StatusBadRequest, CodeNoEmail
	case errors.Is(err, apperr.ErrInsufficientBalance):
		return http.StatusPaymentRequired, CodeInsufficientCredits
	case apperr.KindOf(err) == apperr.KindValidation:
		return http.StatusBadRequest, CodeBadInput
	case apperr.IsDB(err):
		return http.StatusServiceUnavailable, CodeDBError
	default:
		return http.StatusInternalServerError, CodeServerError
	}
}
