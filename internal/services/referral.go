package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/leadsong/backend/internal/apperr"
	"github.com/leadsong/backend/internal/ledger"
	"github.com/leadsong/backend/internal/models"
)

type ReferrerStore interface {
	GetByReferralCodeTx(ctx context.Context, tx pgx.Tx, code string) (*models.User, error)
	SetReferredByTx(ctx context.Context, tx pgx.Tx, userID, referrerID uuid.UUID) error
}

// Crediter is the part of the ledger the referral grantor uses.
type Crediter interface {
	ApplyExternalCreditTx(ctx context.Context, tx pgx.Tx, c ledger.Credit) (ledger.Result, error)
}

// ReferralService grants the sign-up bonus to both sides of a referral.
type ReferralService struct {
	users         ReferrerStore
	ledger        Crediter
	referrerBonus int64
	referredBonus int64
	log           *slog.Logger
}

func NewReferralService(users ReferrerStore, ledger Crediter, referrerBonus, referredBonus int64, log *slog.Logger) *ReferralService {
	if log == nil {
		log = slog.Default()
	}
	return &ReferralService{users: users, ledger: ledger, referrerBonus: referrerBonus, referredBonus: referredBonus, log: log}
}

// ReferralKeys returns the idempotency keys of the two bonus entries for a
// new user. A user is created once, so each key is applied at most once.
func ReferralKeys(newUserID uuid.UUID) (referrer, referred string) {
	base := "referral:" + newUserID.String()
	return base + ":referrer", base + ":referred"
}

// GrantTx runs inside the transaction that creates newUserID. An empty code
// is a no-op. Unknown codes and self-referral fail with a validation error
// before anything is written, leaving tx usable.
func (s *ReferralService) GrantTx(ctx context.Context, tx pgx.Tx, newUserID uuid.UUID, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}
	referrer, err := s.users.GetByReferralCodeTx(ctx, tx, code)
	if err != nil {
		return apperr.DB("lookup referral code", err)
	}
	if referrer == nil {
		return fmt.Errorf("%w: %q", apperr.ErrInvalidReferral, code)
	}
	if referrer.ID == newUserID {
		return apperr.ErrSelfReferral
	}
	if err := s.users.SetReferredByTx(ctx, tx, newUserID, referrer.ID); err != nil {
		return apperr.DB("set referred_by", err)
	}

	referrerKey, referredKey := ReferralKeys(newUserID)
	grants := []ledger.Credit{
		{ExternalEventID: referrerKey, UserID: referrer.ID, Amount: s.referrerBonus, Source: models.LedgerSourceReferral, Reason: models.ReasonReferralReferrer},
		{ExternalEventID: referredKey, UserID: newUserID, Amount: s.referredBonus, Source: models.LedgerSourceReferral, Reason: models.ReasonReferralReferred},
	}
	for _, g := range grants {
		res, err := s.ledger.ApplyExternalCreditTx(ctx, tx, g)
		if err != nil {
			return fmt.Errorf("grant %s: %w", g.Reason, err)
		}
		if res.Outcome == ledger.AlreadyApplied {
			s.log.Warn("referral bonus already granted", "key", g.ExternalEventID)
		}
	}
	s.log.Info("referral bonuses granted", "referrer_id", referrer.ID, "referred_id", newUserID)
	return nil
}
