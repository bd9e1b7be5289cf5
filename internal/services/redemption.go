package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/leadsong/backend/internal/apperr"
	"github.com/leadsong/backend/internal/jobs"
	"github.com/leadsong/backend/internal/ledger"
	"github.com/leadsong/backend/internal/models"
)

// MaxPropertiesPerRedemption bounds one redeem request.
const MaxPropertiesPerRedemption = 10

const (
	PricingFlat   = "flat"
	PricingTiered = "tiered"
)

// Pricing turns a property's rating activity into the credits a report costs
// and the revenue those credits represent.
type Pricing struct {
	Mode                  string
	RevenuePerCreditCents int64
}

// CreditsFor returns the credits for one report. Flat pricing charges one
// credit; tiered pricing charges more for heavily rated properties.
func (p Pricing) CreditsFor(ratingCount int) int64 {
	if p.Mode != PricingTiered {
		return 1
	}
	switch {
	case ratingCount < 100:
		return 1
	case ratingCount < 1000:
		return 2
	default:
		return 4
	}
}

// RedemptionStore persists redemption rows.
type RedemptionStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, r *models.Redemption) error
}

type RatingCounter interface {
	CountByProperty(ctx context.Context, propertyIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Debitor is the part of the ledger a redemption uses.
type Debitor interface {
	DebitTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, source, reason string) (ledger.Result, error)
}

type RedeemResult struct {
	Files       int
	CreditsUsed int64
	Balance     int64
	Redemptions []*models.Redemption
}

// RedemptionService exchanges credits for property reports.
type RedemptionService struct {
	store   RedemptionStore
	ratings RatingCounter
	users   UserLookup
	ledger  Debitor
	insert  jobs.InsertTxFunc
	pricing Pricing
	log     *slog.Logger
}

func NewRedemptionService(store RedemptionStore, ratings RatingCounter, users UserLookup, ledger Debitor, insert jobs.InsertTxFunc, pricing Pricing, log *slog.Logger) *RedemptionService {
	if log == nil {
		log = slog.Default()
	}
	if pricing.RevenuePerCreditCents <= 0 {
		pricing.RevenuePerCreditCents = 1000
	}
	return &RedemptionService{store: store, ratings: ratings, users: users, ledger: ledger, insert: insert, pricing: pricing, log: log}
}

// Redeem debits the user for every property and records one redemption per
// property, in one transaction. The revenue distribution and report delivery
// jobs are enqueued in the same transaction, so they exist exactly when the
// debit does.
func (s *RedemptionService) Redeem(ctx context.Context, userID uuid.UUID, email string, propertyIDs []uuid.UUID) (*RedeemResult, error) {
	if err := validateProperties(propertyIDs); err != nil {
		return nil, err
	}
	email, err := s.deliveryEmail(ctx, userID, email)
	if err != nil {
		return nil, err
	}

	prices, err := s.price(ctx, propertyIDs)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, c := range prices {
		total += c
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, apperr.DB("begin redemption", err)
	}
	defer tx.Rollback(ctx)

	reason := fmt.Sprintf("redeem %d report(s)", len(propertyIDs))
	res, err := s.ledger.DebitTx(ctx, tx, userID, total, models.LedgerSourceRedemption, reason)
	if err != nil {
		if errors.Is(err, apperr.ErrInsufficientBalance) || errors.Is(err, apperr.ErrUnknownUser) {
			return nil, err
		}
		return nil, apperr.DB("debit credits", err)
	}

	out := &RedeemResult{Files: len(propertyIDs), CreditsUsed: total, Balance: res.Balance}
	redemptionIDs := make([]uuid.UUID, 0, len(propertyIDs))
	for i, pid := range propertyIDs {
		r := &models.Redemption{
			ID:           uuid.New(),
			UserID:       userID,
			PropertyID:   pid,
			CreditsUsed:  prices[i],
			RevenueValue: prices[i] * s.pricing.RevenuePerCreditCents,
		}
		if err := s.store.CreateTx(ctx, tx, r); err != nil {
			return nil, apperr.DB("create redemption", err)
		}
		if err := s.insert(ctx, tx, jobs.DistributeRevenueArgs{
			RedemptionID: r.ID,
			PropertyID:   pid,
			TotalRevenue: r.RevenueValue,
		}); err != nil {
			return nil, apperr.DB("enqueue distribution", err)
		}
		redemptionIDs = append(redemptionIDs, r.ID)
		out.Redemptions = append(out.Redemptions, r)
	}
	if err := s.insert(ctx, tx, jobs.DeliverReportsArgs{
		UserID:        userID,
		Email:         email,
		PropertyIDs:   propertyIDs,
		RedemptionIDs: redemptionIDs,
	}); err != nil {
		return nil, apperr.DB("enqueue report delivery", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.DB("commit redemption", err)
	}

	s.log.Info("credits redeemed", "user_id", userID, "properties", len(propertyIDs), "credits", total, "balance", res.Balance)
	return out, nil
}

func validateProperties(ids []uuid.UUID) error {
	if len(ids) == 0 || len(ids) > MaxPropertiesPerRedemption {
		return fmt.Errorf("%w: between 1 and %d property ids required, got %d", apperr.ErrBadInput, MaxPropertiesPerRedemption, len(ids))
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			return fmt.Errorf("%w: empty property id", apperr.ErrBadInput)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate property id %s", apperr.ErrBadInput, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// deliveryEmail prefers the address in the request and falls back to the
// account's.
func (s *RedemptionService) deliveryEmail(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	if e := strings.TrimSpace(email); e != "" {
		return e, nil
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", apperr.DB("get user", err)
	}
	if u == nil {
		return "", apperr.ErrUnknownUser
	}
	if strings.TrimSpace(u.Email) == "" {
		return "", apperr.ErrNoEmail
	}
	return u.Email, nil
}

func (s *RedemptionService) price(ctx context.Context, ids []uuid.UUID) ([]int64, error) {
	counts := map[uuid.UUID]int{}
	if s.pricing.Mode == PricingTiered {
		var err error
		counts, err = s.ratings.CountByProperty(ctx, ids)
		if err != nil {
			return nil, apperr.DB("count ratings", err)
		}
	}
	prices := make([]int64, len(ids))
	for i, id := range ids {
		prices[i] = s.pricing.CreditsFor(counts[id])
	}
	return prices, nil
}
