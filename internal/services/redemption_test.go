package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadsong/backend/internal/apperr"
	"github.com/leadsong/backend/internal/jobs"
	"github.com/leadsong/backend/internal/ledger"
	"github.com/leadsong/backend/internal/models"
)

func newRedemption(db *memDB, ratings ratingCounts, pricing Pricing) *RedemptionService {
	led := ledger.NewService(db, discardLogger())
	return NewRedemptionService(db, ratings, db, led, db.insert, pricing, discardLogger())
}

func seedUser(balance int64) *models.User {
	return &models.User{ID: uuid.New(), Email: "owner@example.com", CreditBalance: balance, ReferralCode: uuid.NewString()[:8]}
}

func TestRedeem_DebitsAndEnqueuesInOneTransaction(t *testing.T) {
	u := seedUser(5)
	db := newMemDB(u)
	svc := newRedemption(db, nil, Pricing{Mode: PricingFlat, RevenuePerCreditCents: 1000})

	props := []uuid.UUID{uuid.New(), uuid.New()}
	res, err := svc.Redeem(context.Background(), u.ID, "buyer@example.com", props)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, int64(2), res.CreditsUsed)
	assert.Equal(t, int64(3), res.Balance)
	assert.Equal(t, int64(3), db.balance(u.ID))

	require.Len(t, db.redemptions, 2)
	assert.Equal(t, int64(1000), db.redemptions[0].RevenueValue)

	require.Len(t, db.jobs, 3)
	dist, ok := db.jobs[0].(jobs.DistributeRevenueArgs)
	require.True(t, ok)
	assert.Equal(t, db.redemptions[0].ID, dist.RedemptionID)
	assert.Equal(t, int64(1000), dist.TotalRevenue)
	deliver, ok := db.jobs[2].(jobs.DeliverReportsArgs)
	require.True(t, ok)
	assert.Equal(t, "buyer@example.com", deliver.Email)
	assert.Equal(t, props, deliver.PropertyIDs)

	require.Len(t, db.entries, 1)
	assert.Equal(t, int64(-2), db.entries[0].Delta)
	assert.Equal(t, models.LedgerSourceRedemption, db.entries[0].Source)
}

// A user with 3 credits cannot redeem 5 credits of reports.
func TestRedeem_InsufficientBalanceLeavesNothing(t *testing.T) {
	u := seedUser(3)
	db := newMemDB(u)
	svc := newRedemption(db, nil, Pricing{Mode: PricingFlat})

	props := make([]uuid.UUID, 5)
	for i := range props {
		props[i] = uuid.New()
	}
	_, err := svc.Redeem(context.Background(), u.ID, "", props)
	require.ErrorIs(t, err, apperr.ErrInsufficientBalance)
	assert.Equal(t, apperr.KindInsufficientBalance, apperr.KindOf(err))

	assert.Equal(t, int64(3), db.balance(u.ID))
	assert.Empty(t, db.redemptions)
	assert.Empty(t, db.entries)
	assert.Empty(t, db.jobs)
}

func TestRedeem_Validation(t *testing.T) {
	u := seedUser(50)
	db := newMemDB(u)
	svc := newRedemption(db, nil, Pricing{})

	dup := uuid.New()
	tooMany := make([]uuid.UUID, MaxPropertiesPerRedemption+1)
	for i := range tooMany {
		tooMany[i] = uuid.New()
	}
	cases := map[string][]uuid.UUID{
		"empty":     nil,
		"too many":  tooMany,
		"duplicate": {dup, dup},
		"nil id":    {uuid.Nil},
	}
	for name, ids := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Redeem(context.Background(), u.ID, "a@example.com", ids)
			assert.ErrorIs(t, err, apperr.ErrBadInput)
		})
	}
	assert.Equal(t, int64(50), db.balance(u.ID))
}

func TestRedeem_EmailFallback(t *testing.T) {
	u := seedUser(5)
	noEmail := seedUser(5)
	noEmail.Email = ""
	db := newMemDB(u, noEmail)
	svc := newRedemption(db, nil, Pricing{})

	_, err := svc.Redeem(context.Background(), u.ID, "  ", []uuid.UUID{uuid.New()})
	require.NoError(t, err)
	deliver := db.jobs[len(db.jobs)-1].(jobs.DeliverReportsArgs)
	assert.Equal(t, "owner@example.com", deliver.Email)

	_, err = svc.Redeem(context.Background(), noEmail.ID, "", []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, apperr.ErrNoEmail)
	assert.Equal(t, int64(5), db.balance(noEmail.ID))

	_, err = svc.Redeem(context.Background(), uuid.New(), "", []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, apperr.ErrUnknownUser)
}

func TestRedeem_TieredPricing(t *testing.T) {
	u := seedUser(10)
	db := newMemDB(u)
	quiet, busy, famous := uuid.New(), uuid.New(), uuid.New()
	ratings := ratingCounts{quiet: 12, busy: 250, famous: 5000}
	svc := newRedemption(db, ratings, Pricing{Mode: PricingTiered, RevenuePerCreditCents: 1000})

	res, err := svc.Redeem(context.Background(), u.ID, "a@example.com", []uuid.UUID{quiet, busy, famous})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.CreditsUsed)
	assert.Equal(t, int64(3), db.balance(u.ID))
	assert.Equal(t, []int64{1, 2, 4}, []int64{db.redemptions[0].CreditsUsed, db.redemptions[1].CreditsUsed, db.redemptions[2].CreditsUsed})
	assert.Equal(t, int64(4000), db.redemptions[2].RevenueValue)
}

func TestRedeem_EnqueueFailureRollsBack(t *testing.T) {
	u := seedUser(5)
	db := newMemDB(u)
	db.insertErr = errors.New("queue table missing")
	svc := newRedemption(db, nil, Pricing{})

	_, err := svc.Redeem(context.Background(), u.ID, "a@example.com", []uuid.UUID{uuid.New()})
	require.Error(t, err)
	assert.True(t, apperr.Retryable(err))
	assert.Equal(t, int64(5), db.balance(u.ID))
	assert.Empty(t, db.entries)
	assert.Empty(t, db.redemptions)
}

func TestRedeem_ConcurrentRequestsNeverOverdraw(t *testing.T) {
	u := seedUser(3)
	db := newMemDB(u)
	svc := newRedemption(db, nil, Pricing{})

	var wg sync.WaitGroup
	var ok, insufficient atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Redeem(context.Background(), u.ID, "a@example.com", []uuid.UUID{uuid.New()})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, apperr.ErrInsufficientBalance):
				insufficient.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(3), ok.Load())
	assert.Equal(t, int32(7), insufficient.Load())
	assert.Equal(t, int64(0), db.balance(u.ID))
	assert.Equal(t, int64(-3), db.ledgerSum(u.ID))
}

func TestPricingCreditsFor(t *testing.T) {
	flat := Pricing{Mode: PricingFlat}
	tiered := Pricing{Mode: PricingTiered}
	assert.Equal(t, int64(1), flat.CreditsFor(10_000))
	assert.Equal(t, int64(1), tiered.CreditsFor(0))
	assert.Equal(t, int64(1), tiered.CreditsFor(99))
	assert.Equal(t, int64(2), tiered.CreditsFor(100))
	assert.Equal(t, int64(2), tiered.CreditsFor(999))
	assert.Equal(t, int64(4), tiered.CreditsFor(1000))
}
