package revenue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/leadsong/backend/internal/apperr"
	"github.com/leadsong/backend/internal/models"
	"github.com/leadsong/backend/internal/observability"
)

// RatingSource reports per-contributor rating activity on a property.
type RatingSource interface {
	ContributorStats(ctx context.Context, propertyID uuid.UUID, since time.Time) ([]ContributorStat, error)
}

// Store persists a distribution and its payouts.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetByRedemptionID(ctx context.Context, redemptionID uuid.UUID) (*models.RevenueDistribution, error)
	CreateTx(ctx context.Context, tx pgx.Tx, d *models.RevenueDistribution) (bool, error)
	CreatePayoutTx(ctx context.Context, tx pgx.Tx, p *models.ContributorPayout) error
}

type Options struct {
	Split             Split
	Policy            UnallocatedPolicy
	TopWindow         time.Duration
	ContributorWindow time.Duration
}

func (o *Options) applyDefaults() {
	if o.Split == (Split{}) {
		o.Split = DefaultSplit
	}
	if o.Policy == "" {
		o.Policy = PolicyRetain
	}
	if o.TopWindow <= 0 {
		o.TopWindow = 30 * 24 * time.Hour
	}
	if o.ContributorWindow <= 0 {
		o.ContributorWindow = 365 * 24 * time.Hour
	}
}

// Distributor computes and records revenue distributions.
type Distributor struct {
	ratings RatingSource
	store   Store
	opts    Options
	now     func() time.Time
	log     *slog.Logger
	metrics *observability.PayoutMetrics
}

func NewDistributor(ratings RatingSource, store Store, opts Options, log *slog.Logger) *Distributor {
	opts.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Distributor{
		ratings: ratings,
		store:   store,
		opts:    opts,
		now:     time.Now,
		log:     log,
		metrics: observability.Payouts(),
	}
}

// Distribute records the split of totalRevenue for one redemption together
// with one pending payout per recipient, in a single transaction. Calling it
// again for the same redemption returns the stored distribution without
// creating anything, and with nil payouts.
func (d *Distributor) Distribute(ctx context.Context, propertyID, redemptionID uuid.UUID, totalRevenue int64) (*models.RevenueDistribution, []*models.ContributorPayout, error) {
	if propertyID == uuid.Nil || redemptionID == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: property and redemption ids are required", apperr.ErrBadInput)
	}
	existing, err := d.store.GetByRedemptionID(ctx, redemptionID)
	if err != nil {
		return nil, nil, fmt.Errorf("load distribution: %w", err)
	}
	if existing != nil {
		return existing, nil, nil
	}

	now := d.now()
	recent, err := d.ratings.ContributorStats(ctx, propertyID, now.Add(-d.opts.TopWindow))
	if err != nil {
		return nil, nil, fmt.Errorf("load recent contributors: %w", err)
	}
	extended, err := d.ratings.ContributorStats(ctx, propertyID, now.Add(-d.opts.ContributorWindow))
	if err != nil {
		return nil, nil, fmt.Errorf("load contributors: %w", err)
	}
	plan, err := Calculate(totalRevenue, recent, extended, d.opts.Split, d.opts.Policy)
	if err != nil {
		return nil, nil, err
	}

	dist := &models.RevenueDistribution{
		ID:                     uuid.New(),
		RedemptionID:           redemptionID,
		PropertyID:             propertyID,
		TotalRevenue:           plan.TotalRevenue,
		PlatformShare:          plan.PlatformShare,
		TopContributorShare:    plan.TopContributorShare,
		OtherContributorsShare: plan.OtherContributorsShare,
		UnallocatedAmount:      plan.Unallocated,
	}
	if plan.TopContributor != nil {
		id := plan.TopContributor.UserID
		dist.TopContributorID = &id
		dist.TopContributorRatingCount = plan.TopContributor.RatingCount
	}

	tx, err := d.store.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	created, err := d.store.CreateTx(ctx, tx, dist)
	if err != nil {
		return nil, nil, fmt.Errorf("insert distribution: %w", err)
	}
	if !created {
		// lost a race with another worker for the same redemption
		_ = tx.Rollback(ctx)
		existing, err := d.store.GetByRedemptionID(ctx, redemptionID)
		if err != nil {
			return nil, nil, fmt.Errorf("load distribution: %w", err)
		}
		return existing, nil, nil
	}

	payouts := make([]*models.ContributorPayout, 0, len(plan.Allocations))
	for _, a := range plan.Allocations {
		p := &models.ContributorPayout{
			ID:                    uuid.New(),
			RevenueDistributionID: dist.ID,
			UserID:                a.UserID,
			PayoutAmount:          a.Amount,
			RatingCount:           a.RatingCount,
			IsTopContributor:      a.IsTop,
			Status:                models.PayoutPending,
		}
		if err := d.store.CreatePayoutTx(ctx, tx, p); err != nil {
			return nil, nil, fmt.Errorf("insert payout: %w", err)
		}
		payouts = append(payouts, p)
	}
	if err := tx.Commit(ctx); err != nil {
		d.metrics.RecordDistribution("error")
		return nil, nil, fmt.Errorf("commit distribution: %w", err)
	}
	d.metrics.RecordDistribution("created")
	d.log.Info("revenue distributed",
		"redemption_id", redemptionID,
		"property_id", propertyID,
		"total_revenue", totalRevenue,
		"payouts", len(payouts),
		"unallocated", plan.Unallocated,
	)
	return dist, payouts, nil
}
