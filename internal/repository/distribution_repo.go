package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadsong/backend/internal/models"
)

type DistributionRepo struct {
	pool *pgxpool.Pool
}

func NewDistributionRepo(pool *pgxpool.Pool) *DistributionRepo {
	return &DistributionRepo{pool: pool}
}

func (r *DistributionRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// GetByRedemptionID returns nil, nil when the redemption has not been distributed.
func (r *DistributionRepo) GetByRedemptionID(ctx context.Context, redemptionID uuid.UUID) (*models.RevenueDistribution, error) {
	var d models.RevenueDistribution
	err := r.pool.QueryRow(ctx, `
		SELECT id, redemption_id, property_id, total_revenue, platform_share, top_contributor_share,
		       other_contributors_share, unallocated_amount, top_contributor_id, top_contributor_rating_count, created_at
		FROM revenue_distributions WHERE redemption_id = $1
	`, redemptionID).Scan(&d.ID, &d.RedemptionID, &d.PropertyID, &d.TotalRevenue, &d.PlatformShare, &d.TopContributorShare,
		&d.OtherContributorsShare, &d.UnallocatedAmount, &d.TopContributorID, &d.TopContributorRatingCount, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateTx inserts d. It returns false when the redemption already has a distribution.
func (r *DistributionRepo) CreateTx(ctx context.Context, tx pgx.Tx, d *models.RevenueDistribution) (bool, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO revenue_distributions (id, redemption_id, property_id, total_revenue, platform_share,
			top_contributor_share, other_contributors_share, unallocated_amount, top_contributor_id, top_contributor_rating_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (redemption_id) DO NOTHING
		RETURNING created_at
	`, d.ID, d.RedemptionID, d.PropertyID, d.TotalRevenue, d.PlatformShare,
		d.TopContributorShare, d.OtherContributorsShare, d.UnallocatedAmount, d.TopContributorID, d.TopContributorRatingCount).Scan(&d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *DistributionRepo) CreatePayoutTx(ctx context.Context, tx pgx.Tx, p *models.ContributorPayout) error {
	return tx.QueryRow(ctx, `
		INSERT INTO contributor_payouts (id, revenue_distribution_id, user_id, payout_amount, rating_count, is_top_contributor, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, p.ID, p.RevenueDistributionID, p.UserID, p.PayoutAmount, p.RatingCount, p.IsTopContributor, string(p.Status)).Scan(&p.CreatedAt)
}
