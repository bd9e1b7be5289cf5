package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadsong/backend/internal/models"
)

type PayoutRepo struct {
	pool *pgxpool.Pool
}

func NewPayoutRepo(pool *pgxpool.Pool) *PayoutRepo {
	return &PayoutRepo{pool: pool}
}

// ClaimPending moves every pending payout of the payee to processing under
// claimID and returns them. A per-payee advisory lock serialises concurrent
// claims, and the status predicate means a payout is claimed at most once.
// When accept returns an error the claim is rolled back and the error
// returned; nothing is mutated.
func (r *PayoutRepo) ClaimPending(ctx context.Context, payeeID, claimID uuid.UUID, accept func([]*models.ContributorPayout) error) ([]*models.ContributorPayout, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "payout:"+payeeID.String()); err != nil {
		return nil, fmt.Errorf("lock payee: %w", err)
	}
	rows, err := tx.Query(ctx, `
		UPDATE contributor_payouts
		SET status = 'processing', claim_id = $2, updated_at = now()
		WHERE user_id = $1 AND status = 'pending'
		RETURNING id, revenue_distribution_id, user_id, payout_amount, rating_count, is_top_contributor, created_at
	`, payeeID, claimID)
	if err != nil {
		return nil, err
	}
	var claimed []*models.ContributorPayout
	for rows.Next() {
		p := models.ContributorPayout{Status: models.PayoutProcessing, ClaimID: &claimID}
		if err := rows.Scan(&p.ID, &p.RevenueDistributionID, &p.UserID, &p.PayoutAmount, &p.RatingCount, &p.IsTopContributor, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, &p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, nil
	}
	if accept != nil {
		if err := accept(claimed); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkPaid finalises every payout of the claim as paid in one statement.
func (r *PayoutRepo) MarkPaid(ctx context.Context, claimID uuid.UUID, reference string, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contributor_payouts
		SET status = 'paid', payout_reference = $2, processed_at = $3, updated_at = now()
		WHERE claim_id = $1 AND status = 'processing'
	`, claimID, reference, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkFailed finalises every payout of the claim as failed in one statement.
func (r *PayoutRepo) MarkFailed(ctx context.Context, claimID uuid.UUID, reason string, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contributor_payouts
		SET status = 'failed', failure_reason = $2, processed_at = $3, updated_at = now()
		WHERE claim_id = $1 AND status = 'processing'
	`, claimID, reason, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// EarningsByStatus sums the user's payouts per status, in cents.
func (r *PayoutRepo) EarningsByStatus(ctx context.Context, userID uuid.UUID) (map[models.PayoutStatus]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COALESCE(SUM(payout_amount), 0) FROM contributor_payouts
		WHERE user_id = $1 GROUP BY status
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[models.PayoutStatus]int64{}
	for rows.Next() {
		var status string
		var sum int64
		if err := rows.Scan(&status, &sum); err != nil {
			return nil, err
		}
		out[models.PayoutStatus(status)] = sum
	}
	return out, rows.Err()
}

func (r *PayoutRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.ContributorPayout, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, revenue_distribution_id, user_id, payout_amount, rating_count, is_top_contributor, status,
		       claim_id, payout_reference, failure_reason, processed_at, created_at
		FROM contributor_payouts WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.ContributorPayout
	for rows.Next() {
		var p models.ContributorPayout
		var status string
		if err := rows.Scan(&p.ID, &p.RevenueDistributionID, &p.UserID, &p.PayoutAmount, &p.RatingCount, &p.IsTopContributor, &status,
			&p.ClaimID, &p.PayoutReference, &p.FailureReason, &p.ProcessedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Status = models.PayoutStatus(status)
		list = append(list, &p)
	}
	return list, rows.Err()
}

// StuckClaims groups processing payouts by claim whose last update is older
// than before, oldest first.
func (r *PayoutRepo) StuckClaims(ctx context.Context, before time.Time) ([]models.StuckClaim, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT claim_id, user_id, COUNT(*), SUM(payout_amount), MIN(updated_at)
		FROM contributor_payouts
		WHERE status = 'processing' AND claim_id IS NOT NULL AND updated_at < $1
		GROUP BY claim_id, user_id
		ORDER BY MIN(updated_at)
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.StuckClaim
	for rows.Next() {
		var c models.StuckClaim
		if err := rows.Scan(&c.ClaimID, &c.UserID, &c.Payouts, &c.AmountCents, &c.Since); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
