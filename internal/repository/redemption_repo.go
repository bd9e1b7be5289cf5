package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadsong/backend/internal/models"
)

type RedemptionRepo struct {
	pool *pgxpool.Pool
}

func NewRedemptionRepo(pool *pgxpool.Pool) *RedemptionRepo {
	return &RedemptionRepo{pool: pool}
}

func (r *RedemptionRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// CreateTx inserts a redemption inside the given transaction.
func (r *RedemptionRepo) CreateTx(ctx context.Context, tx pgx.Tx, m *models.Redemption) error {
	return tx.QueryRow(ctx, `
		INSERT INTO redemptions (id, user_id, property_id, credits_used, revenue_value)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, m.ID, m.UserID, m.PropertyID, m.CreditsUsed, m.RevenueValue).Scan(&m.CreatedAt)
}

func (r *RedemptionRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Redemption, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, property_id, credits_used, revenue_value, created_at
		FROM redemptions WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Redemption
	for rows.Next() {
		var m models.Redemption
		if err := rows.Scan(&m.ID, &m.UserID, &m.PropertyID, &m.CreditsUsed, &m.RevenueValue, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &m)
	}
	return list, rows.Err()
}
