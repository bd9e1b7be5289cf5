package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadsong/backend/internal/revenue"
)

type RatingRepo struct {
	pool *pgxpool.Pool
}

func NewRatingRepo(pool *pgxpool.Pool) *RatingRepo {
	return &RatingRepo{pool: pool}
}

// ContributorStats groups the property's ratings since the given time by user.
func (r *RatingRepo) ContributorStats(ctx context.Context, propertyID uuid.UUID, since time.Time) ([]revenue.ContributorStat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, COUNT(*) AS rating_count, MIN(created_at) AS first_rated_at
		FROM ratings
		WHERE property_id = $1 AND created_at >= $2
		GROUP BY user_id
		ORDER BY rating_count DESC, first_rated_at ASC, user_id ASC
	`, propertyID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []revenue.ContributorStat
	for rows.Next() {
		var s revenue.ContributorStat
		if err := rows.Scan(&s.UserID, &s.RatingCount, &s.FirstRatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountByProperty returns the all-time rating count of each property.
// Properties without ratings are absent from the map.
func (r *RatingRepo) CountByProperty(ctx context.Context, propertyIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT property_id, COUNT(*) FROM ratings WHERE property_id = ANY($1) GROUP BY property_id
	`, propertyIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]int, len(propertyIDs))
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}
