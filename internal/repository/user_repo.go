package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadsong/backend/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

const userColumns = `id, email, display_name, password_hash, credit_balance, referral_code, referred_by, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.CreditBalance, &u.ReferralCode, &u.ReferredBy, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID returns nil, nil when the user does not exist.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByReferralCodeTx looks up the owner of a referral code inside tx.
func (r *UserRepo) GetByReferralCodeTx(ctx context.Context, tx pgx.Tx, code string) (*models.User, error) {
	return scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code))
}

func (r *UserRepo) SetReferredByTx(ctx context.Context, tx pgx.Tx, userID, referrerID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE users SET referred_by = $2, updated_at = now() WHERE id = $1 AND referred_by IS NULL
	`, userID, referrerID)
	return err
}

// ReferralStats counts the users referred by userID and the referral credits
// those referrals earned.
func (r *UserRepo) ReferralStats(ctx context.Context, userID uuid.UUID) (referred int64, earned int64, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users WHERE referred_by = $1),
			(SELECT COALESCE(SUM(delta), 0) FROM credit_ledger
			 WHERE user_id = $1 AND source = 'referral' AND reason = $2)
	`, userID, models.ReasonReferralReferrer).Scan(&referred, &earned)
	return referred, earned, err
}
