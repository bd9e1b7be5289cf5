package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadsong/backend/internal/models"
)

type PayeeRepo struct {
	pool *pgxpool.Pool
}

func NewPayeeRepo(pool *pgxpool.Pool) *PayeeRepo {
	return &PayeeRepo{pool: pool}
}

// GetPayeeAccount returns nil, nil when the user has not linked an account.
func (r *PayeeRepo) GetPayeeAccount(ctx context.Context, userID uuid.UUID) (*models.PayeeAccount, error) {
	var a models.PayeeAccount
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, external_account_id, transfer_enabled, updated_at
		FROM payee_accounts WHERE user_id = $1
	`, userID).Scan(&a.UserID, &a.ExternalAccountID, &a.TransferEnabled, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Upsert links or relinks the user's external account. Relinking to a
// different account resets transfer_enabled to the given value.
func (r *PayeeRepo) Upsert(ctx context.Context, a *models.PayeeAccount) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO payee_accounts (user_id, external_account_id, transfer_enabled)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET external_account_id = EXCLUDED.external_account_id,
		    transfer_enabled = EXCLUDED.transfer_enabled,
		    updated_at = now()
		RETURNING updated_at
	`, a.UserID, a.ExternalAccountID, a.TransferEnabled).Scan(&a.UpdatedAt)
}

// SetTransferEnabled applies an account status update from the payment
// provider. It reports whether a linked account matched.
func (r *PayeeRepo) SetTransferEnabled(ctx context.Context, externalAccountID string, enabled bool) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payee_accounts SET transfer_enabled = $2, updated_at = now()
		WHERE external_account_id = $1
	`, externalAccountID, enabled)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
