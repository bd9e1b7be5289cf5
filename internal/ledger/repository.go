package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadsong/backend/internal/apperr"
	"github.com/leadsong/backend/internal/models"
)

// Repository is the Postgres-backed ledger store. Balances live in
// users.credit_balance and are only written by the methods here, always in
// the same transaction as the credit_ledger insert they reflect.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// EntryExistsTx reports whether an entry with the given external event id
// has already been written.
func (r *Repository) EntryExistsTx(ctx context.Context, tx pgx.Tx, externalEventID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM credit_ledger WHERE external_event_id = $1)
	`, externalEventID).Scan(&exists)
	return exists, err
}

// InsertEntryTx appends e. It returns false, without error, when another
// entry already holds e.ExternalEventID, and apperr.ErrUnknownUser when
// e.UserID has no users row.
func (r *Repository) InsertEntryTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) (bool, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO credit_ledger (id, user_id, delta, source, external_event_id, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_event_id) DO NOTHING
		RETURNING created_at
	`, e.ID, e.UserID, e.Delta, e.Source, e.ExternalEventID, e.Reason).Scan(&e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, insertEntryErr(err)
	}
	return true, nil
}

func insertEntryErr(err error) error {
	if isUnknownUserViolation(err) {
		return fmt.Errorf("%w: %v", apperr.ErrUnknownUser, err)
	}
	return err
}

// AdjustBalanceTx applies delta to the user's materialized balance. Negative
// deltas are a single conditional decrement that only succeeds while the
// balance covers the amount.
func (r *Repository) AdjustBalanceTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta int64) (int64, error) {
	var balance int64
	var err error
	if delta < 0 {
		err = tx.QueryRow(ctx, `
			UPDATE users SET credit_balance = credit_balance - $1, updated_at = now()
			WHERE id = $2 AND credit_balance >= $1
			RETURNING credit_balance
		`, -delta, userID).Scan(&balance)
	} else {
		err = tx.QueryRow(ctx, `
			UPDATE users SET credit_balance = credit_balance + $1, updated_at = now()
			WHERE id = $2
			RETURNING credit_balance
		`, delta, userID).Scan(&balance)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return 0, err
		}
		if !exists {
			return 0, apperr.ErrUnknownUser
		}
		return 0, apperr.ErrInsufficientBalance
	}
	return balance, err
}

func (r *Repository) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT credit_balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.ErrUnknownUser
	}
	return balance, err
}

// ListByUser returns the user's entries, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, delta, source, external_event_id, reason, created_at
		FROM credit_ledger WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Source, &e.ExternalEventID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

// Drift lists users whose materialized balance disagrees with the sum of
// their ledger entries.
func (r *Repository) Drift(ctx context.Context) ([]BalanceDrift, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT u.id, u.credit_balance, COALESCE(SUM(l.delta), 0)
		FROM users u
		LEFT JOIN credit_ledger l ON l.user_id = u.id
		GROUP BY u.id, u.credit_balance
		HAVING u.credit_balance <> COALESCE(SUM(l.delta), 0)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BalanceDrift
	for rows.Next() {
		var d BalanceDrift
		if err := rows.Scan(&d.UserID, &d.Materialized, &d.LedgerSum); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// userFKConstraint is the default name Postgres gives credit_ledger.user_id's
// foreign key.
const userFKConstraint = "credit_ledger_user_id_fkey"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isUnknownUserViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23503" {
		return false
	}
	return pgErr.ConstraintName == "" || pgErr.ConstraintName == userFKConstraint
}
