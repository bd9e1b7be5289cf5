package services

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/riverqueue/river"

	"github.com/leadsong/backend/internal/apperr"
	"github.com/leadsong/backend/internal/models"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

// memTx applies writes immediately and undoes them on rollback.
type memTx struct {
	noopTx
	db   *memDB
	undo []func()
	done bool
}

func (t *memTx) Commit(context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	if t.db.commitErr != nil {
		t.rollbackLocked()
		return t.db.commitErr
	}
	t.undo = nil
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if !t.done {
		t.done = true
		t.rollbackLocked()
	}
	return nil
}

func (t *memTx) rollbackLocked() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// memDB implements ledger.Store, RedemptionStore and ReferrerStore over one
// set of tables so a single transaction spans all of them.
type memDB struct {
	mu          sync.Mutex
	users       map[uuid.UUID]*models.User
	entries     []*models.LedgerEntry
	events      map[string]bool
	redemptions []*models.Redemption
	jobs        []river.JobArgs
	commitErr   error
	insertErr   error
}

func newMemDB(users ...*models.User) *memDB {
	db := &memDB{users: map[uuid.UUID]*models.User{}, events: map[string]bool{}}
	for _, u := range users {
		db.users[u.ID] = u
	}
	return db
}

func (db *memDB) Begin(context.Context) (pgx.Tx, error) { return &memTx{db: db}, nil }

func (db *memDB) EntryExistsTx(_ context.Context, _ pgx.Tx, id string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.events[id], nil
}

func (db *memDB) InsertEntryTx(_ context.Context, tx pgx.Tx, e *models.LedgerEntry) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if e.ExternalEventID != nil && db.events[*e.ExternalEventID] {
		return false, nil
	}
	n := len(db.entries)
	db.entries = append(db.entries, e)
	if e.ExternalEventID != nil {
		id := *e.ExternalEventID
		db.events[id] = true
		tx.(*memTx).undo = append(tx.(*memTx).undo, func() { delete(db.events, id) })
	}
	tx.(*memTx).undo = append(tx.(*memTx).undo, func() { db.entries = db.entries[:n] })
	return true, nil
}

func (db *memDB) AdjustBalanceTx(_ context.Context, tx pgx.Tx, userID uuid.UUID, delta int64) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[userID]
	if !ok {
		return 0, apperr.ErrUnknownUser
	}
	if u.CreditBalance+delta < 0 {
		return 0, apperr.ErrInsufficientBalance
	}
	u.CreditBalance += delta
	tx.(*memTx).undo = append(tx.(*memTx).undo, func() { u.CreditBalance -= delta })
	return u.CreditBalance, nil
}

func (db *memDB) Balance(_ context.Context, userID uuid.UUID) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if u, ok := db.users[userID]; ok {
		return u.CreditBalance, nil
	}
	return 0, apperr.ErrUnknownUser
}

func (db *memDB) CreateTx(_ context.Context, tx pgx.Tx, r *models.Redemption) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := len(db.redemptions)
	db.redemptions = append(db.redemptions, r)
	tx.(*memTx).undo = append(tx.(*memTx).undo, func() { db.redemptions = db.redemptions[:n] })
	return nil
}

func (db *memDB) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.users[id], nil
}

func (db *memDB) GetByReferralCodeTx(_ context.Context, _ pgx.Tx, code string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, u := range db.users {
		if u.ReferralCode == code {
			return u, nil
		}
	}
	return nil, nil
}

func (db *memDB) SetReferredByTx(_ context.Context, tx pgx.Tx, userID, referrerID uuid.UUID) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	u := db.users[userID]
	if u == nil || u.ReferredBy != nil {
		return nil
	}
	id := referrerID
	u.ReferredBy = &id
	tx.(*memTx).undo = append(tx.(*memTx).undo, func() { u.ReferredBy = nil })
	return nil
}

// insert is the jobs.InsertTxFunc of the fake.
func (db *memDB) insert(_ context.Context, tx pgx.Tx, args river.JobArgs) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.insertErr != nil {
		return db.insertErr
	}
	n := len(db.jobs)
	db.jobs = append(db.jobs, args)
	tx.(*memTx).undo = append(tx.(*memTx).undo, func() { db.jobs = db.jobs[:n] })
	return nil
}

func (db *memDB) balance(id uuid.UUID) int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.users[id].CreditBalance
}

func (db *memDB) ledgerSum(id uuid.UUID) int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	var sum int64
	for _, e := range db.entries {
		if e.UserID == id {
			sum += e.Delta
		}
	}
	return sum
}

type ratingCounts map[uuid.UUID]int

func (r ratingCounts) CountByProperty(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	out := map[uuid.UUID]int{}
	for _, id := range ids {
		if n, ok := r[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}
