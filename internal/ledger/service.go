package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/leadsong/backend/internal/apperr"
	"github.com/leadsong/backend/internal/models"
	"github.com/leadsong/backend/internal/observability"
)

// Outcome of applying an externally identified credit.
type Outcome int

const (
	Applied Outcome = iota + 1
	AlreadyApplied
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case AlreadyApplied:
		return "already_applied"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Credit is a balance change keyed by an idempotency key supplied by its
// producer (payment event id, referral key, ...).
type Credit struct {
	ExternalEventID string
	UserID          uuid.UUID
	Amount          int64
	Source          string
	Reason          string
}

func (c Credit) validate() error {
	if strings.TrimSpace(c.ExternalEventID) == "" {
		return fmt.Errorf("%w: external event id is required", apperr.ErrBadInput)
	}
	if c.UserID == uuid.Nil {
		return fmt.Errorf("%w: user id is required", apperr.ErrBadInput)
	}
	if c.Amount <= 0 {
		return fmt.Errorf("%w: credit amount must be positive, got %d", apperr.ErrBadInput, c.Amount)
	}
	if !models.ValidLedgerSource(c.Source) {
		return fmt.Errorf("%w: unknown ledger source %q", apperr.ErrBadInput, c.Source)
	}
	return nil
}

// Result describes what a ledger operation did. Retryable is only meaningful
// when Outcome is Failed and tells the producer whether redelivery can help.
type Result struct {
	Outcome   Outcome
	Entry     *models.LedgerEntry
	Balance   int64
	Retryable bool
}

// BalanceDrift is a user whose cached balance disagrees with the entry log.
type BalanceDrift struct {
	UserID       uuid.UUID
	Materialized int64
	LedgerSum    int64
}

// Store is the persistence the ledger service needs.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	EntryExistsTx(ctx context.Context, tx pgx.Tx, externalEventID string) (bool, error)
	InsertEntryTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) (bool, error)
	AdjustBalanceTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta int64) (int64, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
}

type Service interface {
	// ApplyExternalCredit applies c exactly once per ExternalEventID in its own transaction.
	ApplyExternalCredit(ctx context.Context, c Credit) (Result, error)
	// ApplyExternalCreditTx does the same inside the caller's transaction.
	ApplyExternalCreditTx(ctx context.Context, tx pgx.Tx, c Credit) (Result, error)
	// Debit removes amount from the user's balance or fails with apperr.ErrInsufficientBalance.
	Debit(ctx context.Context, userID uuid.UUID, amount int64, source, reason string) (Result, error)
	DebitTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, source, reason string) (Result, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
}

type service struct {
	store   Store
	log     *slog.Logger
	metrics *observability.LedgerMetrics
}

func NewService(store Store, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, log: log, metrics: observability.Ledger()}
}

var _ Service = (*service)(nil)

func (s *service) ApplyExternalCredit(ctx context.Context, c Credit) (Result, error) {
	if err := c.validate(); err != nil {
		return s.failed(c, err)
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return s.failed(c, fmt.Errorf("begin ledger credit: %w", err))
	}
	defer tx.Rollback(ctx)

	res, err := s.applyTx(ctx, tx, c)
	if err != nil {
		return s.failed(c, err)
	}
	if res.Outcome == AlreadyApplied {
		return s.done(c, res), nil
	}
	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return s.done(c, Result{Outcome: AlreadyApplied}), nil
		}
		return s.failed(c, fmt.Errorf("commit ledger credit: %w", err))
	}
	return s.done(c, res), nil
}

func (s *service) ApplyExternalCreditTx(ctx context.Context, tx pgx.Tx, c Credit) (Result, error) {
	if err := c.validate(); err != nil {
		return s.failed(c, err)
	}
	res, err := s.applyTx(ctx, tx, c)
	if err != nil {
		return s.failed(c, err)
	}
	return s.done(c, res), nil
}

func (s *service) applyTx(ctx context.Context, tx pgx.Tx, c Credit) (Result, error) {
	exists, err := s.store.EntryExistsTx(ctx, tx, c.ExternalEventID)
	if err != nil {
		return Result{}, fmt.Errorf("lookup external event: %w", err)
	}
	if exists {
		return Result{Outcome: AlreadyApplied}, nil
	}
	eventID := c.ExternalEventID
	entry := &models.LedgerEntry{
		ID:              uuid.New(),
		UserID:          c.UserID,
		Delta:           c.Amount,
		Source:          c.Source,
		ExternalEventID: &eventID,
		Reason:          c.Reason,
	}
	inserted, err := s.store.InsertEntryTx(ctx, tx, entry)
	if err != nil {
		if isUniqueViolation(err) {
			return Result{Outcome: AlreadyApplied}, nil
		}
		return Result{}, fmt.Errorf("insert ledger entry: %w", insertEntryErr(err))
	}
	if !inserted {
		// a concurrent delivery committed first
		return Result{Outcome: AlreadyApplied}, nil
	}
	balance, err := s.store.AdjustBalanceTx(ctx, tx, c.UserID, c.Amount)
	if err != nil {
		return Result{}, fmt.Errorf("credit balance: %w", err)
	}
	return Result{Outcome: Applied, Entry: entry, Balance: balance}, nil
}

func (s *service) Debit(ctx context.Context, userID uuid.UUID, amount int64, source, reason string) (Result, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return Result{Outcome: Failed, Retryable: true}, fmt.Errorf("begin ledger debit: %w", err)
	}
	defer tx.Rollback(ctx)
	res, err := s.DebitTx(ctx, tx, userID, amount, source, reason)
	if err != nil {
		return res, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{Outcome: Failed, Retryable: true}, fmt.Errorf("commit ledger debit: %w", err)
	}
	return res, nil
}

// DebitTx decrements first so an unaffordable debit leaves no entry behind.
func (s *service) DebitTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, source, reason string) (Result, error) {
	if amount <= 0 {
		return Result{Outcome: Failed}, fmt.Errorf("%w: debit amount must be positive, got %d", apperr.ErrBadInput, amount)
	}
	if !models.ValidLedgerSource(source) {
		return Result{Outcome: Failed}, fmt.Errorf("%w: unknown ledger source %q", apperr.ErrBadInput, source)
	}
	balance, err := s.store.AdjustBalanceTx(ctx, tx, userID, -amount)
	if err != nil {
		s.metrics.RecordDebit(source, apperr.KindOf(err).String())
		return Result{Outcome: Failed, Retryable: apperr.Retryable(err)}, fmt.Errorf("debit balance: %w", err)
	}
	entry := &models.LedgerEntry{
		ID:     uuid.New(),
		UserID: userID,
		Delta:  -amount,
		Source: source,
		Reason: reason,
	}
	if _, err := s.store.InsertEntryTx(ctx, tx, entry); err != nil {
		s.metrics.RecordDebit(source, "error")
		return Result{Outcome: Failed, Retryable: true}, fmt.Errorf("insert debit entry: %w", err)
	}
	s.metrics.RecordDebit(source, "ok")
	return Result{Outcome: Applied, Entry: entry, Balance: balance}, nil
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.store.Balance(ctx, userID)
}

func (s *service) done(c Credit, res Result) Result {
	s.metrics.RecordCredit(c.Source, res.Outcome.String())
	if res.Outcome == AlreadyApplied {
		s.log.Info("ledger credit already applied", "external_event_id", c.ExternalEventID, "user_id", c.UserID)
	}
	return res
}

func (s *service) failed(c Credit, err error) (Result, error) {
	s.metrics.RecordCredit(c.Source, Failed.String())
	return Result{Outcome: Failed, Retryable: apperr.Retryable(err)}, err
}
