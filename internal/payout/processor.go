// Package payout batches a payee's pending contributor payouts into a single
// external transfer.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/leadsong/backend/internal/apperr"
	"github.com/leadsong/backend/internal/models"
	"github.com/leadsong/backend/internal/observability"
	"github.com/leadsong/backend/internal/transfer"
)

// PayoutStore claims and finalises payouts. ClaimPending must move the
// payee's pending rows to processing atomically, and roll the claim back when
// accept returns an error.
type PayoutStore interface {
	ClaimPending(ctx context.Context, payeeID, claimID uuid.UUID, accept func([]*models.ContributorPayout) error) ([]*models.ContributorPayout, error)
	MarkPaid(ctx context.Context, claimID uuid.UUID, reference string, at time.Time) (int64, error)
	MarkFailed(ctx context.Context, claimID uuid.UUID, reason string, at time.Time) (int64, error)
}

type PayeeStore interface {
	GetPayeeAccount(ctx context.Context, userID uuid.UUID) (*models.PayeeAccount, error)
}

// Summary is the outcome of one processing run.
type Summary struct {
	TotalPayouts      int    `json:"totalPayouts"`
	SuccessfulPayouts int    `json:"successfulPayouts"`
	FailedPayouts     int    `json:"failedPayouts"`
	TotalAmount       int64  `json:"totalAmount"`
	TransferID        string `json:"transferId,omitempty"`
}

type Processor struct {
	payouts  PayoutStore
	payees   PayeeStore
	gateway  transfer.Gateway
	minimum  int64
	timeout  time.Duration
	currency string
	now      func() time.Time
	log      *slog.Logger
	metrics  *observability.PayoutMetrics
}

type Option func(*Processor)

func WithMinimum(cents int64) Option { return func(p *Processor) { p.minimum = cents } }

func WithTimeout(d time.Duration) Option { return func(p *Processor) { p.timeout = d } }

func WithCurrency(c string) Option { return func(p *Processor) { p.currency = c } }

func WithClock(now func() time.Time) Option { return func(p *Processor) { p.now = now } }

func WithLogger(l *slog.Logger) Option { return func(p *Processor) { p.log = l } }

func NewProcessor(payouts PayoutStore, payees PayeeStore, gateway transfer.Gateway, opts ...Option) *Processor {
	p := &Processor{
		payouts:  payouts,
		payees:   payees,
		gateway:  gateway,
		minimum:  100,
		timeout:  30 * time.Second,
		currency: "usd",
		now:      time.Now,
		log:      slog.Default(),
		metrics:  observability.Payouts(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process transfers everything the payee is owed in one external call.
//
// Validation failures (no account, not enabled, below minimum) return before
// any row changes. Once the claim commits, the claimed rows end in exactly one
// of paid or failed; a failed transfer returns the summary together with an
// error wrapping apperr.ErrTransferFailed.
func (p *Processor) Process(ctx context.Context, payeeID uuid.UUID) (*Summary, error) {
	if payeeID == uuid.Nil {
		return nil, fmt.Errorf("%w: payee id is required", apperr.ErrBadInput)
	}
	account, err := p.payees.GetPayeeAccount(ctx, payeeID)
	if err != nil {
		return nil, apperr.DB("get payee account", err)
	}
	if account == nil || account.ExternalAccountID == "" {
		return nil, apperr.ErrNoAccount
	}
	if !account.TransferEnabled {
		return nil, apperr.ErrTransferNotEnabled
	}

	claimID := uuid.New()
	claimed, err := p.payouts.ClaimPending(ctx, payeeID, claimID, func(ps []*models.ContributorPayout) error {
		if total := models.SumPayouts(ps); total < p.minimum {
			return fmt.Errorf("%w: pending %d cents, minimum %d", apperr.ErrBelowMinimum, total, p.minimum)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrBelowMinimum) {
			return nil, err
		}
		return nil, apperr.DB("claim pending payouts", err)
	}
	if len(claimed) == 0 {
		return nil, fmt.Errorf("%w: no pending payouts", apperr.ErrBelowMinimum)
	}

	for _, c := range claimed {
		if !c.Status.CanTransition(models.PayoutPaid) || !c.Status.CanTransition(models.PayoutFailed) {
			// No money has moved; the claim stays visible to reconciliation.
			p.log.Error("claimed payout cannot be finalised, transfer skipped",
				"claim_id", claimID, "payee_id", payeeID, "payout_id", c.ID, "status", c.Status)
			return nil, fmt.Errorf("claim %s: payout %s in status %s", claimID, c.ID, c.Status)
		}
	}

	total := models.SumPayouts(claimed)
	summary := &Summary{TotalPayouts: len(claimed), TotalAmount: total}

	// From here on the claim is durable; the caller going away must not
	// strand rows in processing.
	detached := context.WithoutCancel(ctx)
	tctx, cancel := context.WithTimeout(detached, p.timeout)
	defer cancel()

	started := time.Now()
	res, terr := p.gateway.Transfer(tctx, transfer.Request{
		Destination:    account.ExternalAccountID,
		AmountCents:    total,
		Currency:       p.currency,
		Description:    fmt.Sprintf("Contributor payout (%d items)", len(claimed)),
		IdempotencyKey: "payout-claim-" + claimID.String(),
		Metadata:       payoutMetadata(payeeID, claimID, claimed),
	})
	elapsed := time.Since(started)
	at := p.now().UTC()

	if terr != nil {
		reason := terr.Error()
		if errors.Is(terr, context.DeadlineExceeded) {
			reason = fmt.Sprintf("transfer timed out after %s", p.timeout)
		}
		n, err := p.payouts.MarkFailed(detached, claimID, reason, at)
		if err != nil {
			p.log.Error("failed to mark payouts failed, rows left processing",
				"claim_id", claimID, "payee_id", payeeID, "error", err)
			return nil, apperr.DB("mark payouts failed", err)
		}
		p.metrics.RecordBatch(p.gateway.Name(), "failed", 0, elapsed)
		p.log.Warn("payout transfer failed",
			"claim_id", claimID, "payee_id", payeeID, "amount_cents", total, "payouts", n, "error", terr)
		summary.FailedPayouts = int(n)
		return summary, fmt.Errorf("%w: %s", apperr.ErrTransferFailed, reason)
	}

	n, err := p.payouts.MarkPaid(detached, claimID, res.ID, at)
	if err != nil {
		// Money has moved. Leaving the rows in processing blocks any second
		// transfer; they need manual reconciliation against transfer_id.
		p.log.Error("transfer succeeded but payouts could not be marked paid",
			"claim_id", claimID, "payee_id", payeeID, "transfer_id", res.ID, "amount_cents", total, "error", err)
		return nil, apperr.DB("mark payouts paid", err)
	}
	p.metrics.RecordBatch(p.gateway.Name(), "paid", total, elapsed)
	p.log.Info("payout transfer completed",
		"claim_id", claimID, "payee_id", payeeID, "transfer_id", res.ID, "amount_cents", total, "payouts", n)

	summary.SuccessfulPayouts = int(n)
	summary.TransferID = res.ID
	return summary, nil
}

func payoutMetadata(payeeID, claimID uuid.UUID, ps []*models.ContributorPayout) map[string]string {
	md := map[string]string{
		"payee_id":     payeeID.String(),
		"claim_id":     claimID.String(),
		"payout_count": strconv.Itoa(len(ps)),
	}
	// Providers cap metadata size, so ids are listed individually only for
	// small batches; the claim id always resolves the full set.
	if len(ps) <= 20 {
		for i, p := range ps {
			md["payout_"+strconv.Itoa(i)] = p.ID.String()
		}
	}
	return md
}
