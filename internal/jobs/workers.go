package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/leadsong/backend/internal/apperr"
	"github.com/leadsong/backend/internal/ledger"
	"github.com/leadsong/backend/internal/models"
	"github.com/leadsong/backend/internal/observability"
	"github.com/leadsong/backend/internal/reports"
)

// Distributor defines what the distribution worker needs from revenue.Distributor.
type Distributor interface {
	Distribute(ctx context.Context, propertyID, redemptionID uuid.UUID, totalRevenue int64) (*models.RevenueDistribution, []*models.ContributorPayout, error)
}

// DriftSource reports users whose cached balance disagrees with their entries.
type DriftSource interface {
	Drift(ctx context.Context) ([]ledger.BalanceDrift, error)
}

// ClaimSource reports payout claims left in processing.
type ClaimSource interface {
	StuckClaims(ctx context.Context, before time.Time) ([]models.StuckClaim, error)
}

type DistributeRevenueWorker struct {
	river.WorkerDefaults[DistributeRevenueArgs]
	dist Distributor
	log  *slog.Logger
}

func NewDistributeRevenueWorker(dist Distributor, log *slog.Logger) *DistributeRevenueWorker {
	return &DistributeRevenueWorker{dist: dist, log: log}
}

// Work is safe to repeat: distributions are unique per redemption.
func (w *DistributeRevenueWorker) Work(ctx context.Context, job *river.Job[DistributeRevenueArgs]) error {
	args := job.Args
	_, _, err := w.dist.Distribute(ctx, args.PropertyID, args.RedemptionID, args.TotalRevenue)
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) == apperr.KindValidation {
		w.log.Error("revenue distribution rejected", "redemption_id", args.RedemptionID, "error", err)
		return river.JobCancel(err)
	}
	return fmt.Errorf("distribute revenue for redemption %s: %w", args.RedemptionID, err)
}

type DeliverReportsWorker struct {
	river.WorkerDefaults[DeliverReportsArgs]
	deliverer reports.Deliverer
	log       *slog.Logger
}

func NewDeliverReportsWorker(d reports.Deliverer, log *slog.Logger) *DeliverReportsWorker {
	return &DeliverReportsWorker{deliverer: d, log: log}
}

func (w *DeliverReportsWorker) Timeout(*river.Job[DeliverReportsArgs]) time.Duration {
	return 2 * time.Minute
}

func (w *DeliverReportsWorker) Work(ctx context.Context, job *river.Job[DeliverReportsArgs]) error {
	args := job.Args
	err := w.deliverer.Deliver(ctx, reports.Delivery{
		UserID:        args.UserID,
		Email:         args.Email,
		PropertyIDs:   args.PropertyIDs,
		RedemptionIDs: args.RedemptionIDs,
	})
	if errors.Is(err, reports.ErrPermanent) {
		// The credits are already spent; support resolves from the log.
		w.log.Error("report delivery rejected", "user_id", args.UserID, "redemptions", args.RedemptionIDs, "error", err)
		return river.JobCancel(err)
	}
	return err
}

type ReconcileBalancesWorker struct {
	river.WorkerDefaults[ReconcileBalancesArgs]
	source     DriftSource
	claims     ClaimSource
	stuckAfter time.Duration
	now        func() time.Time
	log        *slog.Logger
	metrics    *observability.LedgerMetrics
	payouts    *observability.PayoutMetrics
}

// NewReconcileBalancesWorker reports balance drift and, when claims is set,
// payout claims that have stayed in processing longer than stuckAfter.
func NewReconcileBalancesWorker(source DriftSource, claims ClaimSource, stuckAfter time.Duration, log *slog.Logger) *ReconcileBalancesWorker {
	return &ReconcileBalancesWorker{
		source:     source,
		claims:     claims,
		stuckAfter: stuckAfter,
		now:        time.Now,
		log:        log,
		metrics:    observability.Ledger(),
		payouts:    observability.Payouts(),
	}
}

// Work reports only. Balances and payouts are never rewritten here.
func (w *ReconcileBalancesWorker) Work(ctx context.Context, _ *river.Job[ReconcileBalancesArgs]) error {
	drift, err := w.source.Drift(ctx)
	if err != nil {
		return fmt.Errorf("load balance drift: %w", err)
	}
	w.metrics.SetDrift(len(drift))
	for _, d := range drift {
		w.log.Warn("balance drift detected",
			"user_id", d.UserID, "materialized", d.Materialized, "ledger_sum", d.LedgerSum)
	}

	if w.claims == nil || w.stuckAfter <= 0 {
		return nil
	}
	stuck, err := w.claims.StuckClaims(ctx, w.now().Add(-w.stuckAfter))
	if err != nil {
		return fmt.Errorf("load stuck payout claims: %w", err)
	}
	w.payouts.SetStuckClaims(len(stuck))
	for _, c := range stuck {
		w.log.Error("payout claim stuck in processing",
			"claim_id", c.ClaimID, "payee_id", c.UserID, "payouts", c.Payouts,
			"amount_cents", c.AmountCents, "since", c.Since)
	}
	return nil
}

// NewWorkers registers every worker of the service.
func NewWorkers(dist Distributor, deliverer reports.Deliverer, drift DriftSource, claims ClaimSource, stuckAfter time.Duration, log *slog.Logger) *river.Workers {
	if log == nil {
		log = slog.Default()
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, NewDistributeRevenueWorker(dist, log))
	river.AddWorker(workers, NewDeliverReportsWorker(deliverer, log))
	river.AddWorker(workers, NewReconcileBalancesWorker(drift, claims, stuckAfter, log))
	return workers
}
