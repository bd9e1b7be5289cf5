// Package jobs holds the background work that follows a redemption, run by
// River so it survives restarts and is retried on failure.
package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

type DistributeRevenueArgs struct {
	RedemptionID uuid.UUID `json:"redemption_id"`
	PropertyID   uuid.UUID `json:"property_id"`
	TotalRevenue int64     `json:"total_revenue"`
}

func (DistributeRevenueArgs) Kind() string { return "distribute_revenue" }

func (DistributeRevenueArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 25, Queue: QueueLedger}
}

type DeliverReportsArgs struct {
	UserID        uuid.UUID   `json:"user_id"`
	Email         string      `json:"email"`
	PropertyIDs   []uuid.UUID `json:"property_ids"`
	RedemptionIDs []uuid.UUID `json:"redemption_ids"`
}

func (DeliverReportsArgs) Kind() string { return "deliver_reports" }

func (DeliverReportsArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 10}
}

type ReconcileBalancesArgs struct{}

func (ReconcileBalancesArgs) Kind() string { return "reconcile_balances" }

func (ReconcileBalancesArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 1,
		Queue:       QueueLedger,
		UniqueOpts:  river.UniqueOpts{ByPeriod: time.Minute},
	}
}

// QueueLedger runs money-moving work apart from report delivery so a slow
// report service cannot starve distributions.
const QueueLedger = "ledger"

// InsertTxFunc enqueues a job within the given transaction. Provided by main
// using river.Client.InsertTx.
type InsertTxFunc func(ctx context.Context, tx pgx.Tx, args river.JobArgs) error

func ClientInserter(client *river.Client[pgx.Tx]) InsertTxFunc {
	return func(ctx context.Context, tx pgx.Tx, args river.JobArgs) error {
		_, err := client.InsertTx(ctx, tx, args, nil)
		return err
	}
}

// Queues is the River queue configuration for maxWorkers per queue.
func Queues(maxWorkers int) map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {MaxWorkers: maxWorkers},
		QueueLedger:        {MaxWorkers: maxWorkers},
	}
}

// PeriodicJobs schedules balance reconciliation every interval.
func PeriodicJobs(interval time.Duration) []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return ReconcileBalancesArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}
