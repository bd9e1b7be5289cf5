package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"

	"github.com/leadsong/backend/internal/auth"
	"github.com/leadsong/backend/internal/config"
	"github.com/leadsong/backend/internal/handlers"
	"github.com/leadsong/backend/internal/jobs"
	"github.com/leadsong/backend/internal/ledger"
	"github.com/leadsong/backend/internal/middleware"
	"github.com/leadsong/backend/internal/payout"
	"github.com/leadsong/backend/internal/reports"
	"github.com/leadsong/backend/internal/repository"
	"github.com/leadsong/backend/internal/revenue"
	"github.com/leadsong/backend/internal/router"
	"github.com/leadsong/backend/internal/schema"
	"github.com/leadsong/backend/internal/services"
	"github.com/leadsong/backend/internal/transfer"
	"github.com/leadsong/backend/internal/webhook"
)

const (
	redeemPerMinute = 30
	redeemBurst     = 10

	// claims older than this many transfer timeouts are reported as stuck
	stuckClaimFactor = 10
)

type application struct {
	router  http.Handler
	workers *river.Workers
}

// build wires repositories, services and handlers. insert enqueues River jobs
// inside a caller's transaction.
func build(cfg config.Config, pool *pgxpool.Pool, insert jobs.InsertTxFunc, logger *slog.Logger) (*application, error) {
	schemas, err := schema.New()
	if err != nil {
		return nil, fmt.Errorf("compile schemas: %w", err)
	}

	// Repositories
	ledgerRepo := ledger.NewRepository(pool)
	userRepo := repository.NewUserRepo(pool)
	ratingRepo := repository.NewRatingRepo(pool)
	redemptionRepo := repository.NewRedemptionRepo(pool)
	distributionRepo := repository.NewDistributionRepo(pool)
	payoutRepo := repository.NewPayoutRepo(pool)
	payeeRepo := repository.NewPayeeRepo(pool)

	ledgerSvc := ledger.NewService(ledgerRepo, logger)

	// Revenue distribution runs in River workers
	policy, err := revenue.ParsePolicy(cfg.Revenue.UnallocatedPolicy)
	if err != nil {
		return nil, err
	}
	distributor := revenue.NewDistributor(ratingRepo, distributionRepo, revenue.Options{
		Split: revenue.Split{
			PlatformBps:          cfg.Revenue.PlatformBps,
			TopContributorBps:    cfg.Revenue.TopContributorBps,
			OtherContributorsBps: cfg.Revenue.OtherContributorsBps,
		},
		Policy:            policy,
		TopWindow:         cfg.Revenue.TopWindow.Duration,
		ContributorWindow: cfg.Revenue.ContributorWindow.Duration,
	}, logger)
	deliverer := reports.New(cfg.ReportServiceURL, logger)
	workers := jobs.NewWorkers(distributor, deliverer, ledgerRepo, payoutRepo, stuckClaimFactor*cfg.Payout.TransferTimeout.Duration, logger)

	// Payouts
	gateway, err := transfer.New(transfer.Config{
		Mode:    cfg.Payout.TransferMode,
		APIKey:  cfg.Payout.TransferAPIKey,
		BaseURL: cfg.Payout.TransferAPIBase,
	}, logger)
	if err != nil {
		return nil, err
	}
	processor := payout.NewProcessor(payoutRepo, payeeRepo, gateway,
		payout.WithMinimum(cfg.Payout.MinimumCents),
		payout.WithTimeout(cfg.Payout.TransferTimeout.Duration),
		payout.WithCurrency(cfg.Payout.Currency),
		payout.WithLogger(logger),
	)

	// Auth and referrals
	referrals := services.NewReferralService(userRepo, ledgerSvc, cfg.Referral.ReferrerBonus, cfg.Referral.ReferredBonus, logger)
	authSvc := auth.NewService(auth.NewRepository(pool), referrals, cfg.JWTSecret, logger)

	redemptions := services.NewRedemptionService(redemptionRepo, ratingRepo, userRepo, ledgerSvc, insert, services.Pricing{
		Mode:                  cfg.Pricing.Mode,
		RevenuePerCreditCents: cfg.Pricing.RevenuePerCreditCents,
	}, logger)

	r := router.New(router.Handlers{
		Auth:        auth.NewHandler(authSvc, schemas, logger),
		Webhook:     webhook.NewHandler(cfg.Webhook.Secret, cfg.Webhook.Tolerance.Duration, ledgerSvc, payeeRepo, schemas, logger),
		Redemption:  handlers.NewRedemptionHandler(redemptions, schemas, logger),
		Payout:      handlers.NewPayoutHandler(processor, payeeRepo, schemas, cfg.Payout.TransferMode == config.TransferModeSimulated, logger),
		Account:     handlers.NewAccountHandler(userRepo, ledgerRepo, payoutRepo, ledgerSvc, cfg.DevGrantEnabled, logger),
		Tokens:      authSvc,
		PayoutLimit: middleware.NewUserRateLimiter(cfg.Payout.RatePerMinute, cfg.Payout.RateBurst),
		RedeemLimit: middleware.NewUserRateLimiter(redeemPerMinute, redeemBurst),
		DevGrant:    cfg.DevGrantEnabled,
	})
	return &application{router: r, workers: workers}, nil
}
