// Package router assembles the public HTTP surface.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/leadsong/backend/internal/auth"
	"github.com/leadsong/backend/internal/handlers"
	"github.com/leadsong/backend/internal/middleware"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Auth        *auth.Handler
	Webhook     http.Handler
	Redemption  *handlers.RedemptionHandler
	Payout      *handlers.PayoutHandler
	Account     *handlers.AccountHandler
	Tokens      middleware.TokenValidator
	PayoutLimit *middleware.UserRateLimiter
	RedeemLimit *middleware.UserRateLimiter
	DevGrant    bool
}

// New returns an http.Handler that serves the webhook at /webhooks/payments
// and the API under /api/v1.
func New(h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodPost, "/webhooks/payments", h.Webhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", h.Auth.Register)
		r.Post("/auth/login", h.Auth.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser(h.Tokens))

			r.With(limit(h.RedeemLimit)).Post("/reports/redeem", h.Redemption.Redeem)
			r.Put("/payee-account", h.Payout.LinkAccount)
			r.With(limit(h.PayoutLimit)).Post("/payouts/process", h.Payout.Process)

			r.Get("/account/me", h.Account.Me)
			r.Get("/credit-ledger", h.Account.Ledger)
			r.Get("/earnings", h.Account.Earnings)
			r.Get("/referrals/stats", h.Account.ReferralStats)
			if h.DevGrant {
				r.Post("/dev/credits", h.Account.DevGrant)
			}
		})
	})
	return r
}

func limit(l *middleware.UserRateLimiter) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return l.Middleware
}
