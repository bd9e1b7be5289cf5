package transfer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Simulated completes transfers locally. It drives the same payout state
// transitions as a live gateway, for environments without one.
type Simulated struct {
	log   *slog.Logger
	delay time.Duration

	mu   sync.Mutex
	fail error
	sent []Request
}

type SimulatedOption func(*Simulated)

// WithDelay makes each transfer take d, or until ctx is done.
func WithDelay(d time.Duration) SimulatedOption {
	return func(s *Simulated) { s.delay = d }
}

// WithFailure makes every transfer fail with err.
func WithFailure(err error) SimulatedOption {
	return func(s *Simulated) { s.fail = err }
}

func NewSimulated(log *slog.Logger, opts ...SimulatedOption) *Simulated {
	if log == nil {
		log = slog.Default()
	}
	s := &Simulated{log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulated) Name() string { return "simulated" }

func (s *Simulated) Transfer(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
	if s.fail != nil {
		return nil, s.fail
	}
	id := "tr_sim_" + uuid.NewString()
	s.log.Info("simulated transfer", "transfer_id", id, "destination", req.Destination, "amount_cents", req.AmountCents)
	return &Result{ID: id, AmountCents: req.AmountCents, Destination: req.Destination}, nil
}

// Sent returns the requests received so far.
func (s *Simulated) Sent() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.sent))
	copy(out, s.sent)
	return out
}
