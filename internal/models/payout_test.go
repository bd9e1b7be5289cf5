package models

import "testing"

func TestPayoutStatusTransitions(t *testing.T) {
	all := []PayoutStatus{PayoutPending, PayoutProcessing, PayoutPaid, PayoutFailed}
	allowed := map[[2]PayoutStatus]bool{
		{PayoutPending, PayoutProcessing}: true,
		{PayoutProcessing, PayoutPaid}:    true,
		{PayoutProcessing, PayoutFailed}:  true,
	}
	for _, from := range all {
		for _, to := range all {
			got := from.CanTransition(to)
			if got != allowed[[2]PayoutStatus{from, to}] {
				t.Errorf("%s -> %s: got %v", from, to, got)
			}
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range []PayoutStatus{PayoutPaid, PayoutFailed} {
		for _, to := range []PayoutStatus{PayoutPending, PayoutProcessing, PayoutPaid, PayoutFailed} {
			if s.CanTransition(to) {
				t.Errorf("terminal %s allowed transition to %s", s, to)
			}
		}
	}
}

func TestSumPayouts(t *testing.T) {
	ps := []*ContributorPayout{{PayoutAmount: 300}, {PayoutAmount: 450}}
	if got := SumPayouts(ps); got != 750 {
		t.Fatalf("expected 750, got %d", got)
	}
}
