package webhook

import (
	"errors"
	"testing"
	"time"
)

func TestVerify(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte(`{"event_type":"payment.completed"}`)
	now := time.Unix(1_700_000_000, 0)
	ts := now.Unix()

	tests := []struct {
		name   string
		header string
		want   error
	}{
		{"valid", Header(secret, ts, body), nil},
		{"rotated secret", "t=1700000000,v1=deadbeef,v1=" + Sign(secret, ts, body), nil},
		{"missing", "", ErrMissingSignature},
		{"no v1", "t=1700000000", ErrMissingSignature},
		{"wrong secret", Header([]byte("other"), ts, body), ErrBadSignature},
		{"tampered timestamp", "t=1700000001,v1=" + Sign(secret, ts, body), ErrBadSignature},
		{"stale", Header(secret, ts-600, body), ErrStaleSignature},
		{"future", Header(secret, ts+600, body), ErrStaleSignature},
		{"garbage timestamp", "t=abc,v1=00", ErrBadSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.header, body, secret, now, 5*time.Minute)
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVerifyZeroToleranceSkipsTimestampCheck(t *testing.T) {
	secret := []byte("s")
	body := []byte("{}")
	if err := Verify(Header(secret, 1, body), body, secret, time.Now(), 0); err != nil {
		t.Errorf("Verify() = %v", err)
	}
}
