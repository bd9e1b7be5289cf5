package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry sources. Every balance change carries exactly one.
const (
	LedgerSourcePurchase   = "purchase"
	LedgerSourceReferral   = "referral"
	LedgerSourceRedemption = "redemption"
	LedgerSourceManual     = "manual"
)

const (
	ReasonReferralReferrer = "referral_bonus_referrer"
	ReasonReferralReferred = "referral_bonus_referred"
)

// LedgerEntry is immutable once written. A user's balance is the sum of the
// deltas of all their entries.
type LedgerEntry struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	Delta           int64     `json:"delta"`
	Source          string    `json:"source"`
	ExternalEventID *string   `json:"external_event_id,omitempty"`
	Reason          string    `json:"reason"`
	CreatedAt       time.Time `json:"created_at"`
}

func ValidLedgerSource(s string) bool {
	switch s {
	case LedgerSourcePurchase, LedgerSourceReferral, LedgerSourceRedemption, LedgerSourceManual:
		return true
	}
	return false
}
