package models

import (
	"time"

	"github.com/google/uuid"
)

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutPaid       PayoutStatus = "paid"
	PayoutFailed     PayoutStatus = "failed"
)

// CanTransition encodes pending -> processing -> paid|failed.
func (s PayoutStatus) CanTransition(to PayoutStatus) bool {
	switch s {
	case PayoutPending:
		return to == PayoutProcessing
	case PayoutProcessing:
		return to == PayoutPaid || to == PayoutFailed
	default:
		return false
	}
}

type ContributorPayout struct {
	ID                    uuid.UUID    `json:"id"`
	RevenueDistributionID uuid.UUID    `json:"revenue_distribution_id"`
	UserID                uuid.UUID    `json:"user_id"`
	PayoutAmount          int64        `json:"payout_amount"`
	RatingCount           int          `json:"rating_count"`
	IsTopContributor      bool         `json:"is_top_contributor"`
	Status                PayoutStatus `json:"status"`
	ClaimID               *uuid.UUID   `json:"claim_id,omitempty"`
	PayoutReference       *string      `json:"payout_reference,omitempty"`
	FailureReason         *string      `json:"failure_reason,omitempty"`
	ProcessedAt           *time.Time   `json:"processed_at,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
}

// PayeeAccount is the external transfer destination of a contributor.
type PayeeAccount struct {
	UserID            uuid.UUID `json:"user_id"`
	ExternalAccountID string    `json:"external_account_id"`
	TransferEnabled   bool      `json:"transfer_enabled"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func SumPayouts(ps []*ContributorPayout) int64 {
	var total int64
	for _, p := range ps {
		total += p.PayoutAmount
	}
	return total
}

// StuckClaim is a payout batch that has sat in processing since Since.
type StuckClaim struct {
	ClaimID     uuid.UUID
	UserID      uuid.UUID
	Payouts     int
	AmountCents int64
	Since       time.Time
}
