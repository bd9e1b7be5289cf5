package models

import (
	"time"

	"github.com/google/uuid"
)

// Redemption records one property report bought with credits. RevenueValue is
// in cents.
type Redemption struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	PropertyID   uuid.UUID `json:"property_id"`
	CreditsUsed  int64     `json:"credits_used"`
	RevenueValue int64     `json:"revenue_value"`
	CreatedAt    time.Time `json:"created_at"`
}

// RevenueDistribution is the split of one redemption's revenue. All amounts
// are cents and the three shares always sum to TotalRevenue.
type RevenueDistribution struct {
	ID                        uuid.UUID  `json:"id"`
	RedemptionID              uuid.UUID  `json:"redemption_id"`
	PropertyID                uuid.UUID  `json:"property_id"`
	TotalRevenue              int64      `json:"total_revenue"`
	PlatformShare             int64      `json:"platform_share"`
	TopContributorShare       int64      `json:"top_contributor_share"`
	OtherContributorsShare    int64      `json:"other_contributors_share"`
	UnallocatedAmount         int64      `json:"unallocated_amount"`
	TopContributorID          *uuid.UUID `json:"top_contributor_id,omitempty"`
	TopContributorRatingCount int        `json:"top_contributor_rating_count"`
	CreatedAt                 time.Time  `json:"created_at"`
}
