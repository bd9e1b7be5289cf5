package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"display_name"`
	PasswordHash  string     `json:"-"`
	CreditBalance int64      `json:"credit_balance"`
	ReferralCode  string     `json:"referral_code"`
	ReferredBy    *uuid.UUID `json:"referred_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
