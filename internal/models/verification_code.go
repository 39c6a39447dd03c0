package models

import "time"

// VerificationCode stores the short-lived numeric OTP carried by each invite
// email. A fresh code is minted per send; the long-lived invite token stays
// stable across sends. Codes are hashed at rest and consumed exactly once.
type VerificationCode struct {
	BaseModel

	Email      string     `gorm:"not null;index" json:"email"`
	CodeHash   string     `gorm:"not null;index" json:"-"`
	InviteID   *string    `gorm:"type:uuid;index" json:"invite_id,omitempty"`
	ExpiresAt  time.Time  `gorm:"index" json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}
