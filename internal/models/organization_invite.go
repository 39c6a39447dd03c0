package models

import "time"

// Invite statuses. An invite leaves "pending" exactly once.
const (
	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusExpired  = "expired"
	InviteStatusCanceled = "canceled"
)

// OrganizationInvite is a single-use, time-bounded invitation to join an
// organization. The token is stored raw (unlike verification codes) because
// the delivery sweep must embed it into every resent email. A partial unique
// index created during migration (see database.AutoMigrate) allows at most
// one pending row per (organization_id, email).
type OrganizationInvite struct {
	BaseModel

	OrganizationID string     `gorm:"type:uuid;not null;index" json:"organization_id"`
	Email          string     `gorm:"not null;index" json:"email"`
	Role           string     `gorm:"not null" json:"role"`
	Token          string     `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt      time.Time  `gorm:"index" json:"expires_at"`
	InvitedBy      string     `gorm:"type:uuid" json:"invited_by"`
	Status         string     `gorm:"not null;default:pending;index" json:"status"`
	LastSentAt     *time.Time `json:"last_sent_at,omitempty"`

	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
}

// Pending reports whether the invite is still pending and unexpired at the
// supplied instant. Expiry is enforced at the point of use rather than by a
// background status mutation.
func (i *OrganizationInvite) Pending(now time.Time) bool {
	return i.Status == InviteStatusPending && i.ExpiresAt.After(now)
}
