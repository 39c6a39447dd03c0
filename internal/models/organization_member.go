package models

import "time"

// Membership roles, ordered by privilege.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Membership statuses.
const (
	MemberStatusActive   = "active"
	MemberStatusInactive = "inactive"
)

// ValidInviteRole reports whether the role may be granted through an invite.
// Ownership is never assignable by invitation.
func ValidInviteRole(role string) bool {
	return role == RoleAdmin || role == RoleMember
}

// OrganizationMember records a user's durable role within an organization.
// At most one row exists per (organization, user) pair.
type OrganizationMember struct {
	BaseModel

	OrganizationID string    `gorm:"type:uuid;not null;uniqueIndex:idx_org_user;index" json:"organization_id"`
	UserID         string    `gorm:"type:uuid;not null;uniqueIndex:idx_org_user;index" json:"user_id"`
	Role           string    `gorm:"not null" json:"role"`
	Status         string    `gorm:"not null;default:active" json:"status"`
	JoinedAt       time.Time `json:"joined_at"`
	InvitedBy      string    `gorm:"type:uuid" json:"invited_by"`

	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
	User         *User         `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
