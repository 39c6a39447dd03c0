package models

import "gorm.io/datatypes"

// ActivityLog is an append-only audit trail entry scoped to an organization.
type ActivityLog struct {
	BaseModel

	OrganizationID string         `gorm:"type:uuid;not null;index" json:"organization_id"`
	UserID         string         `gorm:"type:uuid" json:"user_id"`
	Action         string         `gorm:"not null" json:"action"`
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id"`
	Metadata       datatypes.JSON `json:"metadata,omitempty"`
}
