package models

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// Organization statuses.
const (
	OrgStatusActive    = "active"
	OrgStatusInactive  = "inactive"
	OrgStatusSuspended = "suspended"
)

// OrganizationSettings are per-organization knobs stored as a JSON column.
type OrganizationSettings struct {
	AllowMemberInvites bool   `json:"allow_member_invites"`
	DefaultMemberRole  string `json:"default_member_role"`
}

// DefaultOrganizationSettings returns the settings applied to new organizations.
func DefaultOrganizationSettings() OrganizationSettings {
	return OrganizationSettings{
		AllowMemberInvites: true,
		DefaultMemberRole:  RoleMember,
	}
}

// Organization is a tenant. Each is owned by exactly one user; memberships
// and invites belong to it.
type Organization struct {
	BaseModel

	Name     string         `gorm:"not null" json:"name"`
	Slug     string         `gorm:"uniqueIndex;not null" json:"slug"`
	OwnerID  string         `gorm:"type:uuid;not null;index" json:"owner_id"`
	Settings datatypes.JSON `json:"settings"`
	Status   string         `gorm:"not null;default:active" json:"status"`

	Owner   *User                `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Members []OrganizationMember `gorm:"foreignKey:OrganizationID" json:"members,omitempty"`
}

// ParsedSettings decodes the JSON settings column, falling back to defaults
// when the column is empty or malformed.
func (o *Organization) ParsedSettings() OrganizationSettings {
	settings := DefaultOrganizationSettings()
	if len(o.Settings) == 0 {
		return settings
	}
	if err := json.Unmarshal(o.Settings, &settings); err != nil {
		return DefaultOrganizationSettings()
	}
	if settings.DefaultMemberRole == "" {
		settings.DefaultMemberRole = RoleMember
	}
	return settings
}

// SetSettings encodes the supplied settings into the JSON column.
func (o *Organization) SetSettings(settings OrganizationSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	o.Settings = datatypes.JSON(data)
	return nil
}
