package models

// User is an account known to the platform. Sign-in happens through external
// identity collaborators; this record is what memberships and invites point at.
type User struct {
	BaseModel

	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Name     string `json:"name"`
	Password string `gorm:"column:password_hash" json:"-"`
	IsActive bool   `gorm:"default:true" json:"is_active"`
}
