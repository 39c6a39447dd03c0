package database

import (
	"gorm.io/gorm"

	"github.com/printrail/printbridge/internal/models"
)

// pendingInviteIndex enforces at most one pending invite per
// (organization_id, email). Terminal rows never participate, so canceling
// or accepting an invite frees the slot.
const pendingInviteIndex = "idx_org_invites_pending_email"

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Organization{},
		&models.OrganizationMember{},
		&models.OrganizationInvite{},
		&models.VerificationCode{},
		&models.ActivityLog{},
	); err != nil {
		return err
	}

	return createPendingInviteIndex(db)
}

// createPendingInviteIndex builds the dedup index. Postgres and SQLite
// support partial indexes directly; MySQL lacks them, so it gets a
// functional index that maps non-pending rows to NULL (NULL key parts never
// collide in a MySQL unique index).
func createPendingInviteIndex(db *gorm.DB) error {
	if db.Migrator().HasIndex(&models.OrganizationInvite{}, pendingInviteIndex) {
		return nil
	}

	switch db.Dialector.Name() {
	case "mysql":
		return db.Exec(`CREATE UNIQUE INDEX ` + pendingInviteIndex +
			` ON organization_invites (organization_id, (CASE WHEN status = 'pending' THEN email END))`).Error
	default:
		return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ` + pendingInviteIndex +
			` ON organization_invites (organization_id, email) WHERE status = 'pending'`).Error
	}
}
