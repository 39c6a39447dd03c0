package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/printrail/printbridge/internal/database/testutil"
	"github.com/printrail/printbridge/internal/models"
	apperrors "github.com/printrail/printbridge/pkg/errors"
)

func newOrganizationService(t *testing.T, db *gorm.DB) (*OrganizationService, *MembershipService) {
	t.Helper()

	members, err := NewMembershipService(db)
	require.NoError(t, err)

	orgs, err := NewOrganizationService(db, members, nil)
	require.NoError(t, err)

	return orgs, members
}

func TestCreateOrganizationWritesOwnerMembership(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	orgs, members := newOrganizationService(t, db)
	ctx := context.Background()

	owner := seedUser(t, db, "owner@example.com")

	org, err := orgs.Create(ctx, CreateOrganizationInput{Name: "Print Shop 42", OwnerID: owner.ID})
	require.NoError(t, err)
	require.Equal(t, "print-shop-42", org.Slug)
	require.Equal(t, models.OrgStatusActive, org.Status)
	require.True(t, org.ParsedSettings().AllowMemberInvites)

	var membership models.OrganizationMember
	require.NoError(t, db.Where("organization_id = ? AND user_id = ?", org.ID, owner.ID).First(&membership).Error)
	require.Equal(t, models.RoleOwner, membership.Role)
	require.Equal(t, models.MemberStatusActive, membership.Status)

	role, err := members.Role(ctx, org.ID, owner.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoleOwner, role)
}

func TestCreateOrganizationDeduplicatesSlug(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	orgs, _ := newOrganizationService(t, db)
	ctx := context.Background()

	owner := seedUser(t, db, "owner@example.com")

	first, err := orgs.Create(ctx, CreateOrganizationInput{Name: "Acme", OwnerID: owner.ID})
	require.NoError(t, err)
	require.Equal(t, "acme", first.Slug)

	second, err := orgs.Create(ctx, CreateOrganizationInput{Name: "ACME", OwnerID: owner.ID})
	require.NoError(t, err)
	require.Equal(t, "acme-2", second.Slug)

	third, err := orgs.Create(ctx, CreateOrganizationInput{Name: "acme!", OwnerID: owner.ID})
	require.NoError(t, err)
	require.Equal(t, "acme-3", third.Slug)
}

func TestCreateOrganizationValidatesInput(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	orgs, _ := newOrganizationService(t, db)

	_, err := orgs.Create(context.Background(), CreateOrganizationInput{Name: "   ", OwnerID: "u1"})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperrors.ErrBadRequest.Code, appErr.Code)
}

func TestListForUserMergesOwnedAndMemberOrgs(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	orgs, _ := newOrganizationService(t, db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice@example.com")
	bob := seedUser(t, db, "bob@example.com")

	owned, err := orgs.Create(ctx, CreateOrganizationInput{Name: "Alice Press", OwnerID: alice.ID})
	require.NoError(t, err)

	bobs, err := orgs.Create(ctx, CreateOrganizationInput{Name: "Bob Print", OwnerID: bob.ID})
	require.NoError(t, err)
	var bobsOrg models.Organization
	require.NoError(t, db.First(&bobsOrg, "id = ?", bobs.ID).Error)
	seedMember(t, db, &bobsOrg, alice, models.RoleAdmin)

	list, err := orgs.ListForUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	roles := map[string]string{}
	for _, entry := range list {
		roles[entry.ID] = entry.Role
	}
	require.Equal(t, models.RoleOwner, roles[owned.ID])
	require.Equal(t, models.RoleAdmin, roles[bobs.ID])
}

func TestGetByIDRequiresRelation(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	orgs, _ := newOrganizationService(t, db)
	ctx := context.Background()

	owner := seedUser(t, db, "owner@example.com")
	outsider := seedUser(t, db, "outsider@example.com")

	org, err := orgs.Create(ctx, CreateOrganizationInput{Name: "Print Shop", OwnerID: owner.ID})
	require.NoError(t, err)

	got, err := orgs.GetByID(ctx, org.ID, owner.ID)
	require.NoError(t, err)
	require.Equal(t, org.ID, got.ID)

	_, err = orgs.GetByID(ctx, org.ID, outsider.ID)
	require.ErrorIs(t, err, ErrNotMember)
}

func TestUpdateOrganizationOwnerOnly(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	orgs, _ := newOrganizationService(t, db)
	ctx := context.Background()

	owner := seedUser(t, db, "owner@example.com")
	admin := seedUser(t, db, "admin@example.com")

	org, err := orgs.Create(ctx, CreateOrganizationInput{Name: "Print Shop", OwnerID: owner.ID})
	require.NoError(t, err)
	var stored models.Organization
	require.NoError(t, db.First(&stored, "id = ?", org.ID).Error)
	seedMember(t, db, &stored, admin, models.RoleAdmin)

	name := "Press House"
	updated, err := orgs.Update(ctx, org.ID, owner.ID, UpdateOrganizationInput{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Press House", updated.Name)
	require.Equal(t, "press-house", updated.Slug)

	// Admins cannot edit organization metadata.
	_, err = orgs.Update(ctx, org.ID, admin.ID, UpdateOrganizationInput{Name: &name})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	bad := "frozen"
	_, err = orgs.Update(ctx, org.ID, owner.ID, UpdateOrganizationInput{Status: &bad})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperrors.ErrBadRequest.Code, appErr.Code)

	settings := models.OrganizationSettings{AllowMemberInvites: false, DefaultMemberRole: models.RoleMember}
	updated, err = orgs.Update(ctx, org.ID, owner.ID, UpdateOrganizationInput{Settings: &settings})
	require.NoError(t, err)
	require.False(t, updated.ParsedSettings().AllowMemberInvites)
}
