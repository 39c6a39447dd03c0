package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/printrail/printbridge/internal/database/testutil"
	"github.com/printrail/printbridge/internal/models"
	"github.com/printrail/printbridge/pkg/crypto"
	apperrors "github.com/printrail/printbridge/pkg/errors"
)

type inviteFixture struct {
	db      *gorm.DB
	invites *InviteService
	members *MembershipService
	codes   *VerificationService
	mailer  *captureMailer
	now     time.Time
}

func newInviteFixture(t *testing.T) *inviteFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	clock := fixedClock(now)

	members, err := NewMembershipService(db, WithMembershipClock(clock))
	require.NoError(t, err)

	codes, err := NewVerificationService(db, WithVerificationClock(clock))
	require.NoError(t, err)

	mailer := &captureMailer{}

	invites, err := NewInviteService(db, members, codes, mailer, nil,
		WithInviteClock(clock),
		WithInviteBaseURL("https://app.example.com"))
	require.NoError(t, err)

	return &inviteFixture{db: db, invites: invites, members: members, codes: codes, mailer: mailer, now: now}
}

func TestInviteMembersBatchOutcomes(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()

	owner := seedUser(t, f.db, "owner@example.com")
	existing := seedUser(t, f.db, "existing@example.com")
	org := seedOrganization(t, f.db, owner, "Print Shop")
	seedMember(t, f.db, org, existing, models.RoleMember)

	result, err := f.invites.InviteMembers(ctx, org.ID,
		[]string{"new@example.com", "existing@example.com", "not-an-email", "New@Example.com"},
		models.RoleMember, owner.ID)
	require.NoError(t, err)

	require.Equal(t, 4, result.TotalProcessed)
	require.Equal(t, 1, result.SuccessCount)
	require.Equal(t, 3, result.FailureCount)

	require.Len(t, result.Successful, 1)
	require.Equal(t, "new@example.com", result.Successful[0].Email)
	require.NotEmpty(t, result.Successful[0].Token)

	reasons := map[string]string{}
	for _, failure := range result.Failed {
		reasons[failure.Email] = failure.Reason
	}
	require.Equal(t, reasonAlreadyMember, reasons["existing@example.com"])
	require.Equal(t, reasonInvalidEmail, reasons["not-an-email"])
	// Same address twice in one batch: second occurrence collides with the
	// invite just created.
	require.Equal(t, reasonAlreadyInvited, reasons["new@example.com"])

	var invite models.OrganizationInvite
	require.NoError(t, f.db.Where("organization_id = ? AND email = ?", org.ID, "new@example.com").First(&invite).Error)
	require.Equal(t, models.InviteStatusPending, invite.Status)
	require.Equal(t, f.now.Add(7*24*time.Hour), invite.ExpiresAt.UTC())
	require.NotNil(t, invite.LastSentAt)

	sent := f.mailer.sent()
	require.Len(t, sent, 1)
	require.Equal(t, []string{"new@example.com"}, sent[0].To)
	require.Contains(t, sent[0].Subject, "Print Shop")
	require.Contains(t, sent[0].Body, "inviteToken="+invite.Token)
	require.True(t, sent[0].HTML)
}

func TestInviteMembersRequiresPermission(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()

	owner := seedUser(t, f.db, "owner@example.com")
	member := seedUser(t, f.db, "member@example.com")
	outsider := seedUser(t, f.db, "outsider@example.com")
	org := seedOrganization(t, f.db, owner, "Print Shop")
	seedMember(t, f.db, org, member, models.RoleMember)

	// Default settings allow member invites.
	_, err := f.invites.InviteMembers(ctx, org.ID, []string{"a@example.com"}, models.RoleMember, member.ID)
	require.NoError(t, err)

	// Disable member invites and the same caller is rejected.
	settings := models.OrganizationSettings{AllowMemberInvites: false, DefaultMemberRole: models.RoleMember}
	require.NoError(t, org.SetSettings(settings))
	require.NoError(t, f.db.Model(org).Update("settings", org.Settings).Error)

	_, err = f.invites.InviteMembers(ctx, org.ID, []string{"b@example.com"}, models.RoleMember, member.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.invites.InviteMembers(ctx, org.ID, []string{"c@example.com"}, models.RoleMember, outsider.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestInviteMembersRejectsOwnerRole(t *testing.T) {
	f := newInviteFixture(t)

	owner := seedUser(t, f.db, "owner@example.com")
	org := seedOrganization(t, f.db, owner, "Print Shop")

	_, err := f.invites.InviteMembers(context.Background(), org.ID, []string{"a@example.com"}, models.RoleOwner, owner.ID)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperrors.ErrBadRequest.Code, appErr.Code)
}

func TestInviteMembersUnknownOrganization(t *testing.T) {
	f := newInviteFixture(t)
	owner := seedUser(t, f.db, "owner@example.com")

	_, err := f.invites.InviteMembers(context.Background(), "missing-org", []string{"a@example.com"}, models.RoleMember, owner.ID)
	require.ErrorIs(t, err, ErrOrganizationNotFound)
}

func TestAcceptInviteRoundTrip(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()

	owner := seedUser(t, f.db, "owner@example.com")
	org := seedOrganization(t, f.db, owner, "Print Shop")

	result, err := f.invites.InviteMembers(ctx, org.ID, []string{"joiner@example.com"}, models.RoleAdmin, owner.ID)
	require.NoError(t, err)
	token := result.Successful[0].Token

	joiner := seedUser(t, f.db, "joiner@example.com")

	orgID, err := f.invites.AcceptInvite(ctx, token, "Joiner@Example.com", joiner.ID)
	require.NoError(t, err)
	require.Equal(t, org.ID, orgID)

	var membership models.OrganizationMember
	require.NoError(t, f.db.Where("organization_id = ? AND user_id = ?", org.ID, joiner.ID).First(&membership).Error)
	require.Equal(t, models.RoleAdmin, membership.Role)
	require.Equal(t, models.MemberStatusActive, membership.Status)
	require.Equal(t, owner.ID, membership.InvitedBy)

	var invite models.OrganizationInvite
	require.NoError(t, f.db.Where("token = ?", token).First(&invite).Error)
	require.Equal(t, models.InviteStatusAccepted, invite.Status)

	// Second acceptance of the same invite fails.
	_, err = f.invites.AcceptInvite(ctx, token, "joiner@example.com", joiner.ID)
	require.ErrorIs(t, err, ErrInvalidInvitation)
}

func TestAcceptInviteEmailMustMatchCaller(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()

	owner := seedUser(t, f.db, "owner@example.com")
	org := seedOrganization(t, f.db, owner, "Print Shop")

	result, err := f.invites.InviteMembers(ctx, org.ID, []string{"invited@example.com"}, models.RoleMember, owner.ID)
	require.NoError(t, err)
	token := result.Successful[0].Token

	imposter := seedUser(t, f.db, "imposter@example.com")

	// Caller authenticated under a different email cannot redeem the token.
	_, err = f.invites.AcceptInvite(ctx, token, "invited@example.com", imposter.ID)
	require.ErrorIs(t, err, ErrInvalidInvitation)

	// Correct caller but mismatched email parameter fails too.
	invited := seedUser(t, f.db, "invited@example.com")
	_, err = f.invites.AcceptInvite(ctx, token, "other@example.com", invited.ID)
	require.ErrorIs(t, err, ErrInvalidInvitation)

	// No memberships were created.
	var count int64
	require.NoError(t, f.db.Model(&models.OrganizationMember{}).
		Where("organization_id = ? AND user_id IN ?", org.ID, []string{imposter.ID, invited.ID}).
		Count(&count).Error)
	require.Zero(t, count)
}

func TestAcceptInviteExpired(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()

	owner := seedUser(t, f.db, "owner@example.com")
	org := seedOrganization(t, f.db, owner, "Print Shop")

	result, err := f.invites.InviteMembers(ctx, org.ID, []string{"late@example.com"}, models.RoleMember, owner.ID)
	require.NoError(t, err)
	token := result.Successful[0].Token

	require.NoError(t, f.db.Model(&models.OrganizationInvite{}).
		Where("token = ?", token).
		Update("expires_at", f.now.Add(-time.Minute)).Error)

	late := seedUser(t, f.db, "late@example.com")
	_, err = f.invites.AcceptInvite(ctx, token, "late@example.com", late.ID)
	require.ErrorIs(t, err, ErrInviteExpired)

	var invite models.OrganizationInvite
	require.NoError(t, f.db.Where("token = ?", token).First(&invite).Error)
	require.Equal(t, models.InviteStatusPending, invite.Status)
}

func TestAcceptInviteReactivatesInactiveMembership(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()

	owner := seedUser(t, f.db, "owner@example.com")
	returning := seedUser(t, f.db, "returning@example.com")
	org := seedOrganization(t, f.db, owner, "Print Shop")

	member := seedMember(t, f.db, org, returning, models.RoleAdmin)
	require.NoError(t, f.db.Model(member).Update("status", models.MemberStatusInactive).Error)

	result, err := f.invites.InviteMembers(ctx, org.ID, []string{"returning@example.com"}, models.RoleMember, owner.ID)
	require.NoError(t, err)
	token := result.Successful[0].Token

	orgID, err := f.invites.AcceptInvite(ctx, token, "returning@example.com", returning.ID)
	require.NoError(t, err)
	require.Equal(t, org.ID, orgID)

	var reloaded models.OrganizationMember
	require.NoError(t, f.db.First(&reloaded, "id = ?", member.ID).Error)
	require.Equal(t, models.MemberStatusActive, reloaded.Status)
	require.Equal(t, models.RoleMember, reloaded.Role)
}

func TestCancelInviteFreesSlot(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()

	owner := seedUser(t, f.db, "owner@example.com")
	org := seedOrganization(t, f.db, owner, "Print Shop")

	result, err := f.invites.InviteMembers(ctx, org.ID, []string{"pending@example.com"}, models.RoleMember, owner.ID)
	require.NoError(t, err)

	var invite models.OrganizationInvite
	require.NoError(t, f.db.Where("token = ?", result.Successful[0].Token).First(&invite).Error)

	require.NoError(t, f.invites.CancelInvite(ctx, org.ID, invite.ID, owner.ID))

	var reloaded models.OrganizationInvite
	require.NoError(t, f.db.First(&reloaded, "id = ?", invite.ID).Error)
	require.Equal(t, models.InviteStatusCanceled, reloaded.Status)

	// Canceling twice is rejected.
	require.ErrorIs(t, f.invites.CancelInvite(ctx, org.ID, invite.ID, owner.ID), ErrInvalidInvitation)

	// The address can be invited again.
	again, err := f.invites.InviteMembers(ctx, org.ID, []string{"pending@example.com"}, models.RoleMember, owner.ID)
	require.NoError(t, err)
	require.Equal(t, 1, again.SuccessCount)
}

func TestCancelInviteRequiresManager(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()

	owner := seedUser(t, f.db, "owner@example.com")
	member := seedUser(t, f.db, "member@example.com")
	org := seedOrganization(t, f.db, owner, "Print Shop")
	seedMember(t, f.db, org, member, models.RoleMember)

	result, err := f.invites.InviteMembers(ctx, org.ID, []string{"pending@example.com"}, models.RoleMember, owner.ID)
	require.NoError(t, err)

	var invite models.OrganizationInvite
	require.NoError(t, f.db.Where("token = ?", result.Successful[0].Token).First(&invite).Error)

	require.ErrorIs(t, f.invites.CancelInvite(ctx, org.ID, invite.ID, member.ID), apperrors.ErrForbidden)
	require.ErrorIs(t, f.invites.ResendInvite(ctx, org.ID, invite.ID, member.ID), apperrors.ErrForbidden)
}

func TestResendInviteMintsFreshCode(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()

	owner := seedUser(t, f.db, "owner@example.com")
	org := seedOrganization(t, f.db, owner, "Print Shop")

	result, err := f.invites.InviteMembers(ctx, org.ID, []string{"pending@example.com"}, models.RoleMember, owner.ID)
	require.NoError(t, err)

	var invite models.OrganizationInvite
	require.NoError(t, f.db.Where("token = ?", result.Successful[0].Token).First(&invite).Error)

	require.NoError(t, f.invites.ResendInvite(ctx, org.ID, invite.ID, owner.ID))

	sent := f.mailer.sent()
	require.Len(t, sent, 2)
	require.Contains(t, sent[1].Body, "inviteToken="+invite.Token)

	// Only the latest code row survives for the address.
	var codes int64
	require.NoError(t, f.db.Model(&models.VerificationCode{}).
		Where("email = ? AND consumed_at IS NULL", "pending@example.com").
		Count(&codes).Error)
	require.Equal(t, int64(1), codes)
}

func TestResendInviteUnknownInvite(t *testing.T) {
	f := newInviteFixture(t)

	owner := seedUser(t, f.db, "owner@example.com")
	org := seedOrganization(t, f.db, owner, "Print Shop")

	err := f.invites.ResendInvite(context.Background(), org.ID, "missing", owner.ID)
	require.ErrorIs(t, err, ErrInviteNotFound)
}

func TestPurgeTerminalInvites(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()

	owner := seedUser(t, f.db, "owner@example.com")
	org := seedOrganization(t, f.db, owner, "Print Shop")

	mk := func(email, status string, expiresAt time.Time) {
		require.NoError(t, f.db.Create(&models.OrganizationInvite{
			OrganizationID: org.ID,
			Email:          email,
			Role:           models.RoleMember,
			Token:          strings.ToLower(email),
			ExpiresAt:      expiresAt,
			InvitedBy:      owner.ID,
			Status:         status,
		}).Error)
	}

	mk("live@example.com", models.InviteStatusPending, f.now.Add(time.Hour))
	mk("stale@example.com", models.InviteStatusPending, f.now.Add(-time.Hour))
	mk("done@example.com", models.InviteStatusAccepted, f.now.Add(time.Hour))
	mk("gone@example.com", models.InviteStatusCanceled, f.now.Add(time.Hour))

	deleted, err := f.invites.PurgeTerminal(ctx, f.now)
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)

	var remaining []models.OrganizationInvite
	require.NoError(t, f.db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, "live@example.com", remaining[0].Email)
}

func TestPendingInviteUniquePerOrgAndEmail(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()

	owner := seedUser(t, f.db, "owner@example.com")
	org := seedOrganization(t, f.db, owner, "Print Shop")

	result, err := f.invites.InviteMembers(ctx, org.ID, []string{"dup@example.com"}, models.RoleMember, owner.ID)
	require.NoError(t, err)
	require.Equal(t, 1, result.SuccessCount)

	// A second pending row for the same address must be rejected by the
	// store itself, not just the issuance-time count check.
	err = f.db.Create(&models.OrganizationInvite{
		OrganizationID: org.ID,
		Email:          "dup@example.com",
		Role:           models.RoleMember,
		Token:          crypto.NewInviteToken(),
		ExpiresAt:      f.now.Add(time.Hour),
		InvitedBy:      owner.ID,
		Status:         models.InviteStatusPending,
	}).Error
	require.Error(t, err)
	require.True(t, isUniqueConstraintError(err))

	// Terminal rows never occupy the slot.
	require.NoError(t, f.db.Create(&models.OrganizationInvite{
		OrganizationID: org.ID,
		Email:          "dup@example.com",
		Role:           models.RoleMember,
		Token:          crypto.NewInviteToken(),
		ExpiresAt:      f.now.Add(time.Hour),
		InvitedBy:      owner.ID,
		Status:         models.InviteStatusCanceled,
	}).Error)

	var pending int64
	require.NoError(t, f.db.Model(&models.OrganizationInvite{}).
		Where("organization_id = ? AND email = ? AND status = ?", org.ID, "dup@example.com", models.InviteStatusPending).
		Count(&pending).Error)
	require.Equal(t, int64(1), pending)
}

func TestInviteMembersReplacesExpiredPendingRow(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()

	owner := seedUser(t, f.db, "owner@example.com")
	org := seedOrganization(t, f.db, owner, "Print Shop")

	stale := models.OrganizationInvite{
		OrganizationID: org.ID,
		Email:          "slow@example.com",
		Role:           models.RoleMember,
		Token:          crypto.NewInviteToken(),
		ExpiresAt:      f.now.Add(-time.Hour),
		InvitedBy:      owner.ID,
		Status:         models.InviteStatusPending,
	}
	require.NoError(t, f.db.Create(&stale).Error)

	// The expired row has not been purged yet; re-inviting must succeed and
	// release its slot in the pending index.
	result, err := f.invites.InviteMembers(ctx, org.ID, []string{"slow@example.com"}, models.RoleMember, owner.ID)
	require.NoError(t, err)
	require.Equal(t, 1, result.SuccessCount)
	require.NotEqual(t, stale.Token, result.Successful[0].Token)

	var old models.OrganizationInvite
	require.NoError(t, f.db.Where("token = ?", stale.Token).First(&old).Error)
	require.Equal(t, models.InviteStatusExpired, old.Status)

	var fresh models.OrganizationInvite
	require.NoError(t, f.db.Where("token = ?", result.Successful[0].Token).First(&fresh).Error)
	require.Equal(t, models.InviteStatusPending, fresh.Status)
	require.Equal(t, f.now.Add(7*24*time.Hour), fresh.ExpiresAt.UTC())
}
