package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/printrail/printbridge/internal/database/testutil"
	"github.com/printrail/printbridge/internal/models"
	"github.com/printrail/printbridge/internal/services"
)

func TestEmailVerifierCreatesUserOnFirstContact(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	codes, err := services.NewVerificationService(db)
	require.NoError(t, err)

	verifier, err := NewEmailVerifier(db, codes)
	require.NoError(t, err)

	ctx := context.Background()
	inviteID := "invite-1"
	code, _, err := codes.Issue(ctx, "newcomer@example.com", &inviteID)
	require.NoError(t, err)

	identity, err := verifier.Verify(ctx, "Newcomer@Example.com", code)
	require.NoError(t, err)
	require.Equal(t, "newcomer@example.com", identity.User.Email)
	require.Equal(t, "newcomer", identity.User.Name)
	require.True(t, identity.User.IsActive)
	require.NotNil(t, identity.InviteID)
	require.Equal(t, "invite-1", *identity.InviteID)

	var count int64
	require.NoError(t, db.Model(&models.User{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestEmailVerifierResolvesExistingUser(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	codes, err := services.NewVerificationService(db)
	require.NoError(t, err)

	verifier, err := NewEmailVerifier(db, codes)
	require.NoError(t, err)

	existing := &models.User{Email: "known@example.com", Name: "Known", IsActive: true}
	require.NoError(t, db.Create(existing).Error)

	ctx := context.Background()
	code, _, err := codes.Issue(ctx, "known@example.com", nil)
	require.NoError(t, err)

	identity, err := verifier.Verify(ctx, "known@example.com", code)
	require.NoError(t, err)
	require.Equal(t, existing.ID, identity.User.ID)
	require.Nil(t, identity.InviteID)
}

func TestEmailVerifierRejectsBadCodes(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	current := now
	codes, err := services.NewVerificationService(db,
		services.WithVerificationClock(func() time.Time { return current }))
	require.NoError(t, err)

	verifier, err := NewEmailVerifier(db, codes)
	require.NoError(t, err)

	ctx := context.Background()
	code, _, err := codes.Issue(ctx, "user@example.com", nil)
	require.NoError(t, err)

	// Wrong code.
	_, err = verifier.Verify(ctx, "user@example.com", "00000000")
	require.ErrorIs(t, err, ErrInvalidCode)

	// Expired code collapses to the same error.
	current = now.Add(time.Hour)
	_, err = verifier.Verify(ctx, "user@example.com", code)
	require.ErrorIs(t, err, ErrInvalidCode)

	// No user was created along the way.
	var count int64
	require.NoError(t, db.Model(&models.User{}).Count(&count).Error)
	require.Zero(t, count)
}
