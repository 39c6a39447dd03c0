package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/printrail/printbridge/internal/models"
	"github.com/printrail/printbridge/internal/services"
)

// ErrInvalidCode is returned when the email/code pair cannot be verified.
var ErrInvalidCode = errors.New("auth: invalid verification code")

// Identity is the authenticated principal produced by a successful
// verification. InviteID is set when the code was minted for an invitation.
type Identity struct {
	User     *models.User
	InviteID *string
}

// EmailVerifier exchanges a one-time email code for a user identity,
// creating the user record on first contact.
type EmailVerifier struct {
	db            *gorm.DB
	verifications *services.VerificationService
}

// NewEmailVerifier constructs an EmailVerifier instance.
func NewEmailVerifier(db *gorm.DB, verifications *services.VerificationService) (*EmailVerifier, error) {
	if db == nil {
		return nil, errors.New("email verifier: db is required")
	}
	if verifications == nil {
		return nil, errors.New("email verifier: verification service is required")
	}
	return &EmailVerifier{db: db, verifications: verifications}, nil
}

// Verify consumes the code and resolves the verified email to a user,
// creating one when none exists yet. All verification failures collapse to
// ErrInvalidCode so callers cannot probe which emails have outstanding codes.
func (v *EmailVerifier) Verify(ctx context.Context, email, code string) (*Identity, error) {
	record, err := v.verifications.Consume(ctx, email, code)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrVerificationNotFound),
			errors.Is(err, services.ErrVerificationExpired),
			errors.Is(err, services.ErrVerificationUsed):
			return nil, ErrInvalidCode
		default:
			return nil, err
		}
	}

	user, err := v.findOrCreateUser(ctx, record.Email)
	if err != nil {
		return nil, err
	}

	return &Identity{User: user, InviteID: record.InviteID}, nil
}

func (v *EmailVerifier) findOrCreateUser(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := v.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("email verifier: find user: %w", err)
	}

	user = models.User{
		Email:    email,
		Name:     nameFromEmail(email),
		IsActive: true,
	}
	if err := v.db.WithContext(ctx).Create(&user).Error; err != nil {
		// A concurrent verification may have created the row already.
		var existing models.User
		if lookupErr := v.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error; lookupErr == nil {
			return &existing, nil
		}
		return nil, fmt.Errorf("email verifier: create user: %w", err)
	}
	return &user, nil
}

func nameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return email
	}
	return local
}
