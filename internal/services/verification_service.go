package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/printrail/printbridge/internal/models"
	"github.com/printrail/printbridge/pkg/crypto"
)

const defaultCodeExpiry = 20 * time.Minute

var (
	// ErrVerificationNotFound indicates no code matches the email/code pair.
	ErrVerificationNotFound = errors.New("verification: not found")
	// ErrVerificationExpired indicates the code has expired.
	ErrVerificationExpired = errors.New("verification: expired")
	// ErrVerificationUsed signals that the code has already been consumed.
	ErrVerificationUsed = errors.New("verification: already used")
)

// VerificationOption customises the VerificationService.
type VerificationOption func(*VerificationService)

// WithCodeExpiry overrides the verification code lifetime.
func WithCodeExpiry(d time.Duration) VerificationOption {
	return func(s *VerificationService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithVerificationClock injects a custom time source.
func WithVerificationClock(clock func() time.Time) VerificationOption {
	return func(s *VerificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// VerificationService mints and consumes the short-lived numeric codes that
// prove control of an email address. A fresh code is issued per delivery; the
// invite token it accompanies stays stable.
type VerificationService struct {
	db     *gorm.DB
	expiry time.Duration
	now    func() time.Time
}

// NewVerificationService constructs a VerificationService instance.
func NewVerificationService(db *gorm.DB, opts ...VerificationOption) (*VerificationService, error) {
	if db == nil {
		return nil, errors.New("verification service: db is required")
	}

	service := &VerificationService{
		db:     db,
		expiry: defaultCodeExpiry,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Issue mints a new code for the email address, replacing any outstanding
// unconsumed codes so only the most recent delivery is honoured.
func (s *VerificationService) Issue(ctx context.Context, email string, inviteID *string) (string, time.Time, error) {
	ctx = ensureContext(ctx)

	email = normalizeEmail(email)
	if email == "" {
		return "", time.Time{}, errors.New("verification service: email is required")
	}

	code, err := crypto.NewVerificationCode()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("verification service: generate code: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(s.expiry)

	record := models.VerificationCode{
		Email:     email,
		CodeHash:  codeHash(code),
		InviteID:  inviteID,
		ExpiresAt: expiresAt,
	}

	if err := s.db.WithContext(ctx).
		Where("email = ? AND consumed_at IS NULL", email).
		Delete(&models.VerificationCode{}).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", time.Time{}, fmt.Errorf("verification service: cleanup existing: %w", err)
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", time.Time{}, fmt.Errorf("verification service: create code: %w", err)
	}

	return code, expiresAt, nil
}

// Consume validates the (email, code) pair and marks the code used.
func (s *VerificationService) Consume(ctx context.Context, email, code string) (*models.VerificationCode, error) {
	ctx = ensureContext(ctx)

	email = normalizeEmail(email)
	if email == "" || code == "" {
		return nil, ErrVerificationNotFound
	}

	var record models.VerificationCode
	if err := s.db.WithContext(ctx).
		Where("email = ? AND code_hash = ?", email, codeHash(code)).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVerificationNotFound
		}
		return nil, fmt.Errorf("verification service: find code: %w", err)
	}

	now := s.now()
	if record.ExpiresAt.Before(now) {
		return nil, ErrVerificationExpired
	}
	if record.ConsumedAt != nil {
		return nil, ErrVerificationUsed
	}

	// Single use: the guarded update loses gracefully if a concurrent
	// consume got there first.
	result := s.db.WithContext(ctx).
		Model(&models.VerificationCode{}).
		Where("id = ? AND consumed_at IS NULL", record.ID).
		Update("consumed_at", now)
	if result.Error != nil {
		return nil, fmt.Errorf("verification service: mark consumed: %w", result.Error)
	}
	if result.RowsAffected != 1 {
		return nil, ErrVerificationUsed
	}

	record.ConsumedAt = &now
	return &record, nil
}

// PurgeStale removes expired and consumed codes, returning the number deleted.
func (s *VerificationService) PurgeStale(ctx context.Context, now time.Time) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("expires_at < ? OR consumed_at IS NOT NULL", now).
		Delete(&models.VerificationCode{})
	if result.Error != nil {
		return 0, fmt.Errorf("verification service: purge: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func codeHash(code string) string {
	digest := sha256.Sum256([]byte(code))
	return hex.EncodeToString(digest[:])
}
