package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/printrail/printbridge/internal/models"
	"github.com/printrail/printbridge/pkg/crypto"
	apperrors "github.com/printrail/printbridge/pkg/errors"
	"github.com/printrail/printbridge/pkg/logger"
	"github.com/printrail/printbridge/pkg/mail"
	"github.com/printrail/printbridge/pkg/metrics"
	appValidator "github.com/printrail/printbridge/pkg/validator"
)

const defaultInviteTTL = 7 * 24 * time.Hour

var (
	// ErrInviteNotFound indicates no invite matches the provided identifier.
	ErrInviteNotFound = errors.New("invite: not found")
	// ErrInvalidInvitation indicates the token/email pair does not resolve to
	// a pending invitation.
	ErrInvalidInvitation = errors.New("invite: invalid invitation")
	// ErrInviteExpired indicates the invitation's expiry has passed.
	ErrInviteExpired = errors.New("invite: expired")
	// ErrAlreadyMember signals the accepting user already holds an active membership.
	ErrAlreadyMember = errors.New("invite: already a member")
)

// Per-email failure reasons reported in batch results.
const (
	reasonInvalidEmail   = "invalid email address"
	reasonAlreadyInvited = "invite already sent to this email"
	reasonAlreadyMember  = "user is already a member of this organization"
)

// InvitedEmail is one successful issuance. The token is returned so callers
// can embed it in a verification URL without waiting for the async sweep.
type InvitedEmail struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// FailedEmail is one rejected issuance.
type FailedEmail struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// InviteBatchResult aggregates per-email outcomes of a batch issuance.
type InviteBatchResult struct {
	Successful     []InvitedEmail `json:"successful"`
	Failed         []FailedEmail  `json:"failed"`
	TotalProcessed int            `json:"total_processed"`
	SuccessCount   int            `json:"success_count"`
	FailureCount   int            `json:"failure_count"`
}

// InviteOption customises InviteService behaviour.
type InviteOption func(*InviteService)

// WithInviteBaseURL configures the base URL used to build verification links.
func WithInviteBaseURL(u string) InviteOption {
	return func(s *InviteService) {
		s.baseURL = strings.TrimRight(u, "/")
	}
}

// WithInviteTTL overrides the invitation lifetime.
func WithInviteTTL(d time.Duration) InviteOption {
	return func(s *InviteService) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithInviteClock injects a custom clock primarily for testing.
func WithInviteClock(clock func() time.Time) InviteOption {
	return func(s *InviteService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// InviteService owns the organization invitation lifecycle: batch issuance,
// delivery, cancellation, and transactional acceptance.
type InviteService struct {
	db            *gorm.DB
	members       *MembershipService
	verifications *VerificationService
	mailer        mail.Mailer
	activity      *ActivityService
	baseURL       string
	ttl           time.Duration
	now           func() time.Time
	log           *zap.Logger
}

// NewInviteService constructs an InviteService with the provided dependencies.
func NewInviteService(
	db *gorm.DB,
	members *MembershipService,
	verifications *VerificationService,
	mailer mail.Mailer,
	activity *ActivityService,
	opts ...InviteOption,
) (*InviteService, error) {
	if db == nil {
		return nil, errors.New("invite service: db is required")
	}
	if members == nil {
		return nil, errors.New("invite service: membership service is required")
	}
	if verifications == nil {
		return nil, errors.New("invite service: verification service is required")
	}

	service := &InviteService{
		db:            db,
		members:       members,
		verifications: verifications,
		mailer:        mailer,
		activity:      activity,
		ttl:           defaultInviteTTL,
		now:           time.Now,
		log:           logger.WithModule("invites"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// InviteMembers issues invitations for a batch of email addresses. The whole
// call fails when the caller lacks invite permission; individual addresses
// fail independently and are reported in the result, never as an error.
func (s *InviteService) InviteMembers(ctx context.Context, organizationID string, emails []string, role, callerID string) (*InviteBatchResult, error) {
	ctx = ensureContext(ctx)

	if !models.ValidInviteRole(role) {
		return nil, apperrors.NewBadRequest("invite role must be admin or member")
	}

	canInvite, err := s.members.CanInviteMembers(ctx, organizationID, callerID)
	if err != nil {
		return nil, err
	}
	if !canInvite {
		return nil, apperrors.ErrForbidden
	}

	org, err := s.loadOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result := &InviteBatchResult{TotalProcessed: len(emails)}

	for _, raw := range emails {
		email := normalizeEmail(raw)
		if email == "" || appValidator.Var(email, "email") != nil {
			result.Failed = append(result.Failed, FailedEmail{Email: raw, Reason: reasonInvalidEmail})
			metrics.InvitesIssued.WithLabelValues("rejected").Inc()
			continue
		}

		switch invite, reason, err := s.issueOne(ctx, org, email, role, callerID, now); {
		case err != nil:
			return nil, err
		case reason != "":
			result.Failed = append(result.Failed, FailedEmail{Email: email, Reason: reason})
			metrics.InvitesIssued.WithLabelValues("duplicate").Inc()
		default:
			result.Successful = append(result.Successful, InvitedEmail{Email: email, Token: invite.Token})
			metrics.InvitesIssued.WithLabelValues("success").Inc()

			// Best-effort immediate delivery; the sweep retries failures.
			if err := s.Deliver(ctx, invite, org); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
				s.log.Warn("immediate invite delivery failed",
					zap.String("organization_id", org.ID),
					zap.String("email", email),
					zap.Error(err))
			}
		}
	}

	result.SuccessCount = len(result.Successful)
	result.FailureCount = len(result.Failed)

	recordActivity(s.activity, ctx, ActivityEntry{
		OrganizationID: org.ID,
		UserID:         callerID,
		Action:         "invite.issue",
		EntityType:     "invite",
		Metadata: map[string]any{
			"role":      role,
			"requested": result.TotalProcessed,
			"issued":    result.SuccessCount,
		},
	})

	return result, nil
}

// issueOne creates a single invite row. A non-empty reason means the address
// was rejected; an error aborts the whole batch. The pending-invite unique
// index (one pending row per organization and email) backstops the count
// check against concurrent callers.
func (s *InviteService) issueOne(ctx context.Context, org *models.Organization, email, role, callerID string, now time.Time) (*models.OrganizationInvite, string, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", fmt.Errorf("invite service: find user: %w", err)
	}
	if err == nil {
		membership, err := s.members.activeMembership(ctx, org.ID, user.ID)
		if err != nil {
			return nil, "", err
		}
		if membership != nil || org.OwnerID == user.ID {
			return nil, reasonAlreadyMember, nil
		}
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.OrganizationInvite{}).
		Where("organization_id = ? AND email = ? AND status = ? AND expires_at > ?", org.ID, email, models.InviteStatusPending, now).
		Count(&count).Error; err != nil {
		return nil, "", fmt.Errorf("invite service: check pending invite: %w", err)
	}
	if count > 0 {
		return nil, reasonAlreadyInvited, nil
	}

	// An expired row that the purge has not reached yet still occupies the
	// pending slot in the unique index. Release it before inserting.
	if err := s.db.WithContext(ctx).
		Model(&models.OrganizationInvite{}).
		Where("organization_id = ? AND email = ? AND status = ? AND expires_at <= ?", org.ID, email, models.InviteStatusPending, now).
		Update("status", models.InviteStatusExpired).Error; err != nil {
		return nil, "", fmt.Errorf("invite service: expire stale invite: %w", err)
	}

	invite := models.OrganizationInvite{
		OrganizationID: org.ID,
		Email:          email,
		Role:           role,
		Token:          crypto.NewInviteToken(),
		ExpiresAt:      now.Add(s.ttl),
		InvitedBy:      callerID,
		Status:         models.InviteStatusPending,
	}

	if err := s.db.WithContext(ctx).Create(&invite).Error; err != nil {
		// A concurrent issuance for the same address trips the pending
		// index and surfaces as the duplicate failure, not an internal
		// error.
		if isUniqueConstraintError(err) {
			return nil, reasonAlreadyInvited, nil
		}
		return nil, "", fmt.Errorf("invite service: create invite: %w", err)
	}

	return &invite, "", nil
}

// AcceptInvite validates the (token, email) pair against the authenticated
// caller and atomically converts the invitation into a membership. Returns
// the organization id on success.
func (s *InviteService) AcceptInvite(ctx context.Context, token, email, callerID string) (string, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	email = normalizeEmail(email)
	if token == "" || email == "" {
		metrics.InvitesAccepted.WithLabelValues("invalid").Inc()
		return "", ErrInvalidInvitation
	}

	var caller models.User
	if err := s.db.WithContext(ctx).First(&caller, "id = ?", callerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apperrors.ErrUnauthorized
		}
		return "", fmt.Errorf("invite service: load caller: %w", err)
	}

	// The token alone is never sufficient: it must match the invited email,
	// and the invited email must match the authenticated identity.
	if normalizeEmail(caller.Email) != email {
		metrics.InvitesAccepted.WithLabelValues("invalid").Inc()
		return "", ErrInvalidInvitation
	}

	var invite models.OrganizationInvite
	err := s.db.WithContext(ctx).
		Where("token = ? AND email = ?", token, email).
		First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.InvitesAccepted.WithLabelValues("invalid").Inc()
		return "", ErrInvalidInvitation
	}
	if err != nil {
		return "", fmt.Errorf("invite service: find invite: %w", err)
	}

	now := s.now()
	if invite.Status != models.InviteStatusPending {
		metrics.InvitesAccepted.WithLabelValues("invalid").Inc()
		return "", ErrInvalidInvitation
	}
	if !invite.ExpiresAt.After(now) {
		metrics.InvitesAccepted.WithLabelValues("expired").Inc()
		return "", ErrInviteExpired
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Optimistic status flip: of two concurrent accepts, exactly one
		// observes RowsAffected == 1.
		result := tx.Model(&models.OrganizationInvite{}).
			Where("id = ? AND status = ?", invite.ID, models.InviteStatusPending).
			Update("status", models.InviteStatusAccepted)
		if result.Error != nil {
			return fmt.Errorf("mark accepted: %w", result.Error)
		}
		if result.RowsAffected != 1 {
			return ErrInvalidInvitation
		}

		var existing models.OrganizationMember
		err := tx.Where("organization_id = ? AND user_id = ?", invite.OrganizationID, caller.ID).
			First(&existing).Error
		switch {
		case err == nil && existing.Status == models.MemberStatusActive:
			return ErrAlreadyMember
		case err == nil:
			// Reactivate a previously deactivated membership under the
			// invited role.
			return tx.Model(&existing).Updates(map[string]any{
				"role":       invite.Role,
				"status":     models.MemberStatusActive,
				"joined_at":  now,
				"invited_by": invite.InvitedBy,
			}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			member := models.OrganizationMember{
				OrganizationID: invite.OrganizationID,
				UserID:         caller.ID,
				Role:           invite.Role,
				Status:         models.MemberStatusActive,
				JoinedAt:       now,
				InvitedBy:      invite.InvitedBy,
			}
			if err := tx.Create(&member).Error; err != nil {
				if isUniqueConstraintError(err) {
					return ErrAlreadyMember
				}
				return fmt.Errorf("create membership: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("load membership: %w", err)
		}
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInvitation) || errors.Is(err, ErrAlreadyMember) {
			metrics.InvitesAccepted.WithLabelValues("invalid").Inc()
			return "", err
		}
		return "", fmt.Errorf("invite service: %w", err)
	}

	metrics.InvitesAccepted.WithLabelValues("success").Inc()

	recordActivity(s.activity, ctx, ActivityEntry{
		OrganizationID: invite.OrganizationID,
		UserID:         caller.ID,
		Action:         "member.join",
		EntityType:     "member",
		EntityID:       caller.ID,
		Metadata:       map[string]any{"role": invite.Role, "invited_by": invite.InvitedBy},
	})

	return invite.OrganizationID, nil
}

// CancelInvite marks a pending invite canceled, freeing the (organization,
// email) slot for re-issuance. Owner or admin only.
func (s *InviteService) CancelInvite(ctx context.Context, organizationID, inviteID, callerID string) error {
	ctx = ensureContext(ctx)

	if err := s.requireManager(ctx, organizationID, callerID); err != nil {
		return err
	}

	var invite models.OrganizationInvite
	err := s.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", inviteID, organizationID).
		First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInviteNotFound
	}
	if err != nil {
		return fmt.Errorf("invite service: find invite: %w", err)
	}

	if invite.Status != models.InviteStatusPending {
		return ErrInvalidInvitation
	}

	result := s.db.WithContext(ctx).Model(&models.OrganizationInvite{}).
		Where("id = ? AND status = ?", invite.ID, models.InviteStatusPending).
		Update("status", models.InviteStatusCanceled)
	if result.Error != nil {
		return fmt.Errorf("invite service: cancel invite: %w", result.Error)
	}
	if result.RowsAffected != 1 {
		return ErrInvalidInvitation
	}

	recordActivity(s.activity, ctx, ActivityEntry{
		OrganizationID: organizationID,
		UserID:         callerID,
		Action:         "invite.cancel",
		EntityType:     "invite",
		EntityID:       invite.ID,
		Metadata:       map[string]any{"email": invite.Email},
	})

	return nil
}

// ResendInvite re-delivers a pending, unexpired invitation immediately.
// Owner or admin only.
func (s *InviteService) ResendInvite(ctx context.Context, organizationID, inviteID, callerID string) error {
	ctx = ensureContext(ctx)

	if err := s.requireManager(ctx, organizationID, callerID); err != nil {
		return err
	}

	var invite models.OrganizationInvite
	err := s.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", inviteID, organizationID).
		First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInviteNotFound
	}
	if err != nil {
		return fmt.Errorf("invite service: find invite: %w", err)
	}

	now := s.now()
	if invite.Status != models.InviteStatusPending {
		return ErrInvalidInvitation
	}
	if !invite.ExpiresAt.After(now) {
		return ErrInviteExpired
	}

	org, err := s.loadOrganization(ctx, organizationID)
	if err != nil {
		return err
	}

	return s.Deliver(ctx, &invite, org)
}

// Deliver mints a fresh verification code for the invite, sends the email,
// and stamps last_sent_at on success. Used for both immediate sends and the
// periodic sweep.
func (s *InviteService) Deliver(ctx context.Context, invite *models.OrganizationInvite, org *models.Organization) error {
	ctx = ensureContext(ctx)

	if s.mailer == nil {
		return mail.ErrSMTPDisabled
	}

	code, expiresAt, err := s.verifications.Issue(ctx, invite.Email, &invite.ID)
	if err != nil {
		return fmt.Errorf("invite service: issue verification code: %w", err)
	}

	link := s.verificationLink(code, invite.Email, invite.Token)

	message := mail.Message{
		To:      []string{invite.Email},
		Subject: fmt.Sprintf("Invitation to join %s", org.Name),
		Body:    inviteEmailBody(org.Name, invite.Role, code, link, expiresAt.Sub(s.now())),
		HTML:    true,
	}

	if err := s.mailer.Send(ctx, message); err != nil {
		if errors.Is(err, mail.ErrSMTPDisabled) {
			return err
		}
		metrics.InviteEmailsSent.WithLabelValues("failed").Inc()
		return fmt.Errorf("invite service: send email: %w", err)
	}

	metrics.InviteEmailsSent.WithLabelValues("sent").Inc()

	now := s.now()
	if err := s.db.WithContext(ctx).Model(&models.OrganizationInvite{}).
		Where("id = ?", invite.ID).
		Update("last_sent_at", now).Error; err != nil {
		return fmt.Errorf("invite service: stamp last_sent_at: %w", err)
	}
	invite.LastSentAt = &now

	return nil
}

// PurgeTerminal deletes invites that can never be accepted again: expired
// pending rows and accepted/canceled rows. Returns the number deleted.
func (s *InviteService) PurgeTerminal(ctx context.Context, now time.Time) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("(status = ? AND expires_at < ?) OR status IN ?",
			models.InviteStatusPending, now,
			[]string{models.InviteStatusAccepted, models.InviteStatusCanceled, models.InviteStatusExpired}).
		Delete(&models.OrganizationInvite{})
	if result.Error != nil {
		return 0, fmt.Errorf("invite service: purge: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *InviteService) requireManager(ctx context.Context, organizationID, callerID string) error {
	role, err := s.members.Role(ctx, organizationID, callerID)
	if err != nil {
		return err
	}
	if role != models.RoleOwner && role != models.RoleAdmin {
		return apperrors.ErrForbidden
	}
	return nil
}

func (s *InviteService) loadOrganization(ctx context.Context, organizationID string) (*models.Organization, error) {
	var org models.Organization
	err := s.db.WithContext(ctx).First(&org, "id = ?", organizationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invite service: load organization: %w", err)
	}
	return &org, nil
}

// verificationLink builds the magic link embedding the short-lived code and
// the stable invite token. Consuming it reconstructs the (token, email) pair
// needed for acceptance.
func (s *InviteService) verificationLink(code, email, inviteToken string) string {
	base := s.baseURL
	if base == "" {
		base = "http://localhost:3000"
	}
	return fmt.Sprintf("%s/verify?token=%s&email=%s&inviteToken=%s",
		base, url.QueryEscape(code), url.QueryEscape(email), url.QueryEscape(inviteToken))
}

func inviteEmailBody(orgName, role, code, link string, validity time.Duration) string {
	minutes := int(validity.Minutes())
	return fmt.Sprintf(
		"<h1>You've been invited to join %s</h1>"+
			"<p>You have been invited to join as a %s.</p>"+
			"<p>Your verification code is: <strong>%s</strong></p>"+
			"<p>Or click this link to join automatically:</p>"+
			"<p><a href=%q>Accept Invitation</a></p>"+
			"<p>This code expires in %d minutes.</p>",
		orgName, role, code, link, minutes)
}
