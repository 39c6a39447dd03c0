package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/printrail/printbridge/internal/models"
	apperrors "github.com/printrail/printbridge/pkg/errors"
)

// CreateOrganizationInput captures the attributes required to register an organization.
type CreateOrganizationInput struct {
	Name    string
	OwnerID string
}

// UpdateOrganizationInput represents mutable organization fields.
type UpdateOrganizationInput struct {
	Name     *string
	Status   *string
	Settings *models.OrganizationSettings
}

// OrganizationWithRole pairs an organization with the requesting user's effective role.
type OrganizationWithRole struct {
	models.Organization
	Role string `json:"role"`
}

// OrganizationService manages lifecycle operations for organizations.
type OrganizationService struct {
	db       *gorm.DB
	members  *MembershipService
	activity *ActivityService
	now      func() time.Time
}

// OrganizationOption customises OrganizationService behaviour.
type OrganizationOption func(*OrganizationService)

// WithOrganizationClock injects a custom time source, primarily for testing.
func WithOrganizationClock(clock func() time.Time) OrganizationOption {
	return func(s *OrganizationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewOrganizationService constructs an OrganizationService instance.
func NewOrganizationService(db *gorm.DB, members *MembershipService, activity *ActivityService, opts ...OrganizationOption) (*OrganizationService, error) {
	if db == nil {
		return nil, errors.New("organization service: db is required")
	}
	if members == nil {
		return nil, errors.New("organization service: membership service is required")
	}

	service := &OrganizationService{
		db:       db,
		members:  members,
		activity: activity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Create registers a new organization owned by the caller. The owner's
// membership row is written in the same transaction.
func (s *OrganizationService) Create(ctx context.Context, input CreateOrganizationInput) (*models.Organization, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("organization name is required")
	}
	ownerID := strings.TrimSpace(input.OwnerID)
	if ownerID == "" {
		return nil, errors.New("organization service: owner id is required")
	}

	now := s.now()
	org := &models.Organization{
		Name:    name,
		Slug:    slugify(name),
		OwnerID: ownerID,
		Status:  models.OrgStatusActive,
	}
	if err := org.SetSettings(models.DefaultOrganizationSettings()); err != nil {
		return nil, fmt.Errorf("organization service: encode settings: %w", err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.reserveSlug(tx, org); err != nil {
			return err
		}
		if err := tx.Create(org).Error; err != nil {
			return fmt.Errorf("create organization: %w", err)
		}

		member := models.OrganizationMember{
			OrganizationID: org.ID,
			UserID:         ownerID,
			Role:           models.RoleOwner,
			Status:         models.MemberStatusActive,
			JoinedAt:       now,
			InvitedBy:      ownerID,
		}
		if err := tx.Create(&member).Error; err != nil {
			return fmt.Errorf("create owner membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("organization service: %w", err)
	}

	recordActivity(s.activity, ctx, ActivityEntry{
		OrganizationID: org.ID,
		UserID:         ownerID,
		Action:         "organization.create",
		EntityType:     "organization",
		EntityID:       org.ID,
		Metadata:       map[string]any{"name": name, "slug": org.Slug},
	})

	return org, nil
}

// GetByID loads an organization readable by the requester (owner or active member).
func (s *OrganizationService) GetByID(ctx context.Context, id, requesterID string) (*models.Organization, error) {
	ctx = ensureContext(ctx)

	role, err := s.members.Role(ctx, id, requesterID)
	if err != nil {
		return nil, err
	}
	if role == "" {
		return nil, ErrNotMember
	}

	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("organization service: get organization: %w", err)
	}
	return &org, nil
}

// ListForUser returns the organizations the user owns or actively belongs to,
// each annotated with the user's effective role.
func (s *OrganizationService) ListForUser(ctx context.Context, userID string) ([]OrganizationWithRole, error) {
	ctx = ensureContext(ctx)

	var owned []models.Organization
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", userID).
		Order("created_at ASC").
		Find(&owned).Error; err != nil {
		return nil, fmt.Errorf("organization service: list owned: %w", err)
	}

	var memberships []models.OrganizationMember
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.MemberStatusActive).
		Find(&memberships).Error; err != nil {
		return nil, fmt.Errorf("organization service: list memberships: %w", err)
	}

	result := make([]OrganizationWithRole, 0, len(owned)+len(memberships))
	seen := make(map[string]struct{}, len(owned))

	for _, org := range owned {
		seen[org.ID] = struct{}{}
		result = append(result, OrganizationWithRole{Organization: org, Role: models.RoleOwner})
	}

	for _, membership := range memberships {
		if _, ok := seen[membership.OrganizationID]; ok {
			continue
		}

		var org models.Organization
		err := s.db.WithContext(ctx).First(&org, "id = ?", membership.OrganizationID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("organization service: load member organization: %w", err)
		}
		result = append(result, OrganizationWithRole{Organization: org, Role: membership.Role})
	}

	return result, nil
}

// Update modifies organization metadata. Owner only.
func (s *OrganizationService) Update(ctx context.Context, id, requesterID string, input UpdateOrganizationInput) (*models.Organization, error) {
	ctx = ensureContext(ctx)

	isOwner, err := s.members.IsOrgOwner(ctx, id, requesterID)
	if err != nil {
		return nil, err
	}
	if !isOwner {
		return nil, apperrors.ErrForbidden
	}

	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("organization service: load organization: %w", err)
	}

	updates := map[string]any{}

	if input.Name != nil {
		if name := strings.TrimSpace(*input.Name); name != "" && name != org.Name {
			updates["name"] = name
			updates["slug"] = slugify(name)
		}
	}
	if input.Status != nil {
		switch *input.Status {
		case models.OrgStatusActive, models.OrgStatusInactive, models.OrgStatusSuspended:
			updates["status"] = *input.Status
		default:
			return nil, apperrors.NewBadRequest("invalid organization status")
		}
	}
	if input.Settings != nil {
		if input.Settings.DefaultMemberRole != "" && !models.ValidInviteRole(input.Settings.DefaultMemberRole) {
			return nil, apperrors.NewBadRequest("invalid default member role")
		}
		patched := org
		if err := patched.SetSettings(*input.Settings); err != nil {
			return nil, fmt.Errorf("organization service: encode settings: %w", err)
		}
		updates["settings"] = patched.Settings
	}

	if len(updates) == 0 {
		return &org, nil
	}

	if err := s.db.WithContext(ctx).Model(&org).Updates(updates).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewBadRequest("organization name already taken")
		}
		return nil, fmt.Errorf("organization service: update organization: %w", err)
	}

	if err := s.db.WithContext(ctx).First(&org, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("organization service: reload organization: %w", err)
	}

	recordActivity(s.activity, ctx, ActivityEntry{
		OrganizationID: org.ID,
		UserID:         requesterID,
		Action:         "organization.update",
		EntityType:     "organization",
		EntityID:       org.ID,
		Metadata:       map[string]any{"fields": updateKeys(updates)},
	})

	return &org, nil
}

// reserveSlug appends a numeric suffix until the slug is free within the transaction.
func (s *OrganizationService) reserveSlug(tx *gorm.DB, org *models.Organization) error {
	base := org.Slug
	if base == "" {
		base = "organization"
	}

	candidate := base
	for attempt := 2; ; attempt++ {
		var count int64
		if err := tx.Model(&models.Organization{}).Where("slug = ?", candidate).Count(&count).Error; err != nil {
			return fmt.Errorf("check slug: %w", err)
		}
		if count == 0 {
			org.Slug = candidate
			return nil
		}
		candidate = fmt.Sprintf("%s-%d", base, attempt)
	}
}

func updateKeys(updates map[string]any) []string {
	keys := make([]string, 0, len(updates))
	for key := range updates {
		keys = append(keys, key)
	}
	return keys
}
