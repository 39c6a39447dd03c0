package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/printrail/printbridge/internal/models"
	apperrors "github.com/printrail/printbridge/pkg/errors"
)

var (
	// ErrOrganizationNotFound indicates the requested organization does not exist.
	ErrOrganizationNotFound = apperrors.New("ORGANIZATION_NOT_FOUND", "Organization not found", http.StatusNotFound)
	// ErrNotMember signals the caller holds no relation to the organization.
	ErrNotMember = apperrors.New("NOT_A_MEMBER", "Not a member of this organization", http.StatusForbidden)
)

// MemberView is one active member row enriched with user details.
type MemberView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	JoinedAt  time.Time `json:"joined_at"`
	InvitedBy string    `json:"invited_by,omitempty"`
}

// PendingInviteView is a pending invitation as shown to owners and admins.
type PendingInviteView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	InvitedBy string    `json:"invited_by,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MemberList aggregates the member listing for one caller.
type MemberList struct {
	Members        []MemberView        `json:"members"`
	PendingInvites []PendingInviteView `json:"pending_invites,omitempty"`
	CallerRole     string              `json:"caller_role"`
	CanInvite      bool                `json:"can_invite"`
}

// MembershipService derives a caller's effective role and permissions within
// an organization and serves the member listing.
type MembershipService struct {
	db  *gorm.DB
	now func() time.Time
}

// MembershipOption customises MembershipService behaviour.
type MembershipOption func(*MembershipService)

// WithMembershipClock injects a custom time source, primarily for testing.
func WithMembershipClock(clock func() time.Time) MembershipOption {
	return func(s *MembershipService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewMembershipService constructs a MembershipService instance.
func NewMembershipService(db *gorm.DB, opts ...MembershipOption) (*MembershipService, error) {
	if db == nil {
		return nil, errors.New("membership service: db is required")
	}

	service := &MembershipService{db: db, now: time.Now}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Role returns the caller's effective role within the organization: "owner"
// when the organization belongs to them, otherwise the role of their active
// membership, otherwise the empty string.
func (s *MembershipService) Role(ctx context.Context, organizationID, userID string) (string, error) {
	ctx = ensureContext(ctx)

	org, err := s.loadOrganization(ctx, organizationID)
	if err != nil {
		return "", err
	}

	if org.OwnerID == userID {
		return models.RoleOwner, nil
	}

	membership, err := s.activeMembership(ctx, organizationID, userID)
	if err != nil {
		return "", err
	}
	if membership == nil {
		return "", nil
	}
	return membership.Role, nil
}

// IsOrgOwner reports whether the caller owns the organization.
func (s *MembershipService) IsOrgOwner(ctx context.Context, organizationID, userID string) (bool, error) {
	ctx = ensureContext(ctx)

	org, err := s.loadOrganization(ctx, organizationID)
	if err != nil {
		return false, err
	}
	return org.OwnerID == userID, nil
}

// CanInviteMembers reports whether the caller may issue invitations: owners
// and active admins always may; plain active members only when the
// organization's allow_member_invites setting is enabled.
func (s *MembershipService) CanInviteMembers(ctx context.Context, organizationID, userID string) (bool, error) {
	ctx = ensureContext(ctx)

	org, err := s.loadOrganization(ctx, organizationID)
	if err != nil {
		return false, err
	}

	if org.OwnerID == userID {
		return true, nil
	}

	membership, err := s.activeMembership(ctx, organizationID, userID)
	if err != nil {
		return false, err
	}
	if membership == nil {
		return false, nil
	}

	switch membership.Role {
	case models.RoleAdmin:
		return true, nil
	case models.RoleMember:
		return org.ParsedSettings().AllowMemberInvites, nil
	default:
		return false, nil
	}
}

// ListMembers returns the active members of an organization. Pending invites
// are included only for owners and admins so invitee emails never leak to
// rank-and-file members.
func (s *MembershipService) ListMembers(ctx context.Context, organizationID, callerID string) (*MemberList, error) {
	ctx = ensureContext(ctx)

	role, err := s.Role(ctx, organizationID, callerID)
	if err != nil {
		return nil, err
	}
	if role == "" {
		return nil, ErrNotMember
	}

	var memberships []models.OrganizationMember
	if err := s.db.WithContext(ctx).
		Preload("User").
		Where("organization_id = ? AND status = ?", organizationID, models.MemberStatusActive).
		Order("joined_at ASC").
		Find(&memberships).Error; err != nil {
		return nil, fmt.Errorf("membership service: list members: %w", err)
	}

	list := &MemberList{
		Members:    make([]MemberView, 0, len(memberships)),
		CallerRole: role,
		CanInvite:  role == models.RoleOwner || role == models.RoleAdmin,
	}

	if !list.CanInvite {
		canInvite, err := s.CanInviteMembers(ctx, organizationID, callerID)
		if err != nil {
			return nil, err
		}
		list.CanInvite = canInvite
	}

	for _, membership := range memberships {
		view := MemberView{
			ID:        membership.ID,
			UserID:    membership.UserID,
			Role:      membership.Role,
			JoinedAt:  membership.JoinedAt,
			InvitedBy: membership.InvitedBy,
		}
		if membership.User != nil {
			view.Email = membership.User.Email
			view.Name = membership.User.Name
		}
		list.Members = append(list.Members, view)
	}

	if role == models.RoleOwner || role == models.RoleAdmin {
		var invites []models.OrganizationInvite
		if err := s.db.WithContext(ctx).
			Where("organization_id = ? AND status = ? AND expires_at > ?", organizationID, models.InviteStatusPending, s.now()).
			Order("created_at ASC").
			Find(&invites).Error; err != nil {
			return nil, fmt.Errorf("membership service: list pending invites: %w", err)
		}

		list.PendingInvites = make([]PendingInviteView, 0, len(invites))
		for _, invite := range invites {
			list.PendingInvites = append(list.PendingInvites, PendingInviteView{
				ID:        invite.ID,
				Email:     invite.Email,
				Role:      invite.Role,
				InvitedBy: invite.InvitedBy,
				ExpiresAt: invite.ExpiresAt,
			})
		}
	}

	return list, nil
}

func (s *MembershipService) loadOrganization(ctx context.Context, organizationID string) (*models.Organization, error) {
	var org models.Organization
	err := s.db.WithContext(ctx).First(&org, "id = ?", organizationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("membership service: load organization: %w", err)
	}
	return &org, nil
}

func (s *MembershipService) activeMembership(ctx context.Context, organizationID, userID string) (*models.OrganizationMember, error) {
	var membership models.OrganizationMember
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND user_id = ? AND status = ?", organizationID, userID, models.MemberStatusActive).
		First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("membership service: load membership: %w", err)
	}
	return &membership, nil
}
