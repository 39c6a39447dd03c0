package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/printrail/printbridge/internal/middleware"
	"github.com/printrail/printbridge/internal/services"
	appErrors "github.com/printrail/printbridge/pkg/errors"
	"github.com/printrail/printbridge/pkg/response"
)

type InviteHandler struct {
	invites *services.InviteService
}

func NewInviteHandler(invites *services.InviteService) *InviteHandler {
	return &InviteHandler{invites: invites}
}

type inviteMembersRequest struct {
	Emails []string `json:"emails" validate:"required,min=1,max=50"`
	Role   string   `json:"role" validate:"required,oneof=admin member"`
}

type acceptInviteRequest struct {
	Token string `json:"token" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

// POST /api/orgs/:id/invites
func (h *InviteHandler) Invite(c *gin.Context) {
	if h.invites == nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req inviteMembersRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.invites.InviteMembers(requestContext(c), c.Param("id"), req.Emails, req.Role, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// POST /api/invites/accept
func (h *InviteHandler) Accept(c *gin.Context) {
	if h.invites == nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req acceptInviteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	orgID, err := h.invites.AcceptInvite(requestContext(c), req.Token, req.Email, userID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidInvitation):
			response.Error(c, appErrors.NewBadRequest("Invalid invitation"))
		case errors.Is(err, services.ErrInviteExpired):
			response.Error(c, appErrors.NewBadRequest("This invitation has expired"))
		case errors.Is(err, services.ErrAlreadyMember):
			response.Error(c, appErrors.NewBadRequest("You are already a member of this organization"))
		default:
			response.Error(c, err)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"organization_id": orgID})
}

// DELETE /api/orgs/:id/invites/:inviteID
func (h *InviteHandler) Cancel(c *gin.Context) {
	if h.invites == nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	err := h.invites.CancelInvite(requestContext(c), c.Param("id"), c.Param("inviteID"), userID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInviteNotFound):
			response.Error(c, appErrors.New("INVITE_NOT_FOUND", "Invite not found", http.StatusNotFound))
		case errors.Is(err, services.ErrInvalidInvitation):
			response.Error(c, appErrors.NewBadRequest("Invite is no longer pending"))
		default:
			response.Error(c, err)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"canceled": true})
}

// POST /api/orgs/:id/invites/:inviteID/resend
func (h *InviteHandler) Resend(c *gin.Context) {
	if h.invites == nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	err := h.invites.ResendInvite(requestContext(c), c.Param("id"), c.Param("inviteID"), userID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInviteNotFound):
			response.Error(c, appErrors.New("INVITE_NOT_FOUND", "Invite not found", http.StatusNotFound))
		case errors.Is(err, services.ErrInviteExpired):
			response.Error(c, appErrors.NewBadRequest("This invitation has expired"))
		case errors.Is(err, services.ErrInvalidInvitation):
			response.Error(c, appErrors.NewBadRequest("Invite is no longer pending"))
		default:
			response.Error(c, err)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"resent": true})
}
