package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/printrail/printbridge/internal/middleware"
	"github.com/printrail/printbridge/internal/models"
	"github.com/printrail/printbridge/internal/services"
	appErrors "github.com/printrail/printbridge/pkg/errors"
	"github.com/printrail/printbridge/pkg/response"
)

type OrganizationHandler struct {
	orgs     *services.OrganizationService
	members  *services.MembershipService
	activity *services.ActivityService
}

func NewOrganizationHandler(orgs *services.OrganizationService, members *services.MembershipService, activity *services.ActivityService) *OrganizationHandler {
	return &OrganizationHandler{orgs: orgs, members: members, activity: activity}
}

type createOrganizationRequest struct {
	Name string `json:"name" validate:"required,min=2,max=128"`
}

type updateOrganizationRequest struct {
	Name     *string                      `json:"name" validate:"omitempty,min=2,max=128"`
	Status   *string                      `json:"status" validate:"omitempty,oneof=active inactive suspended"`
	Settings *models.OrganizationSettings `json:"settings"`
}

// POST /api/orgs
func (h *OrganizationHandler) Create(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req createOrganizationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	org, err := h.orgs.Create(requestContext(c), services.CreateOrganizationInput{
		Name:    req.Name,
		OwnerID: userID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, org)
}

// GET /api/orgs
func (h *OrganizationHandler) List(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	orgs, err := h.orgs.ListForUser(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"organizations": orgs})
}

// GET /api/orgs/:id
func (h *OrganizationHandler) Get(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	org, err := h.orgs.GetByID(requestContext(c), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, org)
}

// PATCH /api/orgs/:id
func (h *OrganizationHandler) Update(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req updateOrganizationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	org, err := h.orgs.Update(requestContext(c), c.Param("id"), userID, services.UpdateOrganizationInput{
		Name:     req.Name,
		Status:   req.Status,
		Settings: req.Settings,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, org)
}

// GET /api/orgs/:id/members
func (h *OrganizationHandler) ListMembers(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	list, err := h.members.ListMembers(requestContext(c), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, list)
}

// GET /api/orgs/:id/activity
func (h *OrganizationHandler) ListActivity(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	orgID := c.Param("id")
	ctx := requestContext(c)

	role, err := h.members.Role(ctx, orgID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if role != models.RoleOwner && role != models.RoleAdmin {
		response.Error(c, appErrors.ErrForbidden)
		return
	}

	limit := parseIntQuery(c, "limit", 50)
	rows, err := h.activity.ListForOrganization(ctx, orgID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"activity": rows})
}
