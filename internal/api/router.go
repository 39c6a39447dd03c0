package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	iauth "github.com/printrail/printbridge/internal/auth"
	"github.com/printrail/printbridge/internal/handlers"
	"github.com/printrail/printbridge/internal/middleware"
	"github.com/printrail/printbridge/internal/services"
)

// Services bundles the wired service layer consumed by the router.
type Services struct {
	Organizations *services.OrganizationService
	Memberships   *services.MembershipService
	Invites       *services.InviteService
	Activity      *services.ActivityService
	Verifier      *iauth.EmailVerifier
	JWT           *iauth.JWTService
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(svcs Services) (*gin.Engine, error) {
	if svcs.Organizations == nil || svcs.Memberships == nil || svcs.Invites == nil {
		return nil, fmt.Errorf("organization, membership and invite services must be provided")
	}
	if svcs.Verifier == nil || svcs.JWT == nil {
		return nil, fmt.Errorf("verifier and jwt service must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	r.NoRoute(middleware.NotFoundHandler)

	// Public endpoints
	r.GET("/health", handlers.Health())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandler := handlers.NewAuthHandler(svcs.Verifier, svcs.JWT)
	orgHandler := handlers.NewOrganizationHandler(svcs.Organizations, svcs.Memberships, svcs.Activity)
	inviteHandler := handlers.NewInviteHandler(svcs.Invites)

	auth := r.Group("/api/auth")
	{
		auth.POST("/verify", authHandler.Verify)
	}

	api := r.Group("/api")
	api.Use(middleware.Auth(svcs.JWT))

	orgs := api.Group("/orgs")
	{
		orgs.POST("", orgHandler.Create)
		orgs.GET("", orgHandler.List)
		orgs.GET("/:id", orgHandler.Get)
		orgs.PATCH("/:id", orgHandler.Update)
		orgs.GET("/:id/members", orgHandler.ListMembers)
		orgs.GET("/:id/activity", orgHandler.ListActivity)

		orgs.POST("/:id/invites", inviteHandler.Invite)
		orgs.DELETE("/:id/invites/:inviteID", inviteHandler.Cancel)
		orgs.POST("/:id/invites/:inviteID/resend", inviteHandler.Resend)
	}

	api.POST("/invites/accept", inviteHandler.Accept)

	return r, nil
}
