package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/printrail/printbridge/internal/auth"
	"github.com/printrail/printbridge/internal/models"
	appErrors "github.com/printrail/printbridge/pkg/errors"
	"github.com/printrail/printbridge/pkg/response"
)

type AuthHandler struct {
	verifier *iauth.EmailVerifier
	jwt      *iauth.JWTService
}

func NewAuthHandler(verifier *iauth.EmailVerifier, jwt *iauth.JWTService) *AuthHandler {
	return &AuthHandler{verifier: verifier, jwt: jwt}
}

type verifyEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=8,numeric"`
}

type authUserDTO struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

type verifyEmailResponse struct {
	Token    string      `json:"token"`
	User     authUserDTO `json:"user"`
	InviteID string      `json:"invite_id,omitempty"`
}

// POST /api/auth/verify
//
// Exchanges a one-time email code for an access token. The account is created
// on first verification.
func (h *AuthHandler) Verify(c *gin.Context) {
	if h.verifier == nil || h.jwt == nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	var req verifyEmailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	identity, err := h.verifier.Verify(requestContext(c), req.Email, req.Code)
	if err != nil {
		if errors.Is(err, iauth.ErrInvalidCode) {
			response.Error(c, appErrors.New("INVALID_CODE", "Invalid or expired verification code", http.StatusUnauthorized))
			return
		}
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	token, err := h.jwt.GenerateAccessToken(identity.User.ID, identity.User.Email)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	payload := verifyEmailResponse{
		Token: token,
		User:  toAuthUserDTO(identity.User),
	}
	if identity.InviteID != nil {
		payload.InviteID = *identity.InviteID
	}

	response.Success(c, http.StatusOK, payload)
}

func toAuthUserDTO(user *models.User) authUserDTO {
	if user == nil {
		return authUserDTO{}
	}
	return authUserDTO{
		ID:       user.ID,
		Email:    user.Email,
		Name:     user.Name,
		IsActive: user.IsActive,
	}
}
