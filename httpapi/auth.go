package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/digilib/lendingledger/core"
	"github.com/digilib/lendingledger/identity"
)

type signUpRequest struct {
	Email       string `json:"email" binding:"required"`
	DisplayName string `json:"displayName" binding:"required"`
	Password    string `json:"password" binding:"required"`
	Role        string `json:"role"`
}

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type sessionResponse struct {
	MemberID string `json:"memberId"`
	Token    string `json:"token"`
}

func toSessionResponse(session identity.Session) sessionResponse {
	return sessionResponse{MemberID: session.MemberID.String(), Token: session.Token}
}

func (s *Server) signUp(c *gin.Context) {
	var request signUpRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.abortWithError(c, errors.Join(core.ErrValidation, err))
		return
	}

	role := core.RoleUser
	if request.Role != "" {
		parsed, err := core.ParseRole(request.Role)
		if err != nil {
			s.abortWithError(c, err)
			return
		}

		role = parsed
	}

	session, err := s.identity.SignUp(c.Request.Context(), request.Email, request.DisplayName, request.Password, role)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toSessionResponse(session))
}

func (s *Server) signIn(c *gin.Context) {
	var request signInRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.abortWithError(c, errors.Join(core.ErrValidation, err))
		return
	}

	session, err := s.identity.SignIn(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(session))
}

func (s *Server) signOut(c *gin.Context) {
	ctx := c.Request.Context()
	token, _ := identity.SessionTokenFromContext(ctx)

	if err := s.identity.SignOut(ctx, token); err != nil {
		s.abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
