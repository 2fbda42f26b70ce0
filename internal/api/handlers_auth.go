package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"invest-engine/internal/auth"
)

// handleRegister creates a new account and returns the public profile
func (s *Server) handleRegister(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	user, err := s.authService.Register(c.Request.Context(), req)
	if err != nil {
		engineErrorResponse(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    auth.ToUserResponse(user),
	})
}

// handleLogin authenticates a user and returns an access token
func (s *Server) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	resp, err := s.authService.Login(c.Request.Context(), req)
	if err != nil {
		engineErrorResponse(c, err)
		return
	}

	successResponse(c, resp)
}

// handleChangePassword updates the caller's password
func (s *Server) handleChangePassword(c *gin.Context) {
	var req auth.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if err := s.authService.ChangePassword(c.Request.Context(), auth.GetUserID(c), req); err != nil {
		engineErrorResponse(c, err)
		return
	}

	successResponse(c, gin.H{"updated": true})
}
