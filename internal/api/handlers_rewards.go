package api

import (
	"github.com/gin-gonic/gin"

	"invest-engine/internal/auth"
	"invest-engine/internal/rewards"
)

// handleCheckIn records the daily check-in and returns the new streak
func (s *Server) handleCheckIn(c *gin.Context) {
	result, err := s.rewards.CheckIn(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, result)
}

// handleSpin draws and credits a wheel prize
func (s *Server) handleSpin(c *gin.Context) {
	result, err := s.rewards.Spin(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, result)
}

// handleWheelPrizes returns the public prize table so clients can render the
// wheel; the draw itself always happens server-side
func (s *Server) handleWheelPrizes(c *gin.Context) {
	successResponse(c, rewards.WheelPrizes)
}
