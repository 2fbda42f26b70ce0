package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"invest-engine/internal/auth"
	"invest-engine/internal/database"
)

type submitDepositRequest struct {
	Amount   float64 `json:"amount" binding:"required,gt=0"`
	Method   string  `json:"method" binding:"required,oneof=CHAIN_TRANSFER INSTANT_TRANSFER"`
	ProofRef string  `json:"proof_ref"`
	PlanID   *int    `json:"plan_id,omitempty"`
}

// handleSubmitDeposit records a deposit declaration for admin review
func (s *Server) handleSubmitDeposit(c *gin.Context) {
	var req submitDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	dep, err := s.requests.SubmitDeposit(c.Request.Context(), auth.GetUserID(c),
		req.Amount, database.PaymentMethod(req.Method), req.ProofRef, req.PlanID)
	if err != nil {
		engineErrorResponse(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": dep})
}

// handleListMyDeposits returns the caller's deposit requests
func (s *Server) handleListMyDeposits(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	reqs, err := s.requests.UserDeposits(c.Request.Context(), auth.GetUserID(c), limit)
	if err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, reqs)
}

type submitWithdrawalRequest struct {
	Amount      float64 `json:"amount" binding:"required,gt=0"`
	Method      string  `json:"method" binding:"required,oneof=CHAIN_TRANSFER INSTANT_TRANSFER"`
	Destination string  `json:"destination" binding:"required"`
}

// handleSubmitWithdrawal places a withdrawal hold subject to the window and
// minimum checks
func (s *Server) handleSubmitWithdrawal(c *gin.Context) {
	var req submitWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	wr, err := s.requests.SubmitWithdrawal(c.Request.Context(), auth.GetUserID(c),
		req.Amount, database.PaymentMethod(req.Method), req.Destination, false)
	if err != nil {
		engineErrorResponse(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": wr})
}

// handleListMyWithdrawals returns the caller's withdrawal requests
func (s *Server) handleListMyWithdrawals(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	reqs, err := s.requests.UserWithdrawals(c.Request.Context(), auth.GetUserID(c), limit)
	if err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, reqs)
}

// handleWithdrawWindow reports whether withdrawals are currently open. The
// server-side check in SubmitWithdrawal remains authoritative; this endpoint
// exists so clients can render an advisory countdown.
func (s *Server) handleWithdrawWindow(c *gin.Context) {
	cfg := s.settings.Load()
	now := s.clock.Now()

	successResponse(c, gin.H{
		"open":           cfg.WithdrawWindowOpen(now),
		"weekdays":       cfg.WithdrawWeekdays,
		"open_hour":      cfg.WithdrawOpenHour,
		"close_hour":     cfg.WithdrawCloseHour,
		"min_withdrawal": cfg.MinWithdrawal,
		"server_time":    now,
	})
}
