package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"invest-engine/internal/auth"
	"invest-engine/internal/database"
	"invest-engine/internal/engine"
)

// handlePendingDeposits lists deposit requests awaiting a decision
func (s *Server) handlePendingDeposits(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	reqs, err := s.requests.PendingDeposits(c.Request.Context(), limit)
	if err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, reqs)
}

// handleApproveDeposit finalizes a deposit: credit, plan activation,
// commissions, terminal status
func (s *Server) handleApproveDeposit(c *gin.Context) {
	if err := s.requests.ApproveDeposit(c.Request.Context(), c.Param("id")); err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, gin.H{"status": database.RequestApproved})
}

// handleRejectDeposit marks a deposit REJECTED with no balance effect
func (s *Server) handleRejectDeposit(c *gin.Context) {
	if err := s.requests.RejectDeposit(c.Request.Context(), c.Param("id")); err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, gin.H{"status": database.RequestRejected})
}

// handlePendingWithdrawals lists withdrawal requests awaiting a decision
func (s *Server) handlePendingWithdrawals(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	reqs, err := s.requests.PendingWithdrawals(c.Request.Context(), limit)
	if err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, reqs)
}

// handleApproveWithdrawal confirms a held withdrawal
func (s *Server) handleApproveWithdrawal(c *gin.Context) {
	if err := s.requests.ApproveWithdrawal(c.Request.Context(), c.Param("id")); err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, gin.H{"status": database.RequestApproved})
}

// handleRejectWithdrawal reverses the hold and marks the request REJECTED
func (s *Server) handleRejectWithdrawal(c *gin.Context) {
	if err := s.requests.RejectWithdrawal(c.Request.Context(), c.Param("id")); err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, gin.H{"status": database.RequestRejected})
}

type adminWithdrawalRequest struct {
	UserID      string  `json:"user_id" binding:"required"`
	Amount      float64 `json:"amount" binding:"required,gt=0"`
	Method      string  `json:"method" binding:"required,oneof=CHAIN_TRANSFER INSTANT_TRANSFER"`
	Destination string  `json:"destination" binding:"required"`
}

// handleAdminSubmitWithdrawal submits a withdrawal on a user's behalf,
// bypassing the window and minimum checks but not the balance check
func (s *Server) handleAdminSubmitWithdrawal(c *gin.Context) {
	var req adminWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	wr, err := s.requests.SubmitWithdrawal(c.Request.Context(), req.UserID,
		req.Amount, database.PaymentMethod(req.Method), req.Destination, true)
	if err != nil {
		engineErrorResponse(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": wr})
}

type adjustBalanceRequest struct {
	Amount float64 `json:"amount" binding:"required"`
	RefID  string  `json:"ref_id" binding:"required"`
}

// handleAdjustBalance applies a signed admin correction
func (s *Server) handleAdjustBalance(c *gin.Context) {
	var req adjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	balance, err := s.admin.AdjustBalance(c.Request.Context(), auth.GetUserID(c),
		c.Param("id"), req.Amount, req.RefID)
	if err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, gin.H{"balance": balance})
}

// handleGrantPlan activates a plan without a funding deposit
func (s *Server) handleGrantPlan(c *gin.Context) {
	var req struct {
		PlanID int `json:"plan_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if err := s.admin.GrantPlan(c.Request.Context(), auth.GetUserID(c), c.Param("id"), req.PlanID); err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, gin.H{"granted": true})
}

// handleSetStatus blocks or unblocks an account
func (s *Server) handleSetStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required,oneof=ACTIVE BLOCKED"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if err := s.admin.SetStatus(c.Request.Context(), auth.GetUserID(c),
		c.Param("id"), database.AccountStatus(req.Status)); err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, gin.H{"status": req.Status})
}

// handleReassignReferrer rewrites a user's upline edge
func (s *Server) handleReassignReferrer(c *gin.Context) {
	var req struct {
		ReferrerCode string `json:"referrer_code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if err := s.admin.ReassignReferrer(c.Request.Context(), auth.GetUserID(c),
		c.Param("id"), req.ReferrerCode); err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, gin.H{"updated": true})
}

// handleAuditUser verifies the balance-equals-entry-sum invariant for a user
func (s *Server) handleAuditUser(c *gin.Context) {
	audit, err := s.ledger.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, audit)
}

// handleGetSettings returns the current policy snapshot
func (s *Server) handleGetSettings(c *gin.Context) {
	successResponse(c, s.settings.Load())
}

type reloadSettingsRequest struct {
	MinWithdrawal     float64   `json:"min_withdrawal" binding:"min=0"`
	WithdrawWeekdays  []int     `json:"withdraw_weekdays" binding:"required"`
	WithdrawOpenHour  int       `json:"withdraw_open_hour" binding:"min=0,max=23"`
	WithdrawCloseHour int       `json:"withdraw_close_hour" binding:"min=0,max=24"`
	InstantFeeRate    float64   `json:"instant_fee_rate" binding:"min=0"`
	ReferralRates     []float64 `json:"referral_rates" binding:"required"`
	DisplayRate       float64   `json:"display_rate" binding:"gt=0"`
}

// handleReloadSettings publishes a new policy snapshot atomically
func (s *Server) handleReloadSettings(c *gin.Context) {
	var req reloadSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	weekdays := make([]time.Weekday, 0, len(req.WithdrawWeekdays))
	for _, d := range req.WithdrawWeekdays {
		if d < 0 || d > 6 {
			errorResponse(c, http.StatusBadRequest, "weekdays must be 0-6")
			return
		}
		weekdays = append(weekdays, time.Weekday(d))
	}

	next := &engine.Settings{
		MinWithdrawal:     req.MinWithdrawal,
		WithdrawWeekdays:  weekdays,
		WithdrawOpenHour:  req.WithdrawOpenHour,
		WithdrawCloseHour: req.WithdrawCloseHour,
		InstantFeeRate:    req.InstantFeeRate,
		ReferralRates:     req.ReferralRates,
		DisplayRate:       req.DisplayRate,
	}

	if err := s.admin.ReloadSettings(c.Request.Context(), auth.GetUserID(c), next); err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, next)
}

// handleManualAccrual runs one accrual sweep immediately
func (s *Server) handleManualAccrual(c *gin.Context) {
	accrued, err := s.scheduler.RunManualSweep(c.Request.Context())
	if err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, gin.H{"accrued": accrued})
}
