package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"invest-engine/internal/auth"
	"invest-engine/internal/database"
	"invest-engine/internal/engine"
	"invest-engine/internal/plans"
)

// handleGetProfile returns the caller's profile, cache-first
func (s *Server) handleGetProfile(c *gin.Context) {
	userID := auth.GetUserID(c)

	if s.cache != nil {
		var cached auth.UserResponse
		if s.cache.GetProfile(c.Request.Context(), userID, &cached) {
			successResponse(c, cached)
			return
		}
	}

	user, err := s.repo.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		engineErrorResponse(c, err)
		return
	}
	if user == nil {
		engineErrorResponse(c, engine.ErrUserNotFound)
		return
	}

	resp := auth.ToUserResponse(user)
	if s.cache != nil {
		s.cache.SetProfile(c.Request.Context(), userID, resp)
	}
	successResponse(c, resp)
}

// handleGetBalance returns the caller's spendable balance, converted by the
// configured display rate
func (s *Server) handleGetBalance(c *gin.Context) {
	userID := auth.GetUserID(c)
	ctx := c.Request.Context()

	balance, ok := float64(0), false
	if s.cache != nil {
		balance, ok = s.cache.GetBalance(ctx, userID)
	}
	if !ok {
		var err error
		balance, err = s.ledger.Balance(ctx, userID)
		if err != nil {
			engineErrorResponse(c, err)
			return
		}
		if s.cache != nil {
			s.cache.SetBalance(ctx, userID, balance)
		}
	}

	rate := s.settings.Load().DisplayRate
	successResponse(c, gin.H{
		"balance":         balance,
		"display_balance": balance * rate,
		"display_rate":    rate,
	})
}

// handleGetLedger returns the caller's entry history, newest first
func (s *Server) handleGetLedger(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	entries, err := s.ledger.Entries(c.Request.Context(), auth.GetUserID(c), limit)
	if err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, entries)
}

// handleGetActivePlan returns the caller's current plan, if any
func (s *Server) handleGetActivePlan(c *gin.Context) {
	user, err := s.repo.GetUserByID(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		engineErrorResponse(c, err)
		return
	}
	if user == nil {
		engineErrorResponse(c, engine.ErrUserNotFound)
		return
	}

	if user.ActivePlanID == nil {
		successResponse(c, gin.H{"active": false})
		return
	}

	plan, ok := plans.ByID(*user.ActivePlanID)
	if !ok {
		successResponse(c, gin.H{"active": false})
		return
	}

	successResponse(c, gin.H{
		"active":       true,
		"plan":         plan,
		"activated_at": user.PlanActivatedAt,
	})
}

// handleListPlans returns the public plan catalog
func (s *Server) handleListPlans(c *gin.Context) {
	successResponse(c, plans.Catalog)
}

// handleActivatePlan activates a plan directly, for the free trial tier.
// Paid tiers are activated through deposit approval.
func (s *Server) handleActivatePlan(c *gin.Context) {
	var req struct {
		PlanID int `json:"plan_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	plan, ok := plans.ByID(req.PlanID)
	if !ok {
		engineErrorResponse(c, engine.ErrPlanNotFound)
		return
	}
	if !plan.Trial {
		errorResponse(c, http.StatusForbidden, "paid plans are activated through an approved deposit")
		return
	}

	userID := auth.GetUserID(c)
	user, err := s.repo.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		engineErrorResponse(c, err)
		return
	}
	if user == nil {
		engineErrorResponse(c, engine.ErrUserNotFound)
		return
	}
	if user.Status == database.AccountBlocked {
		engineErrorResponse(c, engine.ErrAccountBlocked)
		return
	}

	if err := s.plans.Activate(c.Request.Context(), userID, req.PlanID); err != nil {
		engineErrorResponse(c, err)
		return
	}
	successResponse(c, gin.H{"activated": true, "plan": plan})
}
