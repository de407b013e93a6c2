package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	accountdomain "github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/pkg/db/pagination"
)

type changePlanRequest struct {
	PlanID string `json:"plan_id"`
}

func (s *Server) GetCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"services":    s.catalog.Services(),
		"plans":       s.catalog.Plans(),
		"presets":     s.catalog.Presets(),
		"defaultPlan": s.catalog.DefaultPlanID(),
		"alerts":      s.catalog.Alerts(),
	}})
}

func (s *Server) ListAccounts(c *gin.Context) {
	var query struct {
		pagination.Pagination
		PlanID string `form:"plan_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	offset, err := query.Offset()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limit := query.Limit()

	items, err := s.accounts.List(c.Request.Context(), accountdomain.ListFilter{
		PlanID: strings.TrimSpace(query.PlanID),
		Limit:  limit + 1,
		Offset: offset,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, pageInfo := pagination.BuildOffsetPageInfo(items, offset, limit)
	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": pageInfo})
}

// GetAccount creates the account on first sight, on plan_id or the default plan.
func (s *Server) GetAccount(c *gin.Context) {
	ctx := c.Request.Context()
	acct, err := s.accounts.GetOrCreate(ctx, userIDParam(c), strings.TrimSpace(c.Query("plan_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.accounts.Summary(ctx, acct.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"account": acct,
		"summary": summary,
	}})
}

func (s *Server) DeleteAccount(c *gin.Context) {
	if err := s.accounts.Delete(c.Request.Context(), userIDParam(c)); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) ChangePlan(c *gin.Context) {
	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	planID := strings.TrimSpace(req.PlanID)
	if planID == "" {
		AbortWithError(c, newValidationError("plan_id", "required", "plan_id is required"))
		return
	}

	acct, err := s.accounts.ChangePlan(c.Request.Context(), userIDParam(c), planID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": acct})
}

func (s *Server) ResetBillingCycle(c *gin.Context) {
	acct, err := s.accounts.ResetBillingCycle(c.Request.Context(), userIDParam(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": acct})
}

func (s *Server) History(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}
	n := 0
	if limit != nil {
		n = *limit
	}

	entries, err := s.accounts.History(c.Request.Context(), userIDParam(c), n)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (s *Server) Stats(c *gin.Context) {
	stats, err := s.accounts.Stats(c.Request.Context(), userIDParam(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}
