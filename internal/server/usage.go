package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	accountdomain "github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/catalog"
)

type usageRequest struct {
	Service     catalog.ServiceKey `json:"service"`
	Amount      *float64           `json:"amount"`
	Description string             `json:"description"`
}

type batchRequest struct {
	Items       []accountdomain.BatchItem `json:"items"`
	Description string                    `json:"description"`
}

func (s *Server) bindUsage(c *gin.Context) (accountdomain.UsageRequest, bool) {
	var req usageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return accountdomain.UsageRequest{}, false
	}
	if req.Amount == nil {
		AbortWithError(c, newValidationError("amount", "required", "amount is required"))
		return accountdomain.UsageRequest{}, false
	}
	service := serviceKey(req.Service)
	c.Set("service", string(service))
	return accountdomain.UsageRequest{
		UserID:      userIDParam(c),
		Service:     service,
		Amount:      *req.Amount,
		Description: strings.TrimSpace(req.Description),
	}, true
}

func (s *Server) bindBatch(c *gin.Context) (batchRequest, bool) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return batchRequest{}, false
	}
	for i := range req.Items {
		req.Items[i].Service = serviceKey(req.Items[i].Service)
	}
	req.Description = strings.TrimSpace(req.Description)
	return req, true
}

func (s *Server) CanExecute(c *gin.Context) {
	req, ok := s.bindUsage(c)
	if !ok {
		return
	}

	decision, err := s.accounts.CanExecute(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": decision})
}

func (s *Server) Quote(c *gin.Context) {
	req, ok := s.bindUsage(c)
	if !ok {
		return
	}

	quote, err := s.accounts.Quote(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quote})
}

// Debit answers 200 for a denied debit; success=false carries the outcome.
func (s *Server) Debit(c *gin.Context) {
	req, ok := s.bindUsage(c)
	if !ok {
		return
	}

	result, err := s.accounts.Debit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) Credit(c *gin.Context) {
	req, ok := s.bindUsage(c)
	if !ok {
		return
	}

	result, err := s.accounts.Credit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) CanExecuteBatch(c *gin.Context) {
	req, ok := s.bindBatch(c)
	if !ok {
		return
	}

	decision, err := s.accounts.CanExecuteBatch(c.Request.Context(), userIDParam(c), req.Items)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": decision})
}

func (s *Server) DebitBatch(c *gin.Context) {
	req, ok := s.bindBatch(c)
	if !ok {
		return
	}
	// One token per item; a batch is not cheaper than its single debits.
	if !s.admitRate(c, len(req.Items)) {
		return
	}

	result, err := s.accounts.DebitBatch(c.Request.Context(), userIDParam(c), req.Items, req.Description)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
