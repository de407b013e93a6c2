package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/luc/internal/catalog"
)

type presetAccountRequest struct {
	PresetID string `json:"preset_id"`
	PlanID   string `json:"plan_id"`
}

// ListPresets filters by the optional category query parameter.
func (s *Server) ListPresets(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("category"))
	if raw == "" {
		c.JSON(http.StatusOK, gin.H{"data": s.catalog.Presets()})
		return
	}
	category, err := catalog.ParsePresetCategory(raw)
	if err != nil {
		AbortWithError(c, newValidationError("category", "invalid_category", "invalid category"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.catalog.PresetsByCategory(category)})
}

func (s *Server) GetPreset(c *gin.Context) {
	preset, ok := s.catalog.Preset(c.Param("presetId"))
	if !ok {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": preset})
}

// CreateFromPreset answers 409 when the account already exists.
func (s *Server) CreateFromPreset(c *gin.Context) {
	var req presetAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	presetID := strings.TrimSpace(req.PresetID)
	if presetID == "" {
		AbortWithError(c, newValidationError("preset_id", "required", "preset_id is required"))
		return
	}

	acct, err := s.accounts.CreateFromPreset(c.Request.Context(), userIDParam(c), presetID, strings.TrimSpace(req.PlanID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Location", fmt.Sprintf("/v1/accounts/%s", acct.UserID))
	c.JSON(http.StatusCreated, gin.H{"data": acct})
}

func (s *Server) QuoteBatch(c *gin.Context) {
	req, ok := s.bindBatch(c)
	if !ok {
		return
	}

	quotes, err := s.accounts.QuoteBatch(c.Request.Context(), userIDParam(c), req.Items)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quotes})
}

func (s *Server) Alerts(c *gin.Context) {
	alerts, err := s.accounts.Alerts(c.Request.Context(), userIDParam(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": alerts})
}
