package server

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/luc/internal/catalog"
)

func parseOptionalInt(value string) (*int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, err
	}
	if parsed < 0 {
		return nil, errors.New("negative value")
	}
	return &parsed, nil
}

// userIDParam returns the raw path id; the account service validates it.
func userIDParam(c *gin.Context) string {
	return strings.TrimSpace(c.Param("userId"))
}

// serviceKey lowercases caller input; unknown keys still reach the engine.
func serviceKey(raw catalog.ServiceKey) catalog.ServiceKey {
	return catalog.ServiceKey(strings.ToLower(strings.TrimSpace(string(raw))))
}
