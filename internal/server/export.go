package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	accountdomain "github.com/smallbiznis/luc/internal/account/domain"
)

const maxImportBytes = 16 << 20

func (s *Server) Export(c *gin.Context) {
	format, err := accountdomain.ParseExportFormat(c.Query("format"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	file, err := s.accounts.Export(c.Request.Context(), userIDParam(c), format)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Data(http.StatusOK, file.ContentType, file.Body)
}

// Import replaces the account with an exported envelope. The path user id
// wins over the one inside the envelope.
func (s *Server) Import(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, newValidationError("body", "too_large", "import body too large"))
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	acct, err := s.accounts.Import(c.Request.Context(), userIDParam(c), body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": acct})
}
