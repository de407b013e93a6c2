package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/luc/internal/observability/logger"
)

// AccountRateLimit throttles mutating calls per account. A missing or
// disabled limiter lets everything through.
func (s *Server) AccountRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.admitRate(c, 1) {
			c.Next()
		}
	}
}

// admitRate charges n tokens to the account in the path and aborts the
// request when the bucket is short or unreachable.
func (s *Server) admitRate(c *gin.Context, n int) bool {
	if !s.limiter.Enabled() {
		return true
	}

	ctx := c.Request.Context()
	endpoint := normalizeRateLimitEndpoint(c)

	res, err := s.limiter.AllowN(ctx, userIDParam(c), n)
	if err != nil {
		logger.FromContext(ctx).Warn("account rate limit check failed", zap.Error(err))
		AbortWithError(c, ErrServiceUnavailable)
		return false
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	if !res.Allowed {
		logger.FromContext(ctx).Warn("account rate limit exceeded",
			zap.String("endpoint", endpoint),
			zap.Int("cost", n),
		)
		s.obsMetrics.RecordRateLimited(ctx, endpoint)

		retryAfter := max(int(math.Ceil(res.RetryAfter.Seconds())), 1)
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.Header("X-RateLimit-Remaining", "0")
		AbortWithError(c, ErrRateLimited)
		return false
	}
	c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	return true
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
