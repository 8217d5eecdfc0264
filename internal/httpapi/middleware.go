package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	authorizationHeaderName = "Authorization"
	bearerTokenPrefix       = "Bearer "

	errorValueAdminDisabled = "admin_disabled"
	errorValueMissingBearer = "missing_bearer"
	errorValueForbidden     = "forbidden"
)

// RequestLogger writes one structured line per request. Request bodies are never logged.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(context *gin.Context) {
		start := time.Now()
		context.Next()
		logger.Info("http",
			zap.String("method", context.Request.Method),
			zap.String("path", context.Request.URL.Path),
			zap.Int("status", context.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("ip", context.ClientIP()),
			zap.String("ua", context.Request.UserAgent()),
		)
	}
}

// AdminAuthMiddleware guards the archive endpoints with a static bearer token.
func AdminAuthMiddleware(adminBearerToken string) gin.HandlerFunc {
	expected := strings.TrimSpace(adminBearerToken)
	return func(context *gin.Context) {
		if expected == "" {
			context.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueAdminDisabled})
			return
		}
		authorizationHeader := strings.TrimSpace(context.GetHeader(authorizationHeaderName))
		if !strings.HasPrefix(authorizationHeader, bearerTokenPrefix) {
			context.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{jsonKeyError: errorValueMissingBearer})
			return
		}
		provided := strings.TrimSpace(strings.TrimPrefix(authorizationHeader, bearerTokenPrefix))
		if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			context.AbortWithStatusJSON(http.StatusForbidden, gin.H{jsonKeyError: errorValueForbidden})
			return
		}
		context.Next()
	}
}
