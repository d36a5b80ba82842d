package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/pkg/apperr"
)

// ErrorHandler is the last middleware in the chain. Handlers never
// write an error response themselves — they call c.Error(err) and
// return; this dispatches on the error's apperr.Kind once the handler
// chain unwinds, so every error path produces the same response shape.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		appErr, ok := apperr.As(err)
		if !ok {
			logger.Error("unhandled error", zap.Error(err), zap.String("request_id", RequestIDFromContext(c)))
			c.JSON(500, gin.H{
				"error":      "internal_error",
				"message":    "An internal error occurred",
				"request_id": RequestIDFromContext(c),
			})
			return
		}

		if appErr.Kind == apperr.KindInternal {
			logger.Error("internal error",
				zap.Error(appErr.Internal),
				zap.String("code", appErr.Code),
				zap.String("request_id", RequestIDFromContext(c)))
		}

		body := gin.H{
			"error":      appErr.Code,
			"message":    appErr.Message,
			"request_id": RequestIDFromContext(c),
		}
		if len(appErr.Fields) > 0 {
			body["fields"] = appErr.Fields
		}
		c.JSON(appErr.HTTPStatus(), body)
	}
}
