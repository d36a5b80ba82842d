package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

var objectIDPattern = regexp.MustCompile(`(?i)^[a-f0-9]{24}$`)

// ObjectIDParams rejects a request before it reaches the handler if
// any of the named path parameters isn't a 24-hex-digit id. Routes that
// take no id params, or whose id has a different shape, simply don't
// install this middleware.
func ObjectIDParams(params ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range params {
			v := c.Param(name)
			if v == "" || !objectIDPattern.MatchString(v) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":      "invalid_id",
					"message":    "Path parameter " + name + " is not a valid id",
					"request_id": RequestIDFromContext(c),
				})
				return
			}
		}
		c.Next()
	}
}
