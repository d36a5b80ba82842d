package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// JSONBodyLimit caps JSON/urlencoded request bodies at 10 KB. The
// webhook route is size-capped separately at a larger ceiling
// (payments.MaxWebhookBodyBytes) since it carries a provider-signed
// raw payload and is never routed through this middleware.
const JSONBodyLimit = 10 * 1024

// BodySizeLimit wraps the request body in http.MaxBytesReader so an
// oversized body fails fast as a read error instead of being buffered
// in full first.
func BodySizeLimit(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		c.Next()
	}
}
