package middleware

import "github.com/gin-gonic/gin"

// Context keys set by this package's middleware and read by handlers
// further down the chain. Kept as package-level constants so a typo in
// a string literal doesn't silently create a second, disconnected key.
const (
	ctxRequestID  = "request_id"
	ctxUserID     = "user_id"
	ctxEmail      = "email"
	ctxRole       = "role"
	ctxFingerprint = "device_fingerprint"
	ctxAutomation = "automation_result"
)

// RequestIDFromContext returns the id assigned to this request by the
// RequestID middleware, or "" if the chain wasn't wired with it.
func RequestIDFromContext(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}

// UserID returns the authenticated subject, or "" before bearer auth
// has run (or on an unauthenticated route).
func UserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}
