package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/pkg/fingerprint"
)

// AutomationDetector runs the header-based automation heuristic on
// every request and stashes the result in context for downstream
// consumers (the enhanced-auth rate-limit tier sizes itself off this).
// By default it only logs; when block is true (wired on the
// login/register/2fa endpoints) a high-confidence match is rejected
// outright.
func AutomationDetector(logger *zap.Logger, block bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Request.Header
		result := fingerprint.DetectAutomation(fingerprint.AutomationRequest{
			UserAgent:      h.Get("User-Agent"),
			AcceptLanguage: h.Get("Accept-Language"),
			Accept:         h.Get("Accept"),
			AcceptEncoding: h.Get("Accept-Encoding"),
			SecFetchSite:   h.Get("Sec-Fetch-Site"),
			SecFetchMode:   h.Get("Sec-Fetch-Mode"),
			SecFetchDest:   h.Get("Sec-Fetch-Dest"),
			Connection:     h.Get("Connection"),
		})
		c.Set(ctxAutomation, result)

		if result.IsAutomated {
			logger.Info("automation detector flagged request",
				zap.Int("confidence", result.Confidence),
				zap.Strings("reasons", result.Reasons),
				zap.String("path", c.Request.URL.Path),
				zap.String("ip", c.ClientIP()))
		}

		if block && result.IsAutomated && result.Confidence >= 80 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":      "automated_client_blocked",
				"message":    "Request blocked",
				"request_id": RequestIDFromContext(c),
			})
			return
		}

		c.Next()
	}
}

// AutomationResult returns the result AutomationDetector stored for
// this request, and whether the middleware ran at all.
func AutomationResult(c *gin.Context) (fingerprint.AutomationResult, bool) {
	v, ok := c.Get(ctxAutomation)
	if !ok {
		return fingerprint.AutomationResult{}, false
	}
	r, ok := v.(fingerprint.AutomationResult)
	return r, ok
}
