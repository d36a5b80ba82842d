package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/pkg/ratelimit"
)

func TestTierLimit_BlocksOnceMaxExceeded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	backend := ratelimit.NewMemoryBackend()
	router := gin.New()
	router.Use(TierLimit(backend, ratelimit.StrictTier(), zap.NewNop()))
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestEnhancedAuthLimit_UsesAutomationResultForCap(t *testing.T) {
	gin.SetMode(gin.TestMode)
	backend := ratelimit.NewMemoryBackend()
	router := gin.New()
	router.Use(AutomationDetector(zap.NewNop(), false))
	router.Use(EnhancedAuthLimit(backend, zap.NewNop()))
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Flagged automated: 3/15min cap.
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("User-Agent", "curl/8.4.0")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("User-Agent", "curl/8.4.0")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
