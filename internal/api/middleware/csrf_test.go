package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newCSRFRouter(cfg CSRFConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CSRFOriginGate(cfg))
	router.POST("/orders", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/orders", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func TestCSRFOriginGate_AllowsSafeMethodWithoutOrigin(t *testing.T) {
	router := newCSRFRouter(CSRFConfig{AllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCSRFOriginGate_RejectsStateChangeWithoutOrigin(t *testing.T) {
	router := newCSRFRouter(CSRFConfig{AllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCSRFOriginGate_AllowsMatchingOrigin(t *testing.T) {
	router := newCSRFRouter(CSRFConfig{AllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader("{}"))
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCSRFOriginGate_FallsBackToReferer(t *testing.T) {
	router := newCSRFRouter(CSRFConfig{AllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader("{}"))
	req.Header.Set("Referer", "https://app.example.com/checkout")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCSRFOriginGate_RejectsFormEncodedInProduction(t *testing.T) {
	router := newCSRFRouter(CSRFConfig{AllowedOrigins: []string{"https://app.example.com"}, Environment: "production"})

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader("a=1"))
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestCSRFOriginGate_SkipsConfiguredPrefix(t *testing.T) {
	router := newCSRFRouter(CSRFConfig{AllowedOrigins: []string{"https://app.example.com"}, SkipPrefixes: []string{"/orders"}})

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
