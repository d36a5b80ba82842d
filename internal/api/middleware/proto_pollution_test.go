package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newPollutionRouter(mode PollutionMode) (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(PrototypePollutionGuard(mode))
	var captured string
	router.POST("/items", func(c *gin.Context) {
		body, _ := c.GetRawData()
		captured = string(body)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router, &captured
}

func TestPrototypePollutionGuard_BlocksDeniedKey(t *testing.T) {
	router, _ := newPollutionRouter(PollutionBlock)

	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{"__proto__":{"admin":true}}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPrototypePollutionGuard_SanitizesDeniedKey(t *testing.T) {
	router, captured := newPollutionRouter(PollutionSanitize)

	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{"name":"widget","constructor":{"x":1}}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, *captured, "widget")
	assert.NotContains(t, *captured, "constructor")
}

func TestPrototypePollutionGuard_AllowsCleanBody(t *testing.T) {
	router, _ := newPollutionRouter(PollutionBlock)

	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{"name":"widget"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPrototypePollutionGuard_BlocksDeniedQueryKey(t *testing.T) {
	router, _ := newPollutionRouter(PollutionBlock)

	req := httptest.NewRequest(http.MethodPost, "/items?__proto__=1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
