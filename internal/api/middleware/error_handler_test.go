package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/pkg/apperr"
)

func newErrorHandlerRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandler(zap.NewNop()))
	router.GET("/do", handler)
	return router
}

func TestErrorHandler_TranslatesAppError(t *testing.T) {
	router := newErrorHandlerRouter(func(c *gin.Context) {
		_ = c.Error(apperr.FraudGate("fraud_gate", "payment blocked"))
	})

	req := httptest.NewRequest(http.MethodGet, "/do", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "fraud_gate")
}

func TestErrorHandler_FallsBackOnUnknownError(t *testing.T) {
	router := newErrorHandlerRouter(func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
	})

	req := httptest.NewRequest(http.MethodGet, "/do", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestErrorHandler_NoopWhenNoError(t *testing.T) {
	router := newErrorHandlerRouter(func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	req := httptest.NewRequest(http.MethodGet, "/do", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
