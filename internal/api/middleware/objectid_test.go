package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newObjectIDRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/products/:id", ObjectIDParams("id"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func TestObjectIDParams_AllowsValidHex24(t *testing.T) {
	router := newObjectIDRouter()

	req := httptest.NewRequest(http.MethodGet, "/products/507f1f77bcf86cd799439011", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestObjectIDParams_RejectsShortID(t *testing.T) {
	router := newObjectIDRouter()

	req := httptest.NewRequest(http.MethodGet, "/products/abc123", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestObjectIDParams_RejectsNonHex(t *testing.T) {
	router := newObjectIDRouter()

	req := httptest.NewRequest(http.MethodGet, "/products/zzzzzzzzzzzzzzzzzzzzzzzz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
