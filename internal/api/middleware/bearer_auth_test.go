package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/internal/domain/entities"
	"github.com/railguard/sentinel/pkg/fingerprint"
	"github.com/railguard/sentinel/pkg/tokens"
)

type fakeUserLookup struct {
	user *entities.User
}

func (f *fakeUserLookup) GetByID(ctx context.Context, id string) (*entities.User, error) {
	if f.user == nil || f.user.ID != id {
		return nil, nil
	}
	return f.user, nil
}

func newTestTokenService(t *testing.T) *tokens.Service {
	t.Helper()
	accessKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	refreshKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return tokens.NewService(accessKey, &accessKey.PublicKey, refreshKey, &refreshKey.PublicKey, 0, 0)
}

func newBearerRouter(tokenSvc *tokens.Service, users UserLookup, production bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(BearerAuth(tokenSvc, users, zap.NewNop(), production))
	router.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c)})
	})
	return router
}

func requestWithBrowserHeaders(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 test-agent")
	req.Header.Set("Accept-Language", "en-US")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.RemoteAddr = "203.0.113.5:443"
	return req
}

func TestBearerAuth_AcceptsValidTokenWithMatchingFingerprint(t *testing.T) {
	tokenSvc := newTestTokenService(t)
	user := &entities.User{ID: "user-1", Email: "a@example.com", Role: entities.RoleUser, TokenVersion: 1}
	users := &fakeUserLookup{user: user}

	req := requestWithBrowserHeaders(http.MethodGet, "/me")
	signals := fingerprint.SignalsFromRequest(req, "203.0.113.5", "")
	fp := fingerprint.Enhanced(signals)

	token, err := tokenSvc.SignAccess(tokens.UserForToken{ID: user.ID, Email: user.Email, Role: string(user.Role), TokenVersion: user.TokenVersion}, fp, "203.0.113.5")
	require.NoError(t, err)

	router := newBearerRouter(tokenSvc, users, false)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "user-1")
}

func TestBearerAuth_RejectsMissingToken(t *testing.T) {
	tokenSvc := newTestTokenService(t)
	router := newBearerRouter(tokenSvc, &fakeUserLookup{}, false)

	req := requestWithBrowserHeaders(http.MethodGet, "/me")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerAuth_RejectsTokenVersionMismatch(t *testing.T) {
	tokenSvc := newTestTokenService(t)
	user := &entities.User{ID: "user-1", Email: "a@example.com", Role: entities.RoleUser, TokenVersion: 2}
	users := &fakeUserLookup{user: user}

	req := requestWithBrowserHeaders(http.MethodGet, "/me")
	signals := fingerprint.SignalsFromRequest(req, "203.0.113.5", "")
	fp := fingerprint.Enhanced(signals)

	token, err := tokenSvc.SignAccess(tokens.UserForToken{ID: user.ID, Email: user.Email, Role: string(user.Role), TokenVersion: 1}, fp, "203.0.113.5")
	require.NoError(t, err)

	router := newBearerRouter(tokenSvc, users, false)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerAuth_RejectsHardFingerprintMismatchInProduction(t *testing.T) {
	tokenSvc := newTestTokenService(t)
	user := &entities.User{ID: "user-1", Email: "a@example.com", Role: entities.RoleUser, TokenVersion: 1}
	users := &fakeUserLookup{user: user}

	token, err := tokenSvc.SignAccess(tokens.UserForToken{ID: user.ID, Email: user.Email, Role: string(user.Role), TokenVersion: 1}, "totally-different-fingerprint", "203.0.113.5")
	require.NoError(t, err)

	router := newBearerRouter(tokenSvc, users, true)
	req := requestWithBrowserHeaders(http.MethodGet, "/me")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerAuth_AcceptsLegacyFingerprintGracePath(t *testing.T) {
	tokenSvc := newTestTokenService(t)
	user := &entities.User{ID: "user-1", Email: "a@example.com", Role: entities.RoleUser, TokenVersion: 1}
	users := &fakeUserLookup{user: user}

	req := requestWithBrowserHeaders(http.MethodGet, "/me")
	legacy := fingerprint.Legacy(req.Header.Get("User-Agent"), "203.0.113.5")

	token, err := tokenSvc.SignAccess(tokens.UserForToken{ID: user.ID, Email: user.Email, Role: string(user.Role), TokenVersion: 1}, legacy, "203.0.113.5")
	require.NoError(t, err)

	router := newBearerRouter(tokenSvc, users, true)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}
