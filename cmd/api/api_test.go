package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"noodle-backend/internal/app"
	"noodle-backend/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protectedRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", AuthMiddleware(secret), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("subject"))
	})
	return r
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := protectedRouter("s3cret")

	token, err := IssueToken("s3cret", "operator", time.Hour)
	require.NoError(t, err)
	w := get(r, "/whoami", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "operator", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, get(r, "/whoami", "").Code)

	forged, err := IssueToken("other", "operator", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/whoami", forged).Code)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/whoami", expired).Code)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Token "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func newTestHandler(t *testing.T, secret string) *Handler {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Env:          "test",
		APIJWTSecret: secret,
		Database:     config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "api.db")},
		AI:           config.AIConfig{Provider: "ollama", OllamaBaseURL: "http://127.0.0.1:1"},
		Pipeline:     config.PipelineConfig{Workers: 1, QueueSize: 4},
		Sync:         config.SyncConfig{Connector: "none"},
	}
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return NewHandler(a)
}

func TestRoutes(t *testing.T) {
	h := newTestHandler(t, "")

	assert.Equal(t, http.StatusOK, get(h.Router(), "/api/health", "").Code)
	assert.Equal(t, http.StatusOK, get(h.Router(), "/api/stats", "").Code)
	assert.Equal(t, http.StatusOK, get(h.Router(), "/api/emails", "").Code)
	assert.Equal(t, http.StatusOK, get(h.Router(), "/api/prompts", "").Code)
	assert.Equal(t, http.StatusOK, get(h.Router(), "/api/settings/ollama", "").Code)
	assert.Equal(t, http.StatusNotFound, get(h.Router(), "/api/emails/42", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(h.Router(), "/api/sync", "").Code)
}

func TestRoutes_RequireTokenWhenConfigured(t *testing.T) {
	h := newTestHandler(t, "s3cret")

	assert.Equal(t, http.StatusOK, get(h.Router(), "/api/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(h.Router(), "/api/stats", "").Code)

	token, err := IssueToken("s3cret", "cli", 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get(h.Router(), "/api/stats", token).Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t, "")
	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
