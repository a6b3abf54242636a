package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"discussion_forum/internal/pkg/config"
	"discussion_forum/pkg/response"
	"discussion_forum/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	config.GlobalConfig.JWT.Secret = "test-secret-that-is-long-enough-123456"
	config.GlobalConfig.JWT.Expire = 1

	r := gin.New()
	r.Use(TraceMiddleware())
	r.GET("/me", AuthMiddleware(), func(c *gin.Context) {
		id, name := CurrentUser(c)
		c.JSON(http.StatusOK, gin.H{"id": id, "name": name, "trace": TraceID(c.Request.Context())})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	r := newAuthEngine(t)
	token, _, err := utils.GenerateToken("u1", "alice")
	require.NoError(t, err)

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "u1", body["id"])
		assert.Equal(t, "alice", body["name"])
		assert.NotEmpty(t, body["trace"])
	})

	t.Run("query token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me?token="+token, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))

		require.Equal(t, http.StatusUnauthorized, w.Code)
		var resp response.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, response.ErrAuthFailed, resp.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Token "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("bad signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token+"x")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusUnauthorized, w.Code)
		var resp response.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, response.ErrTokenInvalid, resp.Code)
	})
}

func TestTraceMiddlewareKeepsIncomingID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, TraceID(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "trace-123", w.Body.String())
	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))
}

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	preflight := func(origins []string, origin string) *httptest.ResponseRecorder {
		r := gin.New()
		r.Use(CORSMiddleware(origins))
		r.PATCH("/posts/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodOptions, "/posts/1", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("listed origin", func(t *testing.T) {
		w := preflight([]string{"https://forum.example"}, "https://forum.example")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://forum.example", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	})

	t.Run("wildcard", func(t *testing.T) {
		w := preflight([]string{"*"}, "https://any.example")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://any.example", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unlisted origin", func(t *testing.T) {
		w := preflight([]string{"https://forum.example"}, "https://evil.example")
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}
