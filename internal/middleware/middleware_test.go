package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudfarm/internal/models"
	"cloudfarm/internal/security"
	"cloudfarm/internal/service"
)

type fakeAuth map[string]service.Identity

func (f fakeAuth) Authenticate(_ context.Context, token string) (service.Identity, error) {
	switch token {
	case "expired":
		return service.Identity{}, security.ErrTokenExpired
	case "suspended":
		return service.Identity{}, service.ErrUserSuspended
	case "broken":
		return service.Identity{}, fmt.Errorf("db down")
	}
	id, ok := f[token]
	if !ok {
		return service.Identity{}, fmt.Errorf("%w: unknown", security.ErrTokenInvalid)
	}
	return id, nil
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	auth := fakeAuth{
		"gerente": {Profile: models.Profile{ID: "u1", Roles: []string{models.RoleGerente}}},
		"viewer":  {Profile: models.Profile{ID: "u2", Roles: []string{models.RoleViewer}}},
	}

	r := gin.New()
	r.Use(RequestID(), Logger(zerolog.Nop()), Recovery(zerolog.Nop()), CORS(nil))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	api := r.Group("/api", Auth(auth))
	api.GET("/me", func(c *gin.Context) {
		id, _ := IdentityFrom(c)
		c.String(http.StatusOK, id.Profile.ID)
	})
	api.POST("/write", RequireRoles(models.RoleAdmin, models.RoleGerente), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	return r
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	r := newRouter()

	tests := []struct {
		name   string
		token  string
		status int
		body   string
	}{
		{"no header", "", http.StatusUnauthorized, `{"error":"missing_token"}`},
		{"valid", "gerente", http.StatusOK, "u1"},
		{"expired", "expired", http.StatusUnauthorized, `{"error":"token_expired"}`},
		{"unknown", "nope", http.StatusUnauthorized, `{"error":"invalid_token"}`},
		{"suspended", "suspended", http.StatusForbidden, `{"error":"user_inactive"}`},
		{"backend failure", "broken", http.StatusInternalServerError, `{"error":"internal_server_error"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, "/api/me", tt.token)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.body, w.Body.String())
		})
	}
}

func TestRequireRoles(t *testing.T) {
	r := newRouter()

	assert.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/write", "gerente").Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/api/write", "viewer").Code)
}

func TestRequestIDAndRecovery(t *testing.T) {
	r := newRouter()

	w := do(r, http.MethodGet, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter()
	req := httptest.NewRequest(http.MethodOptions, "/api/me", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	c.Request.Header.Set("Authorization", "bearer abc")
	token, ok := BearerToken(c)
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	c.Request.Header.Set("Authorization", "Basic abc")
	_, ok = BearerToken(c)
	assert.False(t, ok)
}

func TestRequestIDRejectsUnsafeValues(t *testing.T) {
	r := newRouter()

	for _, incoming := range []string{strings.Repeat("a", 65), "abc def", "id\x1b[31m"} {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.Header.Set(RequestIDHeader, incoming)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		got := rec.Header().Get(RequestIDHeader)
		assert.NotEqual(t, incoming, got)
		assert.Len(t, got, 36, "replaced with a generated uuid")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(RequestIDHeader, "cli:2Xk9_req.1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "cli:2Xk9_req.1", rec.Header().Get(RequestIDHeader))
}

func TestRecoveryTagsUserAndRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var logs strings.Builder
	log := zerolog.New(&logs)
	auth := fakeAuth{"gerente": {Profile: models.Profile{ID: "u1", Roles: []string{models.RoleGerente}}}}

	r := gin.New()
	r.Use(RequestID(), Recovery(log))
	r.GET("/api/talhoes/:id", Auth(auth), func(c *gin.Context) { panic("nil talhao") })
	r.GET("/partial", func(c *gin.Context) {
		c.String(http.StatusOK, "half")
		panic("after write")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/talhoes/t1", nil)
	req.Header.Set("Authorization", "Bearer gerente")
	req.Header.Set(RequestIDHeader, "req-7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal_server_error","request_id":"req-7"}`, w.Body.String())
	assert.Contains(t, logs.String(), `"user_id":"u1"`)
	assert.Contains(t, logs.String(), `"request_id":"req-7"`)
	assert.Contains(t, logs.String(), `"path":"/api/talhoes/:id"`)

	w = do(r, http.MethodGet, "/partial", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "half", w.Body.String())
}

func TestCORSOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), CORS([]string{" https://App.CloudFarm.test/ "}))
	r.GET("/api/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := preflight("https://app.cloudfarm.test")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.cloudfarm.test", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))

	w = preflight("https://evil.test")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://app.cloudfarm.test")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, RequestIDHeader, rec.Header().Get("Access-Control-Expose-Headers"))

	allowAll := NewOriginMatcher(nil)
	assert.True(t, allowAll("http://localhost:5173"))
}
