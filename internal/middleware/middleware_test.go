package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suteetoe/taskapp/pkg/jwtutil"
	"github.com/suteetoe/taskapp/pkg/logger"
)

func newServer(jwtUtil *jwtutil.JWTUtil) *echo.Echo {
	e := echo.New()
	e.Use(RequestIDMiddleware)
	api := e.Group("/api", AuthMiddleware(jwtUtil))
	api.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"user_id": UserID(c)})
	})
	api.GET("/admin", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, RequireRole(jwtutil.RoleAdmin))
	return e
}

func TestAuthMiddleware(t *testing.T) {
	jwtUtil := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "test-key", ExpirationHours: 1})
	userToken, err := jwtUtil.GenerateToken("u@example.com", "u1", jwtutil.RoleUser)
	require.NoError(t, err)
	adminToken, err := jwtUtil.GenerateToken("a@example.com", "a1", jwtutil.RoleAdmin)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "missing header", path: "/api/me", want: http.StatusUnauthorized},
		{name: "not bearer", path: "/api/me", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "bad token", path: "/api/me", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "user", path: "/api/me", header: "Bearer " + userToken, want: http.StatusOK},
		{name: "user on admin route", path: "/api/admin", header: "Bearer " + userToken, want: http.StatusForbidden},
		{name: "admin on admin route", path: "/api/admin", header: "Bearer " + adminToken, want: http.StatusNoContent},
	}

	e := newServer(jwtUtil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, rec.Header().Get(logger.RequestIDKey))
		})
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	e := newServer(jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "k", ExpirationHours: 1}))
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(logger.RequestIDKey, "req-123")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(logger.RequestIDKey))
}
