package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"redscout/pkg/config"
	"redscout/pkg/jwtutil"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminRequest(t *testing.T, adminKey string, prepare func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/admin/workspaces", nil)
	if prepare != nil {
		prepare(req)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := AdminAuth(adminKey)(func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"ok": true})
	})
	require.NoError(t, handler(c))
	return rec
}

func TestAdminAuthHeaderKey(t *testing.T) {
	rec := adminRequest(t, "secret-admin", func(req *http.Request) {
		req.Header.Set("X-Admin-Key", "secret-admin")
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAuthQueryKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/admin/workspaces?key=secret-admin", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := AdminAuth("secret-admin")(func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"ok": true})
	})
	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAuthWrongKey(t *testing.T) {
	rec := adminRequest(t, "secret-admin", func(req *http.Request) {
		req.Header.Set("X-Admin-Key", "wrong")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAuthMissingCredentials(t *testing.T) {
	rec := adminRequest(t, "secret-admin", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAuthUnconfigured(t *testing.T) {
	rec := adminRequest(t, "", func(req *http.Request) {
		req.Header.Set("X-Admin-Key", "anything")
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminAuthBearerToken(t *testing.T) {
	jwtutil.Initialize(&config.JWTConfig{
		SigningKey:     "test-signing-key",
		ExpirationTime: time.Hour,
	})

	token, err := jwtutil.GenerateAdminToken()
	require.NoError(t, err)

	rec := adminRequest(t, "secret-admin", func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = adminRequest(t, "secret-admin", func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer not-a-token")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
