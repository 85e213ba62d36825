package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuth(t *testing.T, expiry time.Duration) *service.AuthService {
	t.Helper()
	fx, err := service.DefaultFixture()
	require.NoError(t, err)
	auth, err := service.NewAuthService(&config.Config{JWTSecret: "s", JWTExpiry: expiry, BcryptCost: 4}, fx)
	require.NoError(t, err)
	return auth
}

func serve(r *gin.Engine, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTMiddleware(t *testing.T) {
	auth := newAuth(t, time.Hour)
	student, err := auth.GenerateStudentToken(1)
	require.NoError(t, err)
	proctor, err := auth.GenerateAdminToken(1, []string{service.PermissionProctor})
	require.NoError(t, err)
	viewer, err := auth.GenerateAdminToken(2, nil)
	require.NoError(t, err)

	r := gin.New()
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	r.GET("/student", RequireStudentJWT(auth), ok)
	r.GET("/ws", RequireStudentWSAuth(auth), ok)
	r.GET("/proctor", RequireAdminJWT(auth), RequirePermission(service.PermissionProctor), ok)

	assert.Equal(t, http.StatusNoContent, serve(r, "/student", student).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/student", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/student?token="+student, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/student", "garbage").Code)
	assert.Equal(t, http.StatusForbidden, serve(r, "/student", proctor).Code)

	assert.Equal(t, http.StatusNoContent, serve(r, "/ws?token="+student, "").Code)

	assert.Equal(t, http.StatusNoContent, serve(r, "/proctor", proctor).Code)
	assert.Equal(t, http.StatusNoContent, serve(r, "/proctor?token="+proctor, "").Code)
	assert.Equal(t, http.StatusForbidden, serve(r, "/proctor", viewer).Code)
	assert.Equal(t, http.StatusForbidden, serve(r, "/proctor", student).Code)
}

func TestExpiredTokenReportsExpiry(t *testing.T) {
	auth := newAuth(t, -time.Minute)
	token, err := auth.GenerateStudentToken(1)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/student", RequireStudentJWT(auth), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := serve(r, "/student", token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_EXPIRED")
}

func TestRateLimiterRefills(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rl := NewRateLimiter(fc, 2, time.Second)

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	fc.Advance(time.Second)
	assert.True(t, rl.Allow("a"))

	fc.Advance(staleAfter + time.Second)
	rl.Cleanup()
	rl.mu.Lock()
	assert.Empty(t, rl.visitors)
	rl.mu.Unlock()
}

func TestRateLimiterKeysByStudent(t *testing.T) {
	auth := newAuth(t, time.Hour)
	one, err := auth.GenerateStudentToken(1)
	require.NoError(t, err)
	two, err := auth.GenerateStudentToken(2)
	require.NoError(t, err)

	rl := NewRateLimiter(clockwork.NewFakeClock(), 1, time.Minute)
	r := gin.New()
	r.GET("/save", RequireStudentJWT(auth), rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, serve(r, "/save", one).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, "/save", one).Code)
	assert.Equal(t, http.StatusNoContent, serve(r, "/save", two).Code)
}

func TestZeroRateDisablesLimit(t *testing.T) {
	rl := NewRateLimiter(clockwork.NewFakeClock(), 0, time.Second)
	for range 100 {
		require.True(t, rl.Allow("x"))
	}
}
