package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimitedRouter(t *testing.T, perSecond float64, burst int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	require.NoError(t, router.SetTrustedProxies(nil))
	router.Use(ClientID("uid", 60))
	router.PUT("/submit", SubmitRateLimit(perSecond, burst), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	return router
}

func put(router *gin.Engine, remoteAddr, uid string, headers map[string]string) int {
	req := httptest.NewRequest(http.MethodPut, "/submit", nil)
	req.RemoteAddr = remoteAddr
	if uid != "" {
		req.AddCookie(&http.Cookie{Name: "uid", Value: uid})
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestSubmitRateLimit_CookielessCallersShareTheirAddress(t *testing.T) {
	router := newLimitedRouter(t, 0.001, 1)

	var codes []int
	for i := 0; i < 5; i++ {
		codes = append(codes, put(router, "198.51.100.7:4000", "", nil))
	}
	assert.Equal(t, []int{201, 429, 429, 429, 429}, codes)
}

func TestSubmitRateLimit_RotatingIDsDoNotHelp(t *testing.T) {
	router := newLimitedRouter(t, 0.001, 1)

	assert.Equal(t, http.StatusCreated, put(router, "198.51.100.7:4000", "a", nil))
	assert.Equal(t, http.StatusTooManyRequests, put(router, "198.51.100.7:4001", "b", nil))
	assert.Equal(t, http.StatusTooManyRequests, put(router, "198.51.100.7:4002", "c",
		map[string]string{"X-Forwarded-For": "203.0.113.9"}), "untrusted forwarding headers are ignored")

	assert.Equal(t, http.StatusCreated, put(router, "198.51.100.8:4000", "a", nil))
}

func TestSubmitRateLimit_Disabled(t *testing.T) {
	router := newLimitedRouter(t, 0, 1)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusCreated, put(router, "198.51.100.7:4000", "", nil))
	}
}

func TestSubmitLimiter_EvictsIdleVisitors(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := newSubmitLimiter(1, 5)
	l.now = func() time.Time { return now }
	require.Equal(t, time.Minute, l.idleTTL)

	assert.True(t, l.allow("198.51.100.1"))
	assert.True(t, l.allow("198.51.100.2"))
	assert.Equal(t, 2, l.size())

	now = now.Add(30 * time.Second)
	assert.True(t, l.allow("198.51.100.2"))

	now = now.Add(45 * time.Second)
	assert.True(t, l.allow("198.51.100.3"))
	assert.Equal(t, 2, l.size(), "only the idle visitor is dropped")
}
