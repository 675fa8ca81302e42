package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michalprusek/spheroseg-sub008/api/middleware"
)

func TestRateLimiterAllow(t *testing.T) {
	limiter := middleware.NewRateLimiter(3, 100*time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("10.0.0.1"), "request %d within limit", i)
	}
	assert.False(t, limiter.Allow("10.0.0.1"), "fourth request rejected")

	// Keys are budgeted independently.
	assert.True(t, limiter.Allow("10.0.0.2"))

	// A fresh window resets the counter.
	time.Sleep(120 * time.Millisecond)
	assert.True(t, limiter.Allow("10.0.0.1"))
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(middleware.RateLimit(middleware.NewRateLimiter(2, time.Minute)))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate limit exceeded")
	assert.Contains(t, w.Body.String(), "retry_after")
}

func TestEndpointRateLimiterScopesByPath(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := middleware.NewEndpointRateLimiter()
	limiter.AddEndpoint("/write", 1, time.Minute)

	router := gin.New()
	router.Use(limiter.Middleware())
	router.GET("/write", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/read", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/write", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/write", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Unlimited paths are unaffected.
	for i := 0; i < 5; i++ {
		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/read", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}
