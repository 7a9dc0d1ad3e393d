package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(2, 2) // 2 requests per second, burst of 2

	router := gin.New()
	router.Use(Identity(""), RateLimit(rl))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	send := func(studentID string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Student-ID", studentID)
		router.ServeHTTP(w, req)
		return w.Code
	}

	// First two requests should succeed
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, send("student-1"))
	}

	// Third request should be rate limited
	assert.Equal(t, http.StatusTooManyRequests, send("student-1"))

	// Other students have their own budget
	assert.Equal(t, http.StatusOK, send("student-2"))
	assert.Equal(t, 2, rl.Size())
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.getLimiter("ip:1.2.3.4")
	rl.getLimiter("student:a")

	assert.Equal(t, 0, rl.Cleanup(time.Hour))
	assert.Equal(t, 2, rl.Cleanup(-time.Second))
	assert.Equal(t, 0, rl.Size())
}
