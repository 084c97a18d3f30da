package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricat/metricat/pkg/auth"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 3,
		WindowDuration:    time.Minute,
		BurstSize:         1,
		MaxKeys:           100,
	})

	// 3 + 1 burst tokens available.
	for i := 0; i < 4; i++ {
		assert.True(t, rl.Allow("client"), "request %d should pass", i)
	}
	assert.False(t, rl.Allow("client"), "bucket exhausted")

	// A different key has its own bucket.
	assert.True(t, rl.Allow("other"))
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    100 * time.Millisecond,
		BurstSize:         0,
		MaxKeys:           100,
	})

	for i := 0; i < 10; i++ {
		require.True(t, rl.Allow("client"))
	}
	require.False(t, rl.Allow("client"))

	time.Sleep(150 * time.Millisecond)
	assert.True(t, rl.Allow("client"), "tokens refill with time")
}

func TestRateLimiter_Remaining(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 5,
		WindowDuration:    time.Minute,
		BurstSize:         0,
		MaxKeys:           100,
	})

	assert.Equal(t, 5, rl.Remaining("fresh"))
	rl.Allow("fresh")
	assert.Equal(t, 4, rl.Remaining("fresh"))
}

func TestRateLimiter_BoundedKeys(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Hour,
		BurstSize:         0,
		MaxKeys:           2,
	})

	require.True(t, rl.Allow("a"))
	require.False(t, rl.Allow("a"))

	// Two new keys evict "a"; its next request gets a fresh bucket
	// instead of growing the map.
	rl.Allow("b")
	rl.Allow("c")
	assert.True(t, rl.Allow("a"), "evicted key starts over")
}

func TestRateLimitMiddleware(t *testing.T) {
	m := &RateLimitMiddleware{
		userLimiter: NewRateLimiter(PerUserRateLimitConfig()),
		anonymousLimiter: NewRateLimiter(&RateLimitConfig{
			RequestsPerWindow: 2,
			WindowDuration:    time.Minute,
			BurstSize:         0,
			MaxKeys:           100,
		}),
	}
	handler := m.Handler(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/catalog", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/catalog", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")

	// Another address is unaffected.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/catalog", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_AuthenticatedKeying(t *testing.T) {
	m := &RateLimitMiddleware{
		userLimiter: NewRateLimiter(&RateLimitConfig{
			RequestsPerWindow: 1,
			WindowDuration:    time.Minute,
			BurstSize:         0,
			MaxKeys:           100,
		}),
		anonymousLimiter: NewRateLimiter(DefaultRateLimitConfig()),
	}
	handler := m.Handler(okHandler())

	send := func(userID string) int {
		rec := httptest.NewRecorder()
		req := requestAs(&auth.Identity{UserID: userID, Role: auth.RoleViewer})
		req.RemoteAddr = "10.0.0.1:1234"
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("u1"))
	assert.Equal(t, http.StatusTooManyRequests, send("u1"))
	assert.Equal(t, http.StatusOK, send("u2"), "limits are per user, not per address")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"socket peer", "192.168.1.5:4321", nil, "192.168.1.5"},
		{"x-forwarded-for", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.9"}, "203.0.113.9"},
		{"x-forwarded-for chain", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.2"}, "203.0.113.9"},
		{"x-real-ip", "10.0.0.1:1", map[string]string{"X-Real-IP": "198.51.100.7"}, "198.51.100.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
		BurstSize:         0,
		MaxKeys:           100,
	})

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				rl.Allow(fmt.Sprintf("client-%d", n%3))
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
