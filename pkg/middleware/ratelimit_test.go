package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/crewform/pkg/contextkeys"
	"github.com/platinummonkey/crewform/pkg/rbac"
)

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Second, BurstSize: 2}
	limiter := NewRateLimiter(config)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	allowedCount := 0
	for i := 0; i < config.RequestsPerWindow+config.BurstSize+5; i++ {
		if ok, _ := limiter.Allow(ctx, "user"); ok {
			allowedCount++
		}
	}
	assert.Equal(t, config.RequestsPerWindow+config.BurstSize, allowedCount)

	now = now.Add(time.Second)
	ok, err := limiter.Allow(ctx, "user")
	require.NoError(t, err)
	assert.True(t, ok, "tokens refill after a window")

	ok, _ = limiter.Allow(ctx, "other")
	assert.True(t, ok, "keys are independent")
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Second})
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Allow(context.Background(), "idle")
	now = now.Add(3 * time.Second)
	limiter.Cleanup()

	assert.Empty(t, limiter.buckets)
}

func TestRedisRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter := NewRedisRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "org:1:user:7")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "org:1:user:7")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, time.Minute, mr.TTL("crewform:ratelimit:org:1:user:7"))

	mr.FastForward(time.Minute)
	ok, err = limiter.Allow(ctx, "org:1:user:7")
	require.NoError(t, err)
	assert.True(t, ok, "the window resets")
}

func TestRedisRateLimiter_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	limiter := NewRedisRateLimiter(client, nil, "")
	mr.Close()

	ok, err := limiter.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.True(t, ok)

	handler := RateLimit(limiter)(okHandler())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_Middleware(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	handler := RateLimit(limiter)(okHandler())

	newRequest := func(userID int64) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/orgs/1/roles", nil)
		orgCtx := &rbac.OrgContext{OrganizationID: 1, TeamMember: &rbac.TeamMember{UserID: userID}}
		return r.WithContext(contextkeys.WithOrgContext(r.Context(), orgCtx))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newRequest(7))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, newRequest(7))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, newRequest(8))
	assert.Equal(t, http.StatusOK, w.Code, "another member has its own budget")
}

func TestRateLimitKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "ip:10.0.0.1:5555", rateLimitKey(r))

	keyCtx := &rbac.OrgContext{OrganizationID: 2, IsAPIKeyContext: true, APIKeyID: 9}
	r = r.WithContext(contextkeys.WithOrgContext(r.Context(), keyCtx))
	assert.Equal(t, "org:2:key:9", rateLimitKey(r))
}
