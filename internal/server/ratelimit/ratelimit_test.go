package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// newFrozen returns a limiter whose clock only moves when the test moves it.
func newFrozen(t *testing.T, config *Config) (*Limiter, *time.Time) {
	t.Helper()
	now := epoch
	l := NewLimiter(config)
	l.now = func() time.Time { return now }
	t.Cleanup(l.Stop)
	return l, &now
}

func TestLimiter_Allow(t *testing.T) {
	l, _ := newFrozen(t, &Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute})

	for i := 0; i < 10; i++ {
		allowed, info := l.Allow("127.0.0.1", "/test", "GET")
		require.True(t, allowed, "request %d", i+1)
		assert.Equal(t, 10, info.Limit)
		assert.Equal(t, 9-i, info.Remaining)
	}

	allowed, info := l.Allow("127.0.0.1", "/test", "GET")
	assert.False(t, allowed)
	assert.Equal(t, 0, info.Remaining)
	assert.Equal(t, 6*time.Second, info.RetryAfter)
	assert.True(t, info.ResetTime.After(epoch))
}

func TestLimiter_Refill(t *testing.T) {
	l, now := newFrozen(t, &Config{Enabled: true, DefaultLimit: 10, DefaultWindow: 10 * time.Second})

	for i := 0; i < 10; i++ {
		l.Allow("c", "/test", "GET")
	}
	allowed, _ := l.Allow("c", "/test", "GET")
	require.False(t, allowed)

	*now = now.Add(1100 * time.Millisecond)
	allowed, _ = l.Allow("c", "/test", "GET")
	assert.True(t, allowed)
	allowed, _ = l.Allow("c", "/test", "GET")
	assert.False(t, allowed)
}

func TestLimiter_WhitelistAndBlacklist(t *testing.T) {
	l, _ := newFrozen(t, &Config{
		Enabled:       true,
		DefaultLimit:  1,
		DefaultWindow: time.Minute,
		Whitelist:     map[string]bool{"127.0.0.1": true},
		Blacklist:     map[string]bool{"192.168.1.1": true},
	})

	for i := 0; i < 50; i++ {
		allowed, info := l.Allow("127.0.0.1", "/test", "GET")
		require.True(t, allowed)
		assert.Zero(t, info.Limit)
	}

	allowed, _ := l.Allow("192.168.1.1", "/test", "GET")
	assert.False(t, allowed)
}

func TestLimiter_Disabled(t *testing.T) {
	l, _ := newFrozen(t, &Config{Enabled: false})
	for i := 0; i < 50; i++ {
		allowed, info := l.Allow("127.0.0.1", "/api/analyze", "POST")
		require.True(t, allowed)
		assert.Zero(t, info.Limit)
	}
}

func TestLimiter_EndpointTiers(t *testing.T) {
	l, _ := newFrozen(t, &Config{
		Enabled:         true,
		DefaultLimit:    1000,
		DefaultWindow:   time.Minute,
		EndpointConfigs: DefaultEndpointConfigs(),
	})

	for i := 0; i < 5; i++ {
		allowed, info := l.Allow("c", "/api/analyze", "POST")
		require.True(t, allowed)
		assert.Equal(t, 20, info.Limit)
	}
	allowed, _ := l.Allow("c", "/api/analyze", "POST")
	assert.False(t, allowed, "burst of 5 exhausted")

	// Retries of different jobs share one tier bucket.
	for i := 0; i < 5; i++ {
		allowed, _ := l.Allow("c", fmt.Sprintf("/api/results/job%d/retry", i), "POST")
		require.True(t, allowed)
	}
	allowed, _ = l.Allow("c", "/api/results/another/retry", "POST")
	assert.False(t, allowed)

	allowed, info := l.Allow("c", "/api/results/job1", "GET")
	assert.True(t, allowed)
	assert.Equal(t, 120, info.Limit)

	allowed, info = l.Allow("c", "/api/other", "GET")
	assert.True(t, allowed)
	assert.Equal(t, 1000, info.Limit)

	allowed, _ = l.Allow("other-client", "/api/analyze", "POST")
	assert.True(t, allowed, "buckets are per client")
}

func TestLimiter_HealthIsUnlimited(t *testing.T) {
	l, _ := newFrozen(t, &Config{Enabled: true, DefaultLimit: 1, DefaultWindow: time.Hour})
	for i := 0; i < 20; i++ {
		allowed, info := l.Allow("c", "/api/health/jobs", "GET")
		require.True(t, allowed)
		assert.Zero(t, info.Limit)
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	l, _ := newFrozen(t, &Config{Enabled: true, DefaultLimit: 100, DefaultWindow: time.Minute})

	var wg sync.WaitGroup
	var allowedCount atomic.Int32
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowed, _ := l.Allow("127.0.0.1", "/test", "GET"); allowed {
				allowedCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 100, allowedCount.Load())
}

func TestLimiter_CleanupDropsIdleBuckets(t *testing.T) {
	l, now := newFrozen(t, &Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute, IdleTTL: time.Hour})

	for i := 0; i < 10; i++ {
		l.Allow(fmt.Sprintf("127.0.0.%d", i+1), "/test", "GET")
	}
	require.Equal(t, 10, l.size())

	*now = now.Add(30 * time.Minute)
	for i := 0; i < 5; i++ {
		l.Allow(fmt.Sprintf("127.0.0.%d", i+1), "/test", "GET")
	}

	*now = now.Add(45 * time.Minute)
	l.cleanupBuckets()
	assert.Equal(t, 5, l.size())
}

func TestNewLimiter_NilConfig(t *testing.T) {
	l := NewLimiter(nil)
	defer l.Stop()

	allowed, info := l.Allow("127.0.0.1", "/test", "GET")
	assert.True(t, allowed)
	assert.Equal(t, 600, info.Limit)
}

func TestLimiter_StopIsIdempotent(t *testing.T) {
	l := NewLimiter(&Config{Enabled: true, DefaultLimit: 1, DefaultWindow: time.Second, CleanupInterval: time.Millisecond})
	l.Stop()
	assert.NotPanics(t, l.Stop)
}

func TestMatchEndpoint(t *testing.T) {
	configs := DefaultEndpointConfigs()

	assert.Equal(t, "/api/analyze", MatchEndpoint("/api/analyze", "POST", configs).Path)
	assert.Equal(t, "/api/results/", MatchEndpoint("/api/results/abc/retry", "POST", configs).Path)
	assert.Equal(t, "GET", MatchEndpoint("/api/results/abc", "GET", configs).Method)
	assert.Nil(t, MatchEndpoint("/api/analyze", "GET", configs))
	assert.Zero(t, MatchEndpoint("/api/health", "GET", configs).Limit)
}

func TestLoadConfig(t *testing.T) {
	assert.False(t, LoadConfig(false).Enabled)

	t.Setenv("RATE_LIMIT_DEFAULT_LIMIT", "42")
	t.Setenv("RATE_LIMIT_WHITELIST", " 10.0.0.1, ,10.0.0.2")
	cfg := LoadConfig(true)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 42, cfg.DefaultLimit)
	assert.Equal(t, map[string]bool{"10.0.0.1": true, "10.0.0.2": true}, cfg.Whitelist)
	assert.NotEmpty(t, cfg.EndpointConfigs)
}
