package server

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPLimiterThrottlesPerAddress(t *testing.T) {
	limiter := newIPLimiter(2, time.Hour)

	require.True(t, limiter.allow("10.0.0.1:1111"))
	require.True(t, limiter.allow("10.0.0.1:2222"), "the budget is per host, not per port")
	assert.False(t, limiter.allow("10.0.0.1:3333"))

	assert.True(t, limiter.allow("10.0.0.2:1111"), "other addresses keep their own budget")
}

func TestIPLimiterEvictsIdleBuckets(t *testing.T) {
	limiter := newIPLimiter(5, 50*time.Millisecond)

	for i := 0; i < 100; i++ {
		require.True(t, limiter.allow(fmt.Sprintf("10.1.0.%d:1234", i)))
	}
	limiter.mu.Lock()
	size := len(limiter.buckets)
	limiter.mu.Unlock()
	require.Equal(t, 100, size)

	// After a full idle window the next request sweeps the stale buckets.
	time.Sleep(60 * time.Millisecond)
	require.True(t, limiter.allow("10.2.0.1:1234"))

	limiter.mu.Lock()
	size = len(limiter.buckets)
	limiter.mu.Unlock()
	assert.Equal(t, 1, size, "address churn must not grow the bucket map without bound")
}

func TestIPLimiterSweepKeepsRecentBuckets(t *testing.T) {
	limiter := newIPLimiter(5, time.Minute)

	require.True(t, limiter.allow("10.3.0.1:1234"))
	require.True(t, limiter.allow("10.3.0.2:1234"))

	// Age the first bucket past the window and make the next call sweep.
	limiter.mu.Lock()
	limiter.buckets["10.3.0.1"].lastSeen = time.Now().Add(-2 * time.Minute)
	limiter.lastSweep = time.Now().Add(-2 * time.Minute)
	limiter.mu.Unlock()

	require.True(t, limiter.allow("10.3.0.3:1234"))

	limiter.mu.Lock()
	_, stale := limiter.buckets["10.3.0.1"]
	_, fresh := limiter.buckets["10.3.0.2"]
	limiter.mu.Unlock()
	assert.False(t, stale)
	assert.True(t, fresh)
}
