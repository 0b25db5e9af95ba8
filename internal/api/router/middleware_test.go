package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientRateLimiter(t *testing.T) {
	limiter := NewClientRateLimiter(1, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	ok, _ := limiter.reserve("10.0.0.1")
	assert.True(t, ok)
	ok, _ = limiter.reserve("10.0.0.1")
	assert.True(t, ok)

	ok, wait := limiter.reserve("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	// other clients have their own bucket
	ok, _ = limiter.reserve("10.0.0.2")
	assert.True(t, ok)

	now = now.Add(time.Second)
	ok, _ = limiter.reserve("10.0.0.1")
	assert.True(t, ok)
}

func TestClientRateLimiter_SweepsIdleClients(t *testing.T) {
	limiter := NewClientRateLimiter(1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.reserve("10.0.0.1")
	limiter.reserve("10.0.0.2")
	assert.Len(t, limiter.clients, 2)

	now = now.Add(limiter.idleTTL + time.Second)
	limiter.reserve("10.0.0.3")
	assert.Len(t, limiter.clients, 1)
}
