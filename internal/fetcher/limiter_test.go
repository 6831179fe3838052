package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainLimiterSpacesSameHost(t *testing.T) {
	limiter := NewDomainLimiter(40*time.Millisecond, RateLimiterSettings{})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Wait(ctx, "Example.com"))
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	start = time.Now()
	require.NoError(t, limiter.Wait(ctx, "other.example"))
	assert.Less(t, time.Since(start), 40*time.Millisecond)
}

func TestDomainLimiterHonoursCancellation(t *testing.T) {
	limiter := NewDomainLimiter(time.Hour, RateLimiterSettings{})
	require.NoError(t, limiter.Wait(context.Background(), "example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, limiter.Wait(ctx, "example.com"), context.DeadlineExceeded)
}

func TestDomainLimiterDisabled(t *testing.T) {
	var nilLimiter *DomainLimiter
	assert.NoError(t, nilLimiter.Wait(context.Background(), "example.com"))
	assert.NoError(t, NewDomainLimiter(0, RateLimiterSettings{}).Wait(context.Background(), "example.com"))
}
