package mailfetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsBurstThenThrottles(t *testing.T) {
	rl := NewRateLimiter(3, time.Second, 0)

	for i := 0; i < 3; i++ {
		ok, _ := rl.Allow()
		assert.True(t, ok, "request %d within burst should be allowed", i)
	}

	ok, wait := rl.Allow()
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
}

func TestRateLimiter_Wait_RespectsContextCancellation(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, 0)
	ok, _ := rl.Allow()
	assert.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiter_MinIntervalSmoothsBurst(t *testing.T) {
	rl := NewRateLimiter(100, time.Minute, 50*time.Millisecond)
	ok, _ := rl.Allow()
	assert.True(t, ok)

	ok, wait := rl.Allow()
	assert.False(t, ok)
	assert.LessOrEqual(t, wait, 50*time.Millisecond)
}
