package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestStore_PerKeyBuckets(t *testing.T) {
	s := NewStore(rate.Every(time.Hour), 2, time.Minute)

	assert.True(t, s.Allow("a"))
	assert.True(t, s.Allow("a"))
	assert.False(t, s.Allow("a"), "burst spent")
	assert.True(t, s.Allow("b"), "other keys are independent")
	assert.Equal(t, 2, s.Len())
}

func TestStore_WaitHonoursContext(t *testing.T) {
	s := NewStore(rate.Every(time.Hour), 1, time.Minute)
	assert.NoError(t, s.Wait(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, s.Wait(ctx, "k"))
}

func TestStore_CleanupDropsIdleKeys(t *testing.T) {
	s := NewStore(rate.Inf, 1, time.Minute)
	s.Allow("old")

	s.cleanup(time.Now())
	assert.Equal(t, 1, s.Len())

	s.cleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, s.Len())
}
