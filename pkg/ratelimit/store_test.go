package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStore_Allow(t *testing.T) {
	// 1 rps，突发 2
	s := NewStore(1, 2, time.Minute)

	assert.True(t, s.Allow("a"))
	assert.True(t, s.Allow("a"))
	// 突发额度用完
	assert.False(t, s.Allow("a"))

	// 不同 key 互不影响
	assert.True(t, s.Allow("b"))
}

func TestStore_Cleanup(t *testing.T) {
	s := NewStore(1, 1, time.Nanosecond)
	s.Allow("stale")

	time.Sleep(time.Millisecond)
	s.cleanup()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.entries)
}
