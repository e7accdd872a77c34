package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var base = time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)

func TestAllowTwoPerSecond(t *testing.T) {
	l := New(2, time.Second)

	assert.True(t, l.Allow("alice", base))
	assert.True(t, l.Allow("alice", base.Add(100*time.Millisecond)))
	assert.False(t, l.Allow("alice", base.Add(200*time.Millisecond)))
}

func TestAllowThreeWithinWindowRegardlessOfOrder(t *testing.T) {
	offsets := [][]time.Duration{
		{0, 300 * time.Millisecond, 900 * time.Millisecond},
		{900 * time.Millisecond, 0, 300 * time.Millisecond},
		{500 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond},
	}
	for _, order := range offsets {
		l := New(2, time.Second)
		admitted := 0
		for _, off := range order {
			if l.Allow("alice", base.Add(off)) {
				admitted++
			}
		}
		assert.Equal(t, 2, admitted, "order %v", order)
	}
}

func TestAllowBoundaryIsExclusive(t *testing.T) {
	l := New(2, time.Second)
	assert.True(t, l.Allow("alice", base))
	assert.True(t, l.Allow("alice", base.Add(10*time.Millisecond)))

	// exactly one window after the first admit, that entry no longer counts
	assert.True(t, l.Allow("alice", base.Add(time.Second)))
	assert.False(t, l.Allow("alice", base.Add(time.Second+5*time.Millisecond)))
}

func TestRejectionDoesNotExtendWindow(t *testing.T) {
	l := New(2, time.Second)
	assert.True(t, l.Allow("alice", base))
	assert.True(t, l.Allow("alice", base.Add(100*time.Millisecond)))
	for i := 0; i < 5; i++ {
		assert.False(t, l.Allow("alice", base.Add(time.Duration(200+i*100)*time.Millisecond)))
	}
	assert.True(t, l.Allow("alice", base.Add(1100*time.Millisecond)))
}

func TestIdentitiesAreIndependent(t *testing.T) {
	l := New(2, time.Second)
	assert.True(t, l.Allow("alice", base))
	assert.True(t, l.Allow("alice", base))
	assert.False(t, l.Allow("alice", base))
	assert.True(t, l.Allow("bob", base))
}

func TestConcurrentAllowAdmitsExactlyLimit(t *testing.T) {
	l := New(2, time.Second)
	var admitted atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("alice", base) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(2), admitted.Load())
}

func TestSweepDropsIdleIdentities(t *testing.T) {
	l := New(2, time.Second)
	l.Allow("alice", base)
	l.Allow("bob", base.Add(900*time.Millisecond))

	removed := l.Sweep(base.Add(1500 * time.Millisecond))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, l.Tracked())
}

func TestNewFallsBackToDefaults(t *testing.T) {
	l := New(0, 0)
	assert.Equal(t, DefaultLimit, l.limit)
	assert.Equal(t, DefaultWindow, l.window)
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "At most 2 send_message calls may be invoked every second", New(2, time.Second).Message())
	assert.Equal(t, "At most 5 send_message calls may be invoked every 1m0s", New(5, time.Minute).Message())
}
