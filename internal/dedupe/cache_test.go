// ABOUTME: Tests for the dedupe cache used for idempotent publishing
// ABOUTME: Validates TTL expiration, size limits, eviction, cleanup, and concurrency safety

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestCache(t *testing.T, ttl time.Duration, maxSize int) (*Cache, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	cache := New(ttl, maxSize, clock)
	t.Cleanup(cache.Close)
	return cache, clock
}

func TestCache_CheckAndMark(t *testing.T) {
	cache, _ := newTestCache(t, 5*time.Minute, 100)

	// First time is new, second is a duplicate
	assert.False(t, cache.CheckAndMark("key"))
	assert.True(t, cache.CheckAndMark("key"))
	assert.False(t, cache.CheckAndMark("other"))
	assert.Equal(t, 2, cache.Len())
}

func TestCache_Expiry(t *testing.T) {
	cache, clock := newTestCache(t, 30*time.Second, 100)

	assert.False(t, cache.CheckAndMark("key"))

	clock.Advance(29 * time.Second).MustWait(t.Context())
	assert.True(t, cache.CheckAndMark("key"), "still inside the window")

	// The duplicate did not refresh the timestamp
	clock.Advance(time.Second).MustWait(t.Context())
	assert.False(t, cache.CheckAndMark("key"), "window elapsed")
}

func TestCache_Forget(t *testing.T) {
	cache, _ := newTestCache(t, 5*time.Minute, 100)

	cache.CheckAndMark("key")
	cache.Forget("key")
	cache.Forget("never-seen")

	assert.Equal(t, 0, cache.Len())
	assert.False(t, cache.CheckAndMark("key"))
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	cache, _ := newTestCache(t, 5*time.Minute, 3)

	for i := range 4 {
		cache.CheckAndMark(fmt.Sprintf("key-%d", i))
	}

	assert.Equal(t, 3, cache.Len())
	assert.False(t, cache.CheckAndMark("key-0"), "oldest key was evicted")
	assert.True(t, cache.CheckAndMark("key-3"))
}

func TestCache_CleanupSweepsExpired(t *testing.T) {
	cache, clock := newTestCache(t, 30*time.Second, 100)

	cache.CheckAndMark("old")
	clock.Advance(45 * time.Second).MustWait(t.Context())
	cache.CheckAndMark("fresh")
	assert.Equal(t, 2, cache.Len())

	// The sweep runs once a minute
	clock.Advance(15 * time.Second).MustWait(t.Context())
	assert.Equal(t, 1, cache.Len())
	assert.True(t, cache.CheckAndMark("fresh"))
}

func TestCache_Concurrent(t *testing.T) {
	cache, _ := newTestCache(t, 5*time.Minute, 1000)

	var wg sync.WaitGroup
	var firsts atomic.Int32
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !cache.CheckAndMark("shared") {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), firsts.Load(), "exactly one caller sees the key as new")
}

func TestCache_CloseIdempotent(t *testing.T) {
	cache := New(time.Minute, 10, quartz.NewMock(t))
	cache.Close()
	cache.Close()
}
