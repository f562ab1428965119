// ABOUTME: Tests for the generic dedupe cache
// ABOUTME: Validates TTL expiration, size limits, eviction order, forgetting, sweeping, and concurrency

package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache[K comparable](t *testing.T, ttl time.Duration, size int) (*Cache[K], *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[K](ttl, size)
	c.now = clock.Now
	t.Cleanup(c.Close)
	return c, clock
}

type receiptKey struct {
	messageID string
	readerID  string
}

func TestCache_SeenAfterMark(t *testing.T) {
	c, _ := newTestCache[string](t, time.Minute, 10)

	assert.False(t, c.Seen("k"))
	c.Mark("k")
	assert.True(t, c.Seen("k"))
}

func TestCache_StructKeys(t *testing.T) {
	c, _ := newTestCache[receiptKey](t, time.Minute, 10)

	assert.False(t, c.CheckAndMark(receiptKey{"m1", "bob"}))
	assert.True(t, c.CheckAndMark(receiptKey{"m1", "bob"}))
	assert.False(t, c.CheckAndMark(receiptKey{"m1", "carol"}))
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache[string](t, time.Minute, 10)

	c.Mark("k")
	clock.Advance(59 * time.Second)
	assert.True(t, c.Seen("k"))

	clock.Advance(time.Second)
	assert.False(t, c.Seen("k"))
	assert.False(t, c.CheckAndMark("k"), "expired key is treated as new")
	assert.True(t, c.Seen("k"))
}

func TestCache_MarkRefreshes(t *testing.T) {
	c, clock := newTestCache[string](t, time.Minute, 10)

	c.Mark("k")
	clock.Advance(40 * time.Second)
	c.Mark("k")
	clock.Advance(40 * time.Second)
	assert.True(t, c.Seen("k"))
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	c, clock := newTestCache[string](t, time.Hour, 3)

	c.Mark("a")
	clock.Advance(time.Second)
	c.Mark("b")
	clock.Advance(time.Second)
	c.Mark("c")
	clock.Advance(time.Second)
	c.Mark("a") // refresh moves a to the back
	c.Mark("d") // evicts b

	assert.Equal(t, 3, c.Len())
	assert.True(t, c.Seen("a"))
	assert.False(t, c.Seen("b"))
	assert.True(t, c.Seen("c"))
	assert.True(t, c.Seen("d"))
}

func TestCache_Forget(t *testing.T) {
	c, _ := newTestCache[string](t, time.Hour, 10)

	c.Mark("k")
	c.Forget("k")
	c.Forget("never-marked")

	assert.False(t, c.Seen("k"))
	assert.Equal(t, 0, c.Len())
	assert.False(t, c.CheckAndMark("k"))
}

func TestCache_Sweep(t *testing.T) {
	c, clock := newTestCache[string](t, time.Minute, 10)

	c.Mark("old-1")
	c.Mark("old-2")
	clock.Advance(30 * time.Second)
	c.Mark("fresh")
	clock.Advance(45 * time.Second)

	c.sweep()

	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("fresh"))
}

func TestCache_CheckAndMark_Atomic(t *testing.T) {
	c, _ := newTestCache[string](t, time.Hour, 1000)

	var firsts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.CheckAndMark("same") {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), firsts.Load(), "exactly one caller sees the key as new")
}

func TestCache_CloseIdempotent(t *testing.T) {
	c := New[string](time.Minute, 10)
	c.Close()
	c.Close()
}

func TestCache_MinimumSize(t *testing.T) {
	c, _ := newTestCache[string](t, time.Minute, 0)

	c.Mark("a")
	c.Mark("b")
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("b"))
}
