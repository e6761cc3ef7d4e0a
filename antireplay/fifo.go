package antireplay

import (
	"container/list"
	"sync"

	"github.com/mtgrelay/mtgproxy/mtglib"
)

// DefaultFIFOCapacity is the number of distinct handshake fingerprints kept
// in memory at once before the oldest entry is evicted to make room for a
// new one.
const DefaultFIFOCapacity = 65536

// FIFOCache is a bounded, insertion-ordered replay cache: SeenBefore never
// forgets an entry before Capacity strictly newer ones have been inserted
// after it, and it never reports a false positive - unlike a Stable Bloom
// Filter, which trades both guarantees away for constant memory.
//
// This is the anti-replay cache the handshake engine is built against.
// Capacity bounds memory (one map entry + one list node per fingerprint,
// fingerprints are fixed-size byte slices copied on insert) while still
// giving a hard guarantee: within any window of Capacity accepted
// handshakes, every repeat is caught.
type FIFOCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = oldest, back = newest
}

// NewFIFOCache builds a cache that remembers up to capacity distinct
// digests. capacity <= 0 disables the guard entirely: SeenBefore always
// returns false, matching the "replay checking disabled" deployment mode.
func NewFIFOCache(capacity int) *FIFOCache {
	return &FIFOCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// SeenBefore reports whether digest was already inserted, and inserts it if
// not. A disabled cache (capacity <= 0) always reports false without
// tracking anything.
func (c *FIFOCache) SeenBefore(digest []byte) bool {
	if c.capacity <= 0 {
		return false
	}

	key := string(digest)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return true
	}

	elem := c.order.PushBack(key)
	c.entries[key] = elem

	for len(c.entries) > c.capacity {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}

		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(string)) //nolint: forcetypeassert
	}

	return false
}

// Len returns the number of digests currently tracked.
func (c *FIFOCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

var _ mtglib.AntiReplayCache = (*FIFOCache)(nil)
