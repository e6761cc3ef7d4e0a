package antireplay

import (
	"github.com/OneOfOne/xxhash"
	boom "github.com/tylertreat/BoomFilters"
)

// DefaultStableBloomFilterMaxSize is the default memory budget (in bytes) for
// a probabilistic probe cache.
const DefaultStableBloomFilterMaxSize = 1024 * 1024

// DefaultStableBloomFilterErrorRate is the default false-positive rate for a
// probabilistic probe cache.
const DefaultStableBloomFilterErrorRate = 0.01

// NewStableBloomFilter returns a probabilistic "have we seen this recently"
// check backed by a Stable Bloom Filter: constant memory, a tolerated false
// positive rate, and - unlike FIFOCache - no hard recall guarantee.
//
// This is not used for the handshake replay guard (§8 property 1 requires
// zero false positives on a bounded recent window, which FIFOCache
// provides); it backs lower-stakes, high-volume pre-checks such as "has the
// maintenance cover-cert prober already probed this host in the last
// rotation period", where an occasional false positive only costs one
// redundant probe.
func NewStableBloomFilter(byteSize uint, errorRate float64) *boom.StableBloomFilter {
	if byteSize == 0 {
		byteSize = DefaultStableBloomFilterMaxSize
	}

	if errorRate <= 0 {
		errorRate = DefaultStableBloomFilterErrorRate
	}

	sf := boom.NewDefaultStableBloomFilter(byteSize*8, errorRate) //nolint: gomnd
	sf.SetHash(xxhash.New64())

	return sf
}
