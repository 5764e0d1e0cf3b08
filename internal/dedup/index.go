package dedup

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// bandIndex buckets signature bands so near-duplicate lookups touch only
// the handles sharing at least one band hash. Each band carries its own
// lock; inserts and lookups for different bands never contend.
type bandIndex struct {
	rows   int
	shards []bandShard
}

type bandShard struct {
	mu      sync.RWMutex
	buckets map[uint64][]int
}

func newBandIndex(bands, rows int) *bandIndex {
	ix := &bandIndex{
		rows:   rows,
		shards: make([]bandShard, bands),
	}
	for i := range ix.shards {
		ix.shards[i].buckets = make(map[uint64][]int)
	}
	return ix
}

// bandKey hashes one band of the signature into a bucket key.
func (ix *bandIndex) bandKey(sig []uint64, band int) uint64 {
	var d xxhash.Digest
	var buf [8]byte
	for _, v := range sig[band*ix.rows : (band+1)*ix.rows] {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// candidates returns the deduplicated union of handles colliding with the
// signature in any band.
func (ix *bandIndex) candidates(sig []uint64) []int {
	seen := make(map[int]struct{})
	var out []int
	for band := range ix.shards {
		key := ix.bandKey(sig, band)
		shard := &ix.shards[band]
		shard.mu.RLock()
		for _, h := range shard.buckets[key] {
			if _, ok := seen[h]; !ok {
				seen[h] = struct{}{}
				out = append(out, h)
			}
		}
		shard.mu.RUnlock()
	}
	return out
}

// insert registers the handle under every band bucket of the signature.
func (ix *bandIndex) insert(sig []uint64, handle int) {
	for band := range ix.shards {
		key := ix.bandKey(sig, band)
		shard := &ix.shards[band]
		shard.mu.Lock()
		shard.buckets[key] = append(shard.buckets[key], handle)
		shard.mu.Unlock()
	}
}
