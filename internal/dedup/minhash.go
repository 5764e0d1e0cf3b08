package dedup

import (
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// minhashSeed fixes the hash family so signatures are stable across
// restarts; signatures persisted against one seed stay comparable.
const minhashSeed = 0x9e3779b97f4a7c15

// hashParams is one member of the multiply-shift hash family.
type hashParams struct {
	a uint64
	b uint64
}

// newHashParams derives k independent hash functions from a splitmix64
// stream over the fixed seed.
func newHashParams(k int) []hashParams {
	params := make([]hashParams, k)
	state := uint64(minhashSeed)
	for i := range params {
		params[i] = hashParams{
			a: splitmix64(&state) | 1,
			b: splitmix64(&state),
		}
	}
	return params
}

func splitmix64(state *uint64) uint64 {
	*state += 0x9e3779b97f4a7c15
	z := *state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// normalize lowercases content and collapses whitespace runs so cosmetic
// differences do not perturb the shingle set.
func normalize(content []byte) []byte {
	return []byte(strings.Join(strings.Fields(strings.ToLower(string(content))), " "))
}

// shingleSet hashes every overlapping window of the given size. Content
// shorter than one shingle contributes a single whole-content shingle.
func shingleSet(text []byte, size int) map[uint64]struct{} {
	set := make(map[uint64]struct{})
	if len(text) == 0 {
		return set
	}
	if len(text) < size {
		set[xxhash.Sum64(text)] = struct{}{}
		return set
	}
	for i := 0; i+size <= len(text); i++ {
		set[xxhash.Sum64(text[i:i+size])] = struct{}{}
	}
	return set
}

// signature computes the k hash minima over the shingle set.
func signature(shingles map[uint64]struct{}, params []hashParams) []uint64 {
	sig := make([]uint64, len(params))
	for i := range sig {
		sig[i] = math.MaxUint64
	}
	for sh := range shingles {
		for i, p := range params {
			h := p.a*sh + p.b
			h ^= h >> 33
			if h < sig[i] {
				sig[i] = h
			}
		}
	}
	return sig
}

// estimateSimilarity approximates Jaccard similarity as the fraction of
// matching signature positions.
func estimateSimilarity(a, b []uint64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	equal := 0
	for i := range a {
		if a[i] == b[i] {
			equal++
		}
	}
	return float64(equal) / float64(len(a))
}
