// Package dedup detects near-duplicate fetched content with MinHash
// signatures and locality-sensitive band hashing. Exact duplicates short
// circuit through a content digest before any signature work.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/harvestkit/harvestd/internal/harvest"
	"github.com/harvestkit/harvestd/internal/telemetry"
)

// Config sizes the signature scheme.
type Config struct {
	// Bands and Rows shape the LSH banding; the signature carries
	// Bands*Rows hash minima.
	Bands int
	Rows  int
	// ShingleSize is the character window hashed into the shingle set.
	ShingleSize int
	// Threshold is the estimated Jaccard similarity at or above which
	// content is declared a duplicate.
	Threshold float64
}

// Engine answers duplicate queries and records accepted content. Queries
// against an unavailable index fail open: the content is treated as unique
// and the verdict is marked degraded.
type Engine struct {
	cfg    Config
	logger *zap.Logger
	params []hashParams
	index  *bandIndex

	available atomic.Bool

	// insertMu serializes check-and-insert so two concurrent copies of
	// the same content cannot both pass the check.
	insertMu sync.Mutex

	mu       sync.RWMutex
	sigs     [][]uint64
	ids      []string
	byDigest map[string]int
}

// New constructs an available Engine.
func New(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Bands <= 0 {
		cfg.Bands = 16
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 8
	}
	if cfg.ShingleSize <= 0 {
		cfg.ShingleSize = 4
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = 0.85
	}
	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		params:   newHashParams(cfg.Bands * cfg.Rows),
		index:    newBandIndex(cfg.Bands, cfg.Rows),
		byDigest: make(map[string]int),
	}
	e.available.Store(true)
	return e
}

// SetAvailable toggles the index between normal and degraded operation.
func (e *Engine) SetAvailable(ok bool) {
	e.available.Store(ok)
}

// IsDuplicate reports whether content is an exact or near duplicate of
// previously inserted content, without inserting it.
func (e *Engine) IsDuplicate(content []byte) (harvest.Verdict, error) {
	if !e.available.Load() {
		return e.degraded(), nil
	}
	norm := normalize(content)
	digest := contentDigest(norm)
	sig := signature(shingleSet(norm, e.cfg.ShingleSize), e.params)
	v := e.check(digest, sig)
	telemetry.ObserveDedup(verdictLabel(v))
	return v, nil
}

// Insert registers content under the given identifier. Content already
// present by exact digest is not inserted twice.
func (e *Engine) Insert(content []byte, id string) error {
	if !e.available.Load() {
		return harvest.ErrIndexUnavailable
	}
	e.insertMu.Lock()
	defer e.insertMu.Unlock()
	norm := normalize(content)
	e.insert(contentDigest(norm), signature(shingleSet(norm, e.cfg.ShingleSize), e.params), id)
	return nil
}

// CheckAndInsert atomically checks content and, when unique, inserts it
// under the given identifier. This is the path the dispatcher uses so the
// check-then-insert pair is a single critical section.
func (e *Engine) CheckAndInsert(content []byte, id string) (harvest.Verdict, error) {
	if !e.available.Load() {
		return e.degraded(), nil
	}
	e.insertMu.Lock()
	defer e.insertMu.Unlock()

	norm := normalize(content)
	digest := contentDigest(norm)
	sig := signature(shingleSet(norm, e.cfg.ShingleSize), e.params)

	v := e.check(digest, sig)
	if !v.Duplicate {
		e.insert(digest, sig, id)
	}
	telemetry.ObserveDedup(verdictLabel(v))
	return v, nil
}

// Len reports the number of indexed contents.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.ids)
}

func (e *Engine) check(digest string, sig []uint64) harvest.Verdict {
	e.mu.RLock()
	if h, ok := e.byDigest[digest]; ok {
		id := e.ids[h]
		e.mu.RUnlock()
		return harvest.Verdict{Duplicate: true, CandidateID: id, Similarity: 1.0}
	}
	e.mu.RUnlock()

	bestSim := 0.0
	bestHandle := -1
	for _, h := range e.index.candidates(sig) {
		e.mu.RLock()
		sim := estimateSimilarity(sig, e.sigs[h])
		e.mu.RUnlock()
		if sim > bestSim {
			bestSim = sim
			bestHandle = h
		}
	}
	if bestHandle >= 0 && bestSim >= e.cfg.Threshold {
		e.mu.RLock()
		id := e.ids[bestHandle]
		e.mu.RUnlock()
		return harvest.Verdict{Duplicate: true, CandidateID: id, Similarity: bestSim}
	}
	return harvest.Verdict{Similarity: bestSim}
}

func (e *Engine) insert(digest string, sig []uint64, id string) {
	e.mu.Lock()
	if _, ok := e.byDigest[digest]; ok {
		e.mu.Unlock()
		return
	}
	handle := len(e.sigs)
	e.sigs = append(e.sigs, sig)
	e.ids = append(e.ids, id)
	e.byDigest[digest] = handle
	e.mu.Unlock()

	e.index.insert(sig, handle)
}

func (e *Engine) degraded() harvest.Verdict {
	e.logger.Warn("dedup index unavailable, treating content as unique")
	telemetry.ObserveDedup("degraded")
	return harvest.Verdict{Degraded: true}
}

func contentDigest(norm []byte) string {
	sum := sha256.Sum256(norm)
	return hex.EncodeToString(sum[:])
}

func verdictLabel(v harvest.Verdict) string {
	if v.Duplicate {
		return "duplicate"
	}
	return "unique"
}
