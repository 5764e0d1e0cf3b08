// Package memory contains in-memory persistence implementations for tests
// and single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/harvestkit/harvestd/internal/harvest"
)

// SnapshotRecord pairs a stored snapshot with the backoff factor in effect
// when it was taken.
type SnapshotRecord struct {
	Snapshot harvest.DomainSnapshot
	Backoff  float64
}

// SnapshotStore records snapshots and accepted content in memory.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots []SnapshotRecord
	accepted  []harvest.AcceptedContent
}

// NewSnapshotStore returns an empty SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// StoreSnapshot appends a snapshot record.
func (s *SnapshotStore) StoreSnapshot(_ context.Context, snap harvest.DomainSnapshot, backoff float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, SnapshotRecord{Snapshot: snap, Backoff: backoff})
	return nil
}

// StoreAccepted appends an accepted-content record.
func (s *SnapshotStore) StoreAccepted(_ context.Context, rec harvest.AcceptedContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted = append(s.accepted, rec)
	return nil
}

// Close is a no-op.
func (s *SnapshotStore) Close() {}

// Snapshots returns a copy of the stored snapshot records.
func (s *SnapshotStore) Snapshots() []SnapshotRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SnapshotRecord, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

// Accepted returns a copy of the stored accepted-content records.
func (s *SnapshotStore) Accepted() []harvest.AcceptedContent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]harvest.AcceptedContent, len(s.accepted))
	copy(out, s.accepted)
	return out
}
