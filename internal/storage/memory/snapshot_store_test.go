package memory

import (
	"context"
	"testing"

	"github.com/harvestkit/harvestd/internal/harvest"
)

func TestSnapshotStoreRecordsAppends(t *testing.T) {
	t.Parallel()

	s := NewSnapshotStore()
	if err := s.StoreSnapshot(context.Background(), harvest.DomainSnapshot{Domain: "a.example"}, 2.0); err != nil {
		t.Fatalf("store snapshot: %v", err)
	}
	if err := s.StoreAccepted(context.Background(), harvest.AcceptedContent{ID: "c1"}); err != nil {
		t.Fatalf("store accepted: %v", err)
	}

	snaps := s.Snapshots()
	if len(snaps) != 1 || snaps[0].Snapshot.Domain != "a.example" || snaps[0].Backoff != 2.0 {
		t.Fatalf("unexpected snapshots: %+v", snaps)
	}
	accepted := s.Accepted()
	if len(accepted) != 1 || accepted[0].ID != "c1" {
		t.Fatalf("unexpected accepted records: %+v", accepted)
	}

	snaps[0].Backoff = 9.9
	if s.Snapshots()[0].Backoff == 9.9 {
		t.Fatal("expected Snapshots() to return a copy")
	}
}
