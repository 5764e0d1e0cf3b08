package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/harvestkit/harvestd/internal/harvest"
)

func TestStoreSnapshotInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "domain_snapshots", "accepted_content")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	snap := harvest.DomainSnapshot{
		Domain:      "a.example",
		SampleCount: 42,
		ErrorRate:   0.25,
		TimeoutRate: 0.10,
		LatencyP50:  150 * time.Millisecond,
		LatencyP95:  900 * time.Millisecond,
		MeanBytes:   20480,
		LastOutcome: now,
	}

	mock.ExpectExec("INSERT INTO domain_snapshots").
		WithArgs(
			snap.Domain,
			snap.SampleCount,
			snap.ErrorRate,
			snap.TimeoutRate,
			int64(150),
			int64(900),
			snap.MeanBytes,
			1.5,
			snap.LastOutcome,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.StoreSnapshot(context.Background(), snap, 1.5)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreAcceptedInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "", "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := harvest.AcceptedContent{
		ID:       "uuid-v7",
		TaskID:   "task-1",
		Domain:   "a.example",
		URI:      "gs://bucket/a.example/uuid-v7",
		Digest:   "abc123",
		ByteSize: 2048,
		StoredAt: now,
	}

	mock.ExpectExec("INSERT INTO accepted_content").
		WithArgs(
			rec.ID,
			rec.TaskID,
			rec.Domain,
			rec.URI,
			rec.Digest,
			rec.ByteSize,
			rec.StoredAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.StoreAccepted(context.Background(), rec)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(nil, "", "")
	require.Error(t, err)

	_, err = NewWithPool(mock, "bad;table", "")
	require.Error(t, err)

	store, err := NewWithPool(mock, "", "")
	require.NoError(t, err)

	err = store.StoreSnapshot(context.Background(), harvest.DomainSnapshot{}, 1.0)
	require.Error(t, err)

	err = store.StoreAccepted(context.Background(), harvest.AcceptedContent{})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
