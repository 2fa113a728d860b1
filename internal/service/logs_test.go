package service_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/TashaKaslana/Zenflow-sub001/internal/deadletter"
	"github.com/TashaKaslana/Zenflow-sub001/internal/service"
	internal_storage "github.com/TashaKaslana/Zenflow-sub001/internal/storage"
	"github.com/TashaKaslana/Zenflow-sub001/internal/testutil"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *internal_storage.SQLStore {
	t.Helper()
	td := testutil.SetupSQLite(t)
	t.Cleanup(func() { td.Teardown(t) })
	store, err := internal_storage.NewSQLStore("sqlite3", td.ConnStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func batch(runID string, n int) *models.Batch {
	entries := make([]*models.LogEntry, n)
	for i := range entries {
		entries[i] = models.NewLogEntry("wf", runID, "node", models.InfoLevel, fmt.Sprintf("message %d", i))
	}
	return &models.Batch{RunID: runID, Entries: entries}
}

// failingStore fails the failOn-th SaveBatch made inside a transaction.
type failingStore struct {
	storage.TxStore
	failOn int
}

func (f failingStore) Begin() (storage.TxStore, error) {
	tx, err := f.TxStore.Begin()
	if err != nil {
		return nil, err
	}
	return &failingTx{TxStore: tx, failOn: f.failOn}, nil
}

type failingTx struct {
	storage.TxStore
	failOn int
	calls  int
}

func (f *failingTx) SaveBatch(ctx context.Context, runID string, entries []*models.LogEntry) error {
	f.calls++
	if f.calls == f.failOn {
		return errors.New("insert failed")
	}
	return f.TxStore.SaveBatch(ctx, runID, entries)
}

func TestLogService(t *testing.T) {
	ctx := context.Background()

	t.Run("ImportBatches", func(t *testing.T) {
		store := newStore(t)
		svc := service.NewLogService(store)

		n, err := svc.ImportBatches(ctx, []*models.Batch{batch("run-1", 3), nil, batch("run-2", 2)})
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		entries, err := store.ListRunLogs(ctx, "run-1", 0)
		require.NoError(t, err)
		assert.Len(t, entries, 3)

		n, err = svc.ImportBatches(ctx, nil)
		assert.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("ImportIsAllOrNothing", func(t *testing.T) {
		store := newStore(t)
		svc := service.NewLogService(failingStore{TxStore: store, failOn: 2})

		n, err := svc.ImportBatches(ctx, []*models.Batch{batch("run-1", 2), batch("run-2", 1)})
		require.Error(t, err)
		assert.Zero(t, n)

		_, err = store.ListRunLogs(ctx, "run-1", 0)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ReplayDeadLetters", func(t *testing.T) {
		store := newStore(t)
		svc := service.NewLogService(store)
		spool, err := deadletter.Open(t.TempDir(), nil)
		require.NoError(t, err)
		defer spool.Close()

		first := batch("run-1", 2)
		require.NoError(t, spool.Store(first))
		require.NoError(t, spool.Store(batch("run-2", 3)))
		// A batch that was partially saved before the outage.
		require.NoError(t, store.SaveBatch(ctx, "run-1", first.Entries[:1]))

		stats, err := svc.ReplayDeadLetters(ctx, spool)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Replayed)
		assert.Equal(t, 5, stats.Entries)

		entries, err := store.ListRunLogs(ctx, "run-1", 0)
		require.NoError(t, err)
		assert.Len(t, entries, 2, "duplicates are skipped")

		n, err := spool.Len()
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("ReplayKeepsSegmentsOnFailure", func(t *testing.T) {
		store := newStore(t)
		svc := service.NewLogService(store)
		spool, err := deadletter.Open(t.TempDir(), nil)
		require.NoError(t, err)
		defer spool.Close()
		require.NoError(t, spool.Store(batch("run-1", 1)))

		require.NoError(t, store.Close())
		stats, err := svc.ReplayDeadLetters(ctx, spool)
		assert.Error(t, err)
		assert.Equal(t, 1, stats.Pending)

		n, err := spool.Len()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("RunLogs", func(t *testing.T) {
		store := newStore(t)
		svc := service.NewLogService(store)
		b := batch("run-1", 6)
		b.Entries[1].Level = models.ErrorLevel
		b.Entries[4].Level = models.ErrorLevel
		require.NoError(t, store.SaveBatch(ctx, "run-1", b.Entries))

		all, err := svc.RunLogs(ctx, "run-1", 0, nil)
		require.NoError(t, err)
		assert.Len(t, all, 6)

		limited, err := svc.RunLogs(ctx, "run-1", 2, nil)
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, []string{"message 4", "message 5"}, []string{limited[0].Message, limited[1].Message})

		errorsOnly := func(e *models.LogEntry) bool { return e.Level == models.ErrorLevel }
		filtered, err := svc.RunLogs(ctx, "run-1", 1, errorsOnly)
		require.NoError(t, err)
		require.Len(t, filtered, 1)
		assert.Equal(t, "message 4", filtered[0].Message)

		_, err = svc.RunLogs(ctx, "", 0, nil)
		assert.Error(t, err)
		_, err = svc.RunLogs(ctx, "missing", 0, nil)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
