package storage_test

import (
	"context"
	"testing"
	"time"

	internal_storage "github.com/TashaKaslana/Zenflow-sub001/internal/storage"
	"github.com/TashaKaslana/Zenflow-sub001/internal/testutil"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStoreSQLite(t *testing.T) {
	testDB := testutil.SetupSQLite(t)
	defer testDB.Teardown(t)
	runStoreTests(t, testDB)
}

func TestSQLStorePostgres(t *testing.T) {
	testDB := testutil.SetupPostgres(t)
	defer testDB.Teardown(t)
	runStoreTests(t, testDB)
}

func runStoreTests(t *testing.T, testDB *testutil.TestDB) {
	ctx := context.Background()

	newStore := func(t *testing.T) *internal_storage.SQLStore {
		store, err := internal_storage.NewSQLStore(testDB.Driver, testDB.ConnStr)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	}

	t.Run("SaveAndListInOrder", func(t *testing.T) {
		store := newStore(t)
		ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		entries := []*models.LogEntry{
			models.NewLogEntry("wf-1", "run-order", "fetch", models.InfoLevel, "started", models.WithTimestamp(ts)),
			models.NewLogEntry("wf-1", "run-order", "fetch", models.ErrorLevel, "failed",
				models.WithError("E_TIMEOUT", "deadline exceeded"),
				models.WithMeta(map[string]string{"attempt": "2"}),
				models.WithTraceID("trace-9"),
				models.WithHierarchy("flow/fetch"),
				models.WithUserID("user-7"),
				models.WithTimestamp(ts.Add(-time.Minute))),
		}
		require.NoError(t, store.SaveBatch(ctx, "run-order", entries))

		got, err := store.ListRunLogs(ctx, "run-order", 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		// Insertion order wins over timestamps.
		assert.Equal(t, "started", got[0].Message)
		assert.Equal(t, entries[1].ID, got[1].ID)
		assert.Equal(t, models.ErrorLevel, got[1].Level)
		assert.Equal(t, "E_TIMEOUT", got[1].ErrorCode)
		assert.Equal(t, "deadline exceeded", got[1].ErrorMessage)
		assert.Equal(t, map[string]string{"attempt": "2"}, got[1].Meta)
		assert.Equal(t, "trace-9", got[1].TraceID)
		assert.Equal(t, "flow/fetch", got[1].Hierarchy)
		assert.Equal(t, "user-7", got[1].UserID)
		assert.True(t, ts.Equal(got[0].Timestamp))
		assert.Nil(t, got[0].Meta)
	})

	t.Run("DuplicateBatchIsIgnored", func(t *testing.T) {
		store := newStore(t)
		entries := []*models.LogEntry{
			models.NewLogEntry("wf-1", "run-dup", "n", models.InfoLevel, "a"),
			models.NewLogEntry("wf-1", "run-dup", "n", models.InfoLevel, "b"),
		}
		require.NoError(t, store.SaveBatch(ctx, "run-dup", entries))
		require.NoError(t, store.SaveBatch(ctx, "run-dup", entries))

		got, err := store.ListRunLogs(ctx, "run-dup", 0)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("ListRespectsLimit", func(t *testing.T) {
		store := newStore(t)
		var entries []*models.LogEntry
		for i := 0; i < 5; i++ {
			entries = append(entries, models.NewLogEntry("wf-1", "run-limit", "n", models.InfoLevel, "m"))
		}
		require.NoError(t, store.SaveBatch(ctx, "run-limit", entries))

		got, err := store.ListRunLogs(ctx, "run-limit", 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, entries[2].ID, got[0].ID)
		assert.Equal(t, entries[4].ID, got[2].ID)
	})

	t.Run("UnknownRun", func(t *testing.T) {
		store := newStore(t)
		_, err := store.ListRunLogs(ctx, "run-missing", 10)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.SaveBatch(ctx, "run-empty", nil))
	})

	t.Run("RollbackDiscardsWrites", func(t *testing.T) {
		store := newStore(t)
		tx, err := store.Begin()
		require.NoError(t, err)
		require.NoError(t, tx.SaveBatch(ctx, "run-tx", []*models.LogEntry{
			models.NewLogEntry("wf-1", "run-tx", "n", models.InfoLevel, "pending"),
		}))
		require.NoError(t, tx.Rollback())

		_, err = store.ListRunLogs(ctx, "run-tx", 0)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		store := newStore(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := store.SaveBatch(cctx, "run-cancel", []*models.LogEntry{
			models.NewLogEntry("wf-1", "run-cancel", "n", models.InfoLevel, "m"),
		})
		assert.Error(t, err)
	})
}

func TestMigrateIsRepeatable(t *testing.T) {
	testDB := testutil.SetupSQLite(t)
	defer testDB.Teardown(t)
	assert.NoError(t, internal_storage.Migrate("sqlite3", testDB.ConnStr, testutil.MigrationsDir))
}
