package cli

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TashaKaslana/Zenflow-sub001/internal/config"
	"github.com/TashaKaslana/Zenflow-sub001/internal/service"
	internal_storage "github.com/TashaKaslana/Zenflow-sub001/internal/storage"
	"github.com/TashaKaslana/Zenflow-sub001/internal/testutil"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(dir, "zenflow.db")
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Stream.Enabled = true
	cfg.Stream.Dir = filepath.Join(dir, "stream")
	cfg.DeadLetter.Dir = filepath.Join(dir, "deadletter")
	cfg.Telemetry.Router.Workers = 2
	cfg.Telemetry.Buffer.BatchSize = 10
	return cfg
}

func TestAppPersistsAndRepublishes(t *testing.T) {
	cfg := testConfig(t)
	app, err := NewApp(cfg, testutil.MigrationsDir)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	app.Pipeline.Start()

	logger := app.Pipeline.ForNode("wf", "run-1", "fetch")
	for i := 0; i < 25; i++ {
		assert.True(t, logger.Info("step %d", i))
	}
	app.Pipeline.EndRun("run-1")

	require.Eventually(t, func() bool {
		entries, err := app.Store.ListRunLogs(context.Background(), "run-1", 0)
		return err == nil && len(entries) == 25
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		records, err := app.Stream.Read("run-1", 0, 0)
		return err == nil && len(records) == 25
	}, 5*time.Second, 20*time.Millisecond)

	records, err := app.Stream.Read("run-1", 0, 0)
	require.NoError(t, err)
	for i, r := range records {
		assert.Equal(t, uint64(i+1), r.Seq)
		assert.Equal(t, fmt.Sprintf("step %d", i), r.Entry.Message)
	}
}

func TestNewAppFailsOnBadDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "postgres"
	cfg.Database.DSN = "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"
	_, err := NewApp(cfg, "")
	assert.Error(t, err)
}

func newStore(t *testing.T) *internal_storage.SQLStore {
	t.Helper()
	td := testutil.SetupSQLite(t)
	t.Cleanup(func() { td.Teardown(t) })
	store, err := internal_storage.NewSQLStore("sqlite3", td.ConnStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestTailRun(t *testing.T) {
	store := newStore(t)
	entries := []*models.LogEntry{
		models.NewLogEntry("wf", "run-1", "a", models.InfoLevel, "one"),
		models.NewLogEntry("wf", "run-1", "b", models.ErrorLevel, "two", models.WithError("E1", "bad")),
		models.NewLogEntry("wf", "run-1", "a", models.InfoLevel, "three"),
	}
	require.NoError(t, store.SaveBatch(context.Background(), "run-1", entries))
	svc := service.NewLogService(store)

	var out bytes.Buffer
	require.NoError(t, tailRun(context.Background(), &out, svc, "run-1", 0, "", false))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "ERROR")
	assert.Contains(t, lines[1], "(error E1: bad)")

	out.Reset()
	require.NoError(t, tailRun(context.Background(), &out, svc, "run-1", 1, `node_key == "a"`, true))
	lines = strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"message":"three"`)

	out.Reset()
	require.NoError(t, tailRun(context.Background(), &out, svc, "run-1", 2, "", false))
	lines = strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "two")
	assert.Contains(t, lines[1], "three")

	out.Reset()
	require.NoError(t, tailRun(context.Background(), &out, svc, "missing", 0, "", false))
	assert.Equal(t, "No logs found for run missing.\n", out.String())

	assert.Error(t, tailRun(context.Background(), &out, svc, "run-1", 0, "severity", false))
}

func TestLoadConfigLayersFlags(t *testing.T) {
	t.Setenv("ZENFLOW_HTTP_ADDR", ":9999")
	root := &cobra.Command{Use: "zenflow"}
	SetupCLI(root)
	dsn := filepath.Join(t.TempDir(), "x.db")
	require.NoError(t, root.ParseFlags([]string{"--db", dsn, "--env-file", filepath.Join(t.TempDir(), "missing.env")}))

	cfg, err := loadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, dsn, cfg.Database.DSN)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)

	require.NoError(t, root.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}))
	_, err = loadConfig(root)
	assert.Error(t, err)
}
