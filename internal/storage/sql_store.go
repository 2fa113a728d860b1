package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// DBInterface is the part of *sqlx.DB and *sqlx.Tx the store uses.
type DBInterface interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	Rebind(query string) string
	DriverName() string
}

var _ storage.TxStore = (*SQLStore)(nil)

// SQLStore persists log entries in the execution_logs table of a Postgres or
// SQLite database.
type SQLStore struct {
	db DBInterface
}

const insertLogSQL = `INSERT INTO execution_logs
	(id, workflow_id, workflow_run_id, node_key, level, message, error_code, error_message, meta, logged_at, trace_id, hierarchy, user_id)
	VALUES
	(:id, :workflow_id, :workflow_run_id, :node_key, :level, :message, :error_code, :error_message, :meta, :logged_at, :trace_id, :hierarchy, :user_id)
	ON CONFLICT (id) DO NOTHING`

const selectLogsSQL = `SELECT id, workflow_id, workflow_run_id, node_key, level, message, error_code, error_message, meta, logged_at, trace_id, hierarchy, user_id
	FROM execution_logs WHERE workflow_run_id = ?`

// logRow is the column layout of execution_logs.
type logRow struct {
	ID            string    `db:"id"`
	WorkflowID    string    `db:"workflow_id"`
	WorkflowRunID string    `db:"workflow_run_id"`
	NodeKey       string    `db:"node_key"`
	Level         string    `db:"level"`
	Message       string    `db:"message"`
	ErrorCode     string    `db:"error_code"`
	ErrorMessage  string    `db:"error_message"`
	Meta          string    `db:"meta"`
	LoggedAt      time.Time `db:"logged_at"`
	TraceID       string    `db:"trace_id"`
	Hierarchy     string    `db:"hierarchy"`
	UserID        string    `db:"user_id"`
}

// NewSQLStore opens the database with driver "postgres" or "sqlite3".
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", driver)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "ping %s database", driver)
	}
	if driver == "sqlite3" {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}
	return &SQLStore{db: db}, nil
}

// NewSQLStoreFromDB wraps an open connection or transaction.
func NewSQLStoreFromDB(db DBInterface) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Begin() (storage.TxStore, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &SQLStore{db: tx}, nil
	}
	return nil, errors.New("cannot begin transaction on unknown type")
}

func (s *SQLStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return errors.New("cannot commit: not a transaction")
}

func (s *SQLStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return errors.New("cannot rollback: not a transaction")
}

func (s *SQLStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// SaveBatch inserts entries in order within one transaction. Entries already
// stored under the same id are skipped, so a retried batch is harmless.
func (s *SQLStore) SaveBatch(ctx context.Context, runID string, entries []*models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]logRow, 0, len(entries))
	for _, e := range entries {
		row, err := toRow(e)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	db, ok := s.db.(*sqlx.DB)
	if !ok {
		// Already inside a transaction.
		return insertRows(ctx, s.db, rows)
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "begin batch for run %s", runID)
	}
	if err := insertRows(ctx, tx, rows); err != nil {
		_ = tx.Rollback()
		return errors.Wrapf(err, "save batch for run %s", runID)
	}
	return errors.Wrapf(tx.Commit(), "commit batch for run %s", runID)
}

func insertRows(ctx context.Context, db DBInterface, rows []logRow) error {
	for _, row := range rows {
		if _, err := db.NamedExecContext(ctx, insertLogSQL, row); err != nil {
			return errors.Wrapf(err, "insert entry %s", row.ID)
		}
	}
	return nil
}

// ListRunLogs returns the persisted entries of runID in insertion order. With
// a positive limit only the newest limit entries are returned.
func (s *SQLStore) ListRunLogs(ctx context.Context, runID string, limit int) ([]*models.LogEntry, error) {
	query := selectLogsSQL + " ORDER BY seq"
	args := []interface{}{runID}
	if limit > 0 {
		query = selectLogsSQL + " ORDER BY seq DESC LIMIT ?"
		args = append(args, limit)
	}
	var rows []logRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrapf(err, "list logs of run %s", runID)
	}
	if limit > 0 {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	entries := make([]*models.LogEntry, 0, len(rows))
	for _, row := range rows {
		e, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func toRow(e *models.LogEntry) (logRow, error) {
	row := logRow{
		ID:            e.ID,
		WorkflowID:    e.WorkflowID,
		WorkflowRunID: e.WorkflowRunID,
		NodeKey:       e.NodeKey,
		Level:         string(e.Level),
		Message:       e.Message,
		ErrorCode:     e.ErrorCode,
		ErrorMessage:  e.ErrorMessage,
		LoggedAt:      e.Timestamp.UTC(),
		TraceID:       e.TraceID,
		Hierarchy:     e.Hierarchy,
		UserID:        e.UserID,
	}
	if len(e.Meta) > 0 {
		b, err := json.Marshal(e.Meta)
		if err != nil {
			return logRow{}, errors.Wrapf(err, "encode meta of entry %s", e.ID)
		}
		row.Meta = string(b)
	}
	return row, nil
}

func fromRow(row logRow) (*models.LogEntry, error) {
	e := &models.LogEntry{
		ID:            row.ID,
		WorkflowID:    row.WorkflowID,
		WorkflowRunID: row.WorkflowRunID,
		NodeKey:       row.NodeKey,
		Level:         models.LogLevel(row.Level),
		Message:       row.Message,
		ErrorCode:     row.ErrorCode,
		ErrorMessage:  row.ErrorMessage,
		Timestamp:     row.LoggedAt,
		TraceID:       row.TraceID,
		Hierarchy:     row.Hierarchy,
		UserID:        row.UserID,
	}
	if row.Meta != "" {
		if err := json.Unmarshal([]byte(row.Meta), &e.Meta); err != nil {
			return nil, errors.Wrapf(err, "decode meta of entry %s", row.ID)
		}
	}
	return e, nil
}
