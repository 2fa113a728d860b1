package stream

import (
	"context"
	"sync"

	"github.com/TashaKaslana/Zenflow-sub001/internal/codec"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// ErrClosed is returned by operations on a closed Log.
var ErrClosed = errors.New("stream: log closed")

// Record is one entry of a run stream with its position.
type Record struct {
	Seq   uint64           `json:"seq"`
	Entry *models.LogEntry `json:"entry"`
}

// Options configures Open.
type Options struct {
	Dir string
	// Sync forces a WAL fsync on every publish.
	Sync bool
}

// Log is an append-only, per-run partitioned stream of persisted log entries
// backed by Pebble. Sequence numbers start at 1 and are dense within a run.
type Log struct {
	db   *pebble.DB
	sync bool

	// lifecycle is held shared by every operation touching db.
	lifecycle sync.RWMutex
	closed    bool

	mu   sync.Mutex
	runs map[string]*runState
}

type runState struct {
	mu      sync.Mutex
	loaded  bool
	lastSeq uint64
}

// Open creates or opens the stream database in opts.Dir.
func Open(opts Options) (*Log, error) {
	if opts.Dir == "" {
		return nil, errors.New("stream: Options.Dir is required")
	}
	db, err := pebble.Open(opts.Dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open stream at %s", opts.Dir)
	}
	return &Log{db: db, sync: opts.Sync, runs: make(map[string]*runState)}, nil
}

func (l *Log) state(runID string) *runState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.runs[runID]
	if !ok {
		st = &runState{}
		l.runs[runID] = st
	}
	return st
}

// Publish appends entries to the stream of runID in one atomic batch.
func (l *Log) Publish(ctx context.Context, runID string, entries []*models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.lifecycle.RLock()
	defer l.lifecycle.RUnlock()
	if l.closed {
		return ErrClosed
	}
	st := l.state(runID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.loaded {
		last, err := l.readLastSeq(runID)
		if err != nil {
			return err
		}
		st.lastSeq, st.loaded = last, true
	}

	b := l.db.NewBatch()
	defer b.Close()
	seq := st.lastSeq
	for _, e := range entries {
		val, err := codec.Marshal(e)
		if err != nil {
			return errors.Wrapf(err, "encode entry %s", e.ID)
		}
		seq++
		if err := b.Set(entryKey(runID, seq), val, nil); err != nil {
			return errors.Wrap(err, "stage entry")
		}
	}
	if err := b.Set(metaKey(runID), appendBE8(nil, seq), nil); err != nil {
		return errors.Wrap(err, "stage stream meta")
	}
	opt := pebble.NoSync
	if l.sync {
		opt = pebble.Sync
	}
	if err := b.Commit(opt); err != nil {
		return errors.Wrapf(err, "commit %d entries to run %s", len(entries), runID)
	}
	st.lastSeq = seq
	return nil
}

func (l *Log) readLastSeq(runID string) (uint64, error) {
	val, closer, err := l.db.Get(metaKey(runID))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "read stream meta of run %s", runID)
	}
	defer closer.Close()
	return seqFromKey(val), nil
}

// LastSeq returns the last sequence number assigned in runID, 0 when empty.
func (l *Log) LastSeq(runID string) (uint64, error) {
	l.lifecycle.RLock()
	defer l.lifecycle.RUnlock()
	if l.closed {
		return 0, ErrClosed
	}
	st := l.state(runID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.loaded {
		return st.lastSeq, nil
	}
	return l.readLastSeq(runID)
}

// Read returns up to limit records of runID with Seq >= fromSeq, oldest first.
// A limit <= 0 reads to the end of the stream.
func (l *Log) Read(runID string, fromSeq uint64, limit int) ([]Record, error) {
	l.lifecycle.RLock()
	defer l.lifecycle.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}

	keyLen := len(entryPrefix(runID)) + 8
	lower := entryKey(runID, fromSeq)
	upper := append(entryKey(runID, ^uint64(0)), 0x00)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, errors.Wrapf(err, "iterate run %s", runID)
	}
	defer iter.Close()

	records := make([]Record, 0)
	for valid := iter.First(); valid; valid = iter.Next() {
		if limit > 0 && len(records) >= limit {
			break
		}
		if len(iter.Key()) != keyLen {
			// Belongs to a run whose id extends this one.
			continue
		}
		var e models.LogEntry
		if err := codec.Unmarshal(iter.Value(), &e); err != nil {
			return nil, errors.Wrapf(err, "decode record %d of run %s", seqFromKey(iter.Key()), runID)
		}
		records = append(records, Record{Seq: seqFromKey(iter.Key()), Entry: &e})
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrapf(err, "iterate run %s", runID)
	}
	return records, nil
}

// Close closes the underlying database. Further calls return ErrClosed.
func (l *Log) Close() error {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}
