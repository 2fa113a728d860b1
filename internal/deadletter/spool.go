// Package deadletter keeps batches that could not be persisted on local disk
// until they can be replayed into the sink.
package deadletter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TashaKaslana/Zenflow-sub001/internal/codec"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	segmentExt = ".dlq"
	corruptExt = ".corrupt"
)

// magic prefixes every segment file.
var magic = []byte("ZFDLQ1")

// ErrClosed is returned by a closed spool.
var ErrClosed = errors.New("deadletter: spool closed")

// ErrCorruptSegment reports a segment that cannot be decoded.
var ErrCorruptSegment = errors.New("deadletter: corrupt segment")

// Spool stores one batch per segment file:
//
//	[magic][len uint32 LE][zstd(CBOR batch)]
//
// Segments are written to a temporary name and renamed, so a crash never
// leaves a partial segment behind.
type Spool struct {
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	logger  *logrus.Entry
	seq     atomic.Uint64

	// mu is held shared while the codecs are in use.
	mu     sync.RWMutex
	closed bool
}

// ReplayStats summarizes a Replay pass.
type ReplayStats struct {
	Replayed int `json:"replayed"`
	Entries  int `json:"entries"`
	Corrupt  int `json:"corrupt"`
	Pending  int `json:"pending"`
}

// Open creates dir if needed and returns a spool rooted there.
func Open(dir string, logger *logrus.Entry) (*Spool, error) {
	if dir == "" {
		return nil, errors.New("deadletter: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create spool directory %s", dir)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, errors.Wrap(err, "create zstd decoder")
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = logrus.NewEntry(l)
	}
	return &Spool{dir: dir, encoder: enc, decoder: dec, logger: logger}, nil
}

// Dir returns the spool directory.
func (s *Spool) Dir() string {
	return s.dir
}

// Store writes batch to a new segment.
func (s *Spool) Store(batch *models.Batch) error {
	if batch == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	payload, err := codec.Marshal(batch)
	if err != nil {
		return errors.Wrapf(err, "encode batch of run %s", batch.RunID)
	}
	compressed := s.encoder.EncodeAll(payload, nil)

	var buf bytes.Buffer
	buf.Grow(len(magic) + 4 + len(compressed))
	buf.Write(magic)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(compressed)))
	buf.Write(lenBuf[:])
	buf.Write(compressed)

	name := fmt.Sprintf("%020d-%010d-%s%s", time.Now().UnixNano(), s.seq.Add(1), uuid.NewString(), segmentExt)
	tmp := filepath.Join(s.dir, "."+name+".tmp")
	if err := writeFileSync(tmp, buf.Bytes()); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "write segment for run %s", batch.RunID)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "publish segment for run %s", batch.RunID)
	}
	s.logger.WithField("run_id", batch.RunID).
		WithField("entries", len(batch.Entries)).
		Warn("Batch spooled to dead letter")
	return nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Segments lists the pending segment files, oldest first.
func (s *Spool) Segments() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list spool %s", s.dir)
	}
	var names []string
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), segmentExt) || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		names = append(names, filepath.Join(s.dir, de.Name()))
	}
	// Names start with a zero padded timestamp.
	sort.Strings(names)
	return names, nil
}

// Len returns the number of pending segments.
func (s *Spool) Len() (int, error) {
	names, err := s.Segments()
	return len(names), err
}

// ReadSegment decodes one segment file.
func (s *Spool) ReadSegment(path string) (*models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.readSegment(path)
}

func (s *Spool) readSegment(path string) (*models.Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read segment %s", path)
	}
	if len(data) < len(magic)+4 || !bytes.Equal(data[:len(magic)], magic) {
		return nil, errors.Wrapf(ErrCorruptSegment, "%s: bad header", filepath.Base(path))
	}
	data = data[len(magic):]
	n := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) != n {
		return nil, errors.Wrapf(ErrCorruptSegment, "%s: length %d, have %d bytes", filepath.Base(path), n, len(data))
	}
	payload, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptSegment, "%s: %v", filepath.Base(path), err)
	}
	var batch models.Batch
	if err := codec.Unmarshal(payload, &batch); err != nil {
		return nil, errors.Wrapf(ErrCorruptSegment, "%s: %v", filepath.Base(path), err)
	}
	return &batch, nil
}

// Replay hands every pending batch to fn, oldest first. A segment is removed
// once fn succeeds for it. Replay stops at the first fn error and leaves the
// remaining segments in place. Corrupt segments are renamed aside.
func (s *Spool) Replay(fn func(*models.Batch) error) (ReplayStats, error) {
	var stats ReplayStats
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return stats, ErrClosed
	}
	names, err := s.Segments()
	if err != nil {
		return stats, err
	}
	for i, name := range names {
		batch, err := s.readSegment(name)
		if errors.Cause(err) == ErrCorruptSegment {
			stats.Corrupt++
			s.logger.WithError(err).Error("Skipping corrupt dead letter segment")
			if rerr := os.Rename(name, name+corruptExt); rerr != nil {
				return stats, errors.Wrapf(rerr, "quarantine %s", filepath.Base(name))
			}
			continue
		}
		if err != nil {
			stats.Pending = len(names) - i
			return stats, err
		}
		if err := fn(batch); err != nil {
			stats.Pending = len(names) - i
			return stats, errors.Wrapf(err, "replay batch of run %s", batch.RunID)
		}
		if err := os.Remove(name); err != nil {
			stats.Pending = len(names) - i - 1
			return stats, errors.Wrapf(err, "remove replayed segment %s", filepath.Base(name))
		}
		stats.Replayed++
		stats.Entries += len(batch.Entries)
	}
	return stats, nil
}

// Close releases the codec resources. Stored segments stay on disk.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.decoder.Close()
	return s.encoder.Close()
}
