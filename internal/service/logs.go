package service

import (
	"context"

	"github.com/TashaKaslana/Zenflow-sub001/internal/deadletter"
	"github.com/TashaKaslana/Zenflow-sub001/internal/log"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/storage"
	"github.com/pkg/errors"
)

// LogService runs maintenance operations over the durable log store.
type LogService struct {
	store storage.TxStore
}

func NewLogService(store storage.TxStore) *LogService {
	return &LogService{store: store}
}

// ImportBatches saves batches in a single transaction: either every batch is
// stored or none is.
func (s *LogService) ImportBatches(ctx context.Context, batches []*models.Batch) (n int, err error) {
	if len(batches) == 0 {
		return 0, nil
	}
	txStore, err := s.store.Begin()
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				log.GetLogger().Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			n = 0
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			log.GetLogger().Errorf("Failed to commit: %v", commitErr)
			err = commitErr // Update the named return value
			n = 0
		}
	}()

	for _, b := range batches {
		if b == nil {
			continue
		}
		if err = txStore.SaveBatch(ctx, b.RunID, b.Entries); err != nil {
			return 0, errors.Wrapf(err, "import batch of run %s", b.RunID)
		}
		n += len(b.Entries)
	}
	log.GetLogger().Infof("Imported %d entries from %d batches", n, len(batches))
	return n, nil
}

// ReplayDeadLetters moves spooled batches back into the store, one
// transaction per batch, oldest first. It stops at the first failure.
func (s *LogService) ReplayDeadLetters(ctx context.Context, spool *deadletter.Spool) (deadletter.ReplayStats, error) {
	stats, err := spool.Replay(func(b *models.Batch) error {
		_, err := s.ImportBatches(ctx, []*models.Batch{b})
		return err
	})
	if err != nil {
		return stats, err
	}
	log.GetLogger().Infof("Replayed %d dead letter batches (%d entries, %d corrupt)", stats.Replayed, stats.Entries, stats.Corrupt)
	return stats, nil
}

// RunLogs returns the newest limit persisted entries of runID accepted by
// match, in persisted order. A nil match accepts everything; limit <= 0 means
// no limit.
func (s *LogService) RunLogs(ctx context.Context, runID string, limit int, match func(*models.LogEntry) bool) ([]*models.LogEntry, error) {
	if runID == "" {
		return nil, errors.New("run ID cannot be empty")
	}
	fetch := limit
	if match != nil {
		fetch = 0
	}
	entries, err := s.store.ListRunLogs(ctx, runID, fetch)
	if err != nil {
		return nil, err
	}
	if match != nil {
		kept := entries[:0]
		for _, e := range entries {
			if match(e) {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
