// Package journal implements the per-query event journal: a fixed-size
// in-memory circular buffer of recently resolved queries for the
// observability API, with an optional sqlite-backed Storage for durable
// history and aggregate statistics. Every query engine pass writes exactly
// one entry; the API reads through the ring for "recent" views and through
// the backing Storage for anything that needs to survive a restart or span
// more history than the ring retains.
package journal

import (
	"context"
	"sync"
	"time"

	"vantage/pkg/logging"
	"vantage/pkg/storage"
)

// Config configures the Journal.
type Config struct {
	// RingSize is the number of recent entries kept purely in memory.
	RingSize int
}

func applyDefaults(cfg Config) Config {
	if cfg.RingSize <= 0 {
		cfg.RingSize = 4096
	}
	return cfg
}

// Journal is a fixed-size circular buffer of storage.QueryLog entries,
// optionally fronting a durable storage.Storage backend.
type Journal struct {
	cfg     Config
	logger  *logging.Logger
	backend storage.Storage

	mu     sync.RWMutex
	ring   []*storage.QueryLog
	next   int
	filled bool
}

// New creates a Journal. backend may be nil (or a storage.NoOpStorage) if
// no durable persistence is configured; the ring still works standalone.
func New(cfg Config, logger *logging.Logger, backend storage.Storage) *Journal {
	cfg = applyDefaults(cfg)
	if logger == nil {
		logger = &logging.Logger{}
	}
	if backend == nil {
		backend = storage.NewNoOpStorage()
	}
	return &Journal{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		ring:    make([]*storage.QueryLog, cfg.RingSize),
	}
}

// Record appends an entry to the ring and, asynchronously, to the backing
// Storage. The ring write never blocks on the backend: LogQuery's own
// buffered-channel design (see pkg/storage) absorbs the write, and a
// saturated buffer only ever drops the durable copy, never the ring's.
func (j *Journal) Record(ctx context.Context, entry *storage.QueryLog) {
	if entry == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	j.mu.Lock()
	j.ring[j.next] = entry
	j.next = (j.next + 1) % len(j.ring)
	if j.next == 0 {
		j.filled = true
	}
	j.mu.Unlock()

	if err := j.backend.LogQuery(ctx, entry); err != nil {
		j.logger.Warn("journal: failed to persist query log", "error", err, "domain", entry.Domain)
	}
}

// Recent returns up to limit entries from the ring, most recent first.
// This never touches the backing Storage — it is the fast, memory-only path
// the API's live-tail view uses.
func (j *Journal) Recent(limit int) []*storage.QueryLog {
	j.mu.RLock()
	defer j.mu.RUnlock()

	size := j.next
	if j.filled {
		size = len(j.ring)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]*storage.QueryLog, 0, limit)
	idx := j.next
	for i := 0; i < limit; i++ {
		idx = (idx - 1 + len(j.ring)) % len(j.ring)
		if j.ring[idx] == nil {
			break
		}
		out = append(out, j.ring[idx])
	}
	return out
}

// Backend returns the durable Storage behind this journal, for handlers
// that need history, filters, or aggregates beyond the ring's reach.
func (j *Journal) Backend() storage.Storage {
	return j.backend
}

// Close releases the backing Storage. The in-memory ring needs no cleanup.
func (j *Journal) Close() error {
	return j.backend.Close()
}
