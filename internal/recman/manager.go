package recman

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tuannm99/novastore/internal/bufferpool"
	"github.com/tuannm99/novastore/internal/config"
	"github.com/tuannm99/novastore/internal/metrics"
	"github.com/tuannm99/novastore/internal/storage"
	"github.com/tuannm99/novastore/internal/wal"
	"github.com/tuannm99/novastore/pkg/logger"
)

// RecordManager stores variable-length byte records under stable rowids.
// Every method serializes on one mutex.
type RecordManager struct {
	mu sync.Mutex

	path  string
	cache *bufferpool.Cache
	pages *pageManager
	phys  *physicalManager
	logic *logicalManager

	closed   bool
	poisoned error

	logger  *zap.Logger
	metrics *metrics.Collector
}

// Open opens (or creates) the record file at path; ".db" and ".lg" are
// appended for the data and log files. An empty path falls back to
// storage.path from the configuration.
func Open(path string, opts ...Option) (*RecordManager, error) {
	o := options{cfg: config.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if path == "" {
		path = cfg.Storage.Path
	}
	if path == "" {
		return nil, ErrNoPath
	}

	lg := o.logger
	if lg == nil {
		var err error
		if lg, err = logger.New(cfg.Logging); err != nil {
			return nil, err
		}
	}
	lg = lg.Named("recman")

	reg := o.registerer
	if reg == nil && cfg.Metrics.Enabled {
		reg = prometheus.DefaultRegisterer
	}
	if reg != nil {
		// Series are labelled per file so several files can share a registry.
		reg = prometheus.WrapRegistererWith(prometheus.Labels{"path": path}, reg)
	}
	m, err := metrics.New(reg, cfg.Metrics.Namespace)
	if err != nil {
		return nil, fmt.Errorf("recman: register metrics: %w", err)
	}

	cache, err := bufferpool.Open(path, bufferpool.Options{
		Capacity:     cfg.Storage.CacheCapacity,
		Transactions: cfg.Storage.Transactions,
		TxnsInLog:    cfg.WAL.TxnsInLog,
		Compress:     cfg.WAL.Compress,
		Logger:       lg,
		Metrics:      m,
	})
	if err != nil {
		return nil, err
	}

	pages := newPageManager(cache, lg, m)
	r := &RecordManager{
		path:  path,
		cache: cache,
		pages: pages,
		phys: &physicalManager{
			cache:   cache,
			pages:   pages,
			free:    &freePhysicalManager{cache: cache, pages: pages},
			slack:   cfg.Storage.PageFillSlack,
			logger:  lg,
			metrics: m,
		},
		logic: &logicalManager{
			cache:  cache,
			pages:  pages,
			free:   &freeLogicalManager{cache: cache, pages: pages},
			logger: lg,
		},
		logger:  lg,
		metrics: m,
	}

	created, err := pages.format()
	if err == nil && created {
		err = cache.Commit()
	}
	if err != nil {
		return nil, errors.Join(err, cache.Close())
	}

	rec := cache.Recovered()
	lg.Info("record file opened",
		zap.String("path", path),
		zap.Bool("created", created),
		zap.Bool("transactions", cache.TransactionsEnabled()),
		zap.Int("recovered_batches", rec.Batches),
	)
	return r, nil
}

func (r *RecordManager) Path() string { return r.path }

// Recovered reports the log replay done by Open.
func (r *RecordManager) Recovered() wal.RecoveryStats { return r.cache.Recovered() }

// do runs fn under the lock. A corruption error poisons the handle.
func (r *RecordManager) do(op string, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.poisoned != nil {
		return r.poisoned
	}
	err := fn()
	if storage.IsCorruption(err) {
		r.poisoned = fmt.Errorf("%w: %w", ErrPoisoned, err)
		r.logger.Warn("record manager poisoned", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (r *RecordManager) count(op string) { r.metrics.RecordOps.WithLabelValues(op).Inc() }

// Insert stores data and returns its rowid.
func (r *RecordManager) Insert(data []byte) (uint64, error) {
	if len(data) > MaxRecordSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(data))
	}
	var id Location
	err := r.do("insert", func() error {
		phys, err := r.phys.insert(data)
		if err != nil {
			return err
		}
		id, err = r.logic.insert(phys)
		return err
	})
	if err != nil {
		return 0, err
	}
	r.count("insert")
	return id.ID(), nil
}

func (r *RecordManager) Fetch(rowid uint64) ([]byte, error) {
	var out []byte
	err := r.do("fetch", func() error {
		phys, err := r.resolve(rowid)
		if err != nil {
			return err
		}
		out, err = r.phys.fetch(phys)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.count("fetch")
	return out, nil
}

// Update replaces the bytes of rowid. The rowid stays valid even when the
// record has to move.
func (r *RecordManager) Update(rowid uint64, data []byte) error {
	if len(data) > MaxRecordSize {
		return fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(data))
	}
	err := r.do("update", func() error {
		phys, err := r.resolve(rowid)
		if err != nil {
			return err
		}
		moved, err := r.phys.update(phys, data)
		if err != nil {
			return err
		}
		if moved != phys {
			return r.logic.update(LocationOf(rowid), moved)
		}
		return nil
	})
	if err == nil {
		r.count("update")
	}
	return err
}

func (r *RecordManager) Delete(rowid uint64) error {
	err := r.do("delete", func() error {
		phys, err := r.resolve(rowid)
		if err != nil {
			return err
		}
		if err := r.phys.delete(phys); err != nil {
			return err
		}
		return r.logic.delete(LocationOf(rowid))
	})
	if err == nil {
		r.count("delete")
	}
	return err
}

func (r *RecordManager) resolve(rowid uint64) (Location, error) {
	phys, err := r.logic.fetch(LocationOf(rowid))
	if err != nil {
		return Location{}, err
	}
	if phys.IsZero() {
		return Location{}, fmt.Errorf("%w: %d", ErrRecordNotFound, rowid)
	}
	return phys, nil
}

// Commit makes every change since the last commit durable.
func (r *RecordManager) Commit() error {
	return r.do("commit", r.cache.Commit)
}

// Rollback discards every change since the last commit.
func (r *RecordManager) Rollback() error {
	return r.do("rollback", r.cache.Rollback)
}

// DisableTransactions commits, then switches the handle to write-through
// for bulk loads. Changes are no longer crash safe.
func (r *RecordManager) DisableTransactions() error {
	return r.do("disable transactions", r.cache.DisableTransactions)
}

// Sync commits, checkpoints the log into the data file and forces the data
// file to stable storage.
func (r *RecordManager) Sync() error {
	return r.do("sync", func() error {
		if err := r.cache.Commit(); err != nil {
			return err
		}
		return r.cache.Sync()
	})
}

func (r *RecordManager) RootCount() int { return RootCount }

func (r *RecordManager) Root(slot int) (uint64, error) {
	var v uint64
	err := r.do("root", func() error {
		var err error
		v, err = r.pages.root(slot)
		return err
	})
	return v, err
}

func (r *RecordManager) SetRoot(slot int, rowid uint64) error {
	return r.do("set root", func() error {
		return r.pages.setRoot(slot, rowid)
	})
}

// Close commits pending changes and releases the files. A poisoned handle
// drops its uncommitted changes first but still closes its files.
func (r *RecordManager) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.poisoned != nil && r.cache.TransactionsEnabled() {
		_ = r.cache.Rollback()
	}
	err := r.cache.Close()
	r.logger.Info("record file closed", zap.String("path", r.path), zap.Error(err))
	return err
}
