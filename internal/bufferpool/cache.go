package bufferpool

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/tuannm99/novastore/internal/metrics"
	"github.com/tuannm99/novastore/internal/storage"
	"github.com/tuannm99/novastore/internal/wal"
)

var (
	DefaultCapacity = 1024

	ErrNotCheckedOut        = errors.New("bufferpool: block is not checked out")
	ErrTransactionsDisabled = errors.New("bufferpool: transactions are disabled")
	ErrClosed               = errors.New("bufferpool: cache is closed")
)

type Options struct {
	// Capacity bounds the pool of clean cached buffers.
	Capacity     int
	Transactions bool
	TxnsInLog    int
	Compress     bool
	// Fs holds the data and log files. Defaults to the OS filesystem.
	Fs      afero.Fs
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Stats is a point-in-time count of the buffers in each pool.
type Stats struct {
	InUse    int
	Dirty    int
	InTxn    int
	Free     int
	Capacity int
}

// Cache owns every in-memory block of one data file. Each buffer is in
// exactly one pool at a time:
//
//	inUse  checked out by a caller
//	dirty  modified since the last commit
//	inTxn  logged but not yet written to the data file
//	free   clean, matches the data file
//
// Cache is not safe for concurrent use; the record manager serializes calls.
type Cache struct {
	mu sync.Mutex

	data *storage.DataFile
	log  *wal.Manager // nil when transactions are disabled

	inUse map[uint64]*storage.Block
	dirty map[uint64]*storage.Block
	inTxn map[uint64]*storage.Block
	free  *freePool

	recovered wal.RecoveryStats
	closed    bool

	logger  *zap.Logger
	metrics *metrics.Collector
}

var _ wal.Owner = (*Cache)(nil)

// Open opens path+".db", replays path+".lg" if one was left behind and, when
// transactions are enabled, starts a fresh log.
func Open(path string, opts Options) (*Cache, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}

	data, err := storage.OpenDataFile(opts.Fs, path+storage.DataFileExt)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		data:    data,
		inUse:   make(map[uint64]*storage.Block),
		dirty:   make(map[uint64]*storage.Block),
		inTxn:   make(map[uint64]*storage.Block),
		free:    newFreePool(opts.Capacity),
		logger:  opts.Logger.Named("cache"),
		metrics: opts.Metrics,
	}

	// Recovery always runs, even if the caller wants write-through.
	log, err := wal.Open(path+storage.LogFileExt, c, wal.Options{
		TxnsInLog: opts.TxnsInLog,
		Compress:  opts.Compress,
		Fs:        opts.Fs,
		Logger:    opts.Logger,
		Metrics:   opts.Metrics,
	})
	if err != nil {
		_ = data.Close()
		return nil, err
	}
	c.recovered = log.Recovered()
	c.log = log

	if !opts.Transactions {
		if err := log.Shutdown(); err != nil {
			_ = data.Close()
			return nil, err
		}
		c.log = nil
	}

	c.logger.Debug("cache opened",
		zap.String("path", data.Path()),
		zap.Bool("transactions", c.log != nil),
		zap.Int("capacity", len(c.free.frames)),
	)
	return c, nil
}

// Recovered reports what the log replay did when the cache was opened.
func (c *Cache) Recovered() wal.RecoveryStats { return c.recovered }

func (c *Cache) TransactionsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log != nil
}

// Get checks out the buffer for block id. A block may be checked out only
// once at a time; a second Get before Release is a corruption error.
func (c *Cache) Get(id uint64) (*storage.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if id > storage.MaxBlocks {
		return nil, fmt.Errorf("bufferpool: get block %d: %w", id, storage.ErrBlockRange)
	}

	if b, ok := c.inTxn[id]; ok {
		delete(c.inTxn, id)
		return c.checkout(b, true), nil
	}
	if b, ok := c.dirty[id]; ok {
		delete(c.dirty, id)
		return c.checkout(b, true), nil
	}
	if b, ok := c.free.take(id); ok {
		return c.checkout(b, true), nil
	}
	if _, ok := c.inUse[id]; ok {
		return nil, storage.Corruptf("get", id, "block already checked out")
	}

	b, err := c.newBuffer(id)
	if err != nil {
		return nil, err
	}
	if err := c.data.ReadBlock(id, b.Data()); err != nil {
		return nil, err
	}
	c.metrics.BlockReads.Inc()
	return c.checkout(b, false), nil
}

func (c *Cache) checkout(b *storage.Block, hit bool) *storage.Block {
	if hit {
		c.metrics.CacheHits.Inc()
	} else {
		c.metrics.CacheMisses.Inc()
	}
	c.inUse[b.ID()] = b
	return b
}

// newBuffer recycles a clean buffer when the free pool is at capacity.
func (c *Cache) newBuffer(id uint64) (*storage.Block, error) {
	if c.free.full() {
		if victim := c.free.evict(); victim != nil {
			c.metrics.CacheEvictions.Inc()
			if err := victim.Reset(id); err != nil {
				return nil, err
			}
			return victim, nil
		}
	}
	return storage.NewBlock(id), nil
}

// Release returns a checked-out buffer. dirty marks it modified even if no
// Put call did.
func (c *Cache) Release(id uint64, dirty bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.inUse[id]
	if !ok {
		return fmt.Errorf("%w: block %d", ErrNotCheckedOut, id)
	}
	delete(c.inUse, id)
	if dirty {
		b.SetDirty()
	}

	switch {
	case b.IsDirty():
		c.dirty[id] = b
	case c.log != nil && b.InTransaction():
		c.inTxn[id] = b
	default:
		c.putFree(b)
	}
	return nil
}

func (c *Cache) putFree(b *storage.Block) {
	if victim := c.free.put(b); victim != nil {
		c.metrics.CacheEvictions.Inc()
	}
}

// Commit hands every dirty block to the log as one transaction, or writes
// them straight to the data file when transactions are disabled.
func (c *Cache) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.commitLocked()
}

func (c *Cache) commitLocked() error {
	if len(c.inUse) != 0 {
		return storage.Corruptf("commit", c.anyInUse(), "%d blocks still checked out", len(c.inUse))
	}
	if len(c.dirty) == 0 {
		return nil
	}

	ids := make([]uint64, 0, len(c.dirty))
	for id := range c.dirty {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	if c.log == nil {
		for _, id := range ids {
			b := c.dirty[id]
			if err := c.WriteBlock(id, b.Data()); err != nil {
				return err
			}
			b.SetClean()
			delete(c.dirty, id)
			c.putFree(b)
		}
		return nil
	}

	if err := c.log.Start(); err != nil {
		return err
	}
	added := make([]uint64, 0, len(ids))
	for _, id := range ids {
		b := c.dirty[id]
		if err := c.log.Add(b); err != nil {
			return c.abortCommit(added, err)
		}
		delete(c.dirty, id)
		c.inTxn[id] = b
		added = append(added, id)
	}
	if err := c.log.Commit(); err != nil {
		return c.abortCommit(added, err)
	}
	return nil
}

// abortCommit puts the blocks of a failed commit back in the dirty pool so a
// later Commit logs them again.
func (c *Cache) abortCommit(added []uint64, cause error) error {
	_, err := c.log.Abort()
	for _, id := range added {
		b := c.inTxn[id]
		delete(c.inTxn, id)
		b.SetDirty()
		c.dirty[id] = b
	}
	c.logger.Warn("commit failed, blocks kept dirty", zap.Int("blocks", len(added)), zap.Error(cause))
	return errors.Join(cause, err)
}

// Rollback drops every dirty buffer and rebuilds the data file from the
// durable log, so the next reads see the last committed state.
func (c *Cache) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.log == nil {
		return ErrTransactionsDisabled
	}
	if len(c.inUse) != 0 {
		return storage.Corruptf("rollback", c.anyInUse(), "%d blocks still checked out", len(c.inUse))
	}

	dropped := len(c.dirty)
	clear(c.dirty)
	if err := c.log.Discard(); err != nil {
		return err
	}
	if len(c.inTxn) != 0 {
		return storage.Corruptf("rollback", 0, "%d blocks still in transaction after discard", len(c.inTxn))
	}
	c.logger.Debug("rolled back", zap.Int("dropped_blocks", dropped))
	return nil
}

// DisableTransactions commits pending work, drains the log and switches to
// write-through. It cannot be undone on this handle.
func (c *Cache) DisableTransactions() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.log == nil {
		return nil
	}
	if err := c.commitLocked(); err != nil {
		return err
	}
	if err := c.log.Shutdown(); err != nil {
		return err
	}
	c.log = nil
	c.logger.Info("transactions disabled")
	return nil
}

// Sync forces the data file to stable storage. With transactions enabled it
// first checkpoints the log, so every committed block is in the data file.
func (c *Cache) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.log != nil {
		// The checkpoint syncs the data file itself.
		return c.log.Checkpoint()
	}
	return c.data.Sync()
}

// WriteBlock writes one image to the data file. The log calls it during
// replay and rotation.
func (c *Cache) WriteBlock(id uint64, data []byte) error {
	if err := c.data.WriteBlock(id, data); err != nil {
		return err
	}
	c.metrics.BlockWrites.Inc()
	return nil
}

// ReleaseFromTransaction moves b out of the in-transaction pool once every
// transaction that logged it has reached the data file.
func (c *Cache) ReleaseFromTransaction(b *storage.Block, keep bool) {
	if _, ok := c.inTxn[b.ID()]; !ok {
		return
	}
	delete(c.inTxn, b.ID())
	if keep {
		c.putFree(b)
	}
}

// Close commits what is dirty, drains the log and closes the data file. Any
// block still checked out is reported as a leak.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if len(c.dirty) != 0 {
		errs = append(errs, c.commitLocked())
	}
	if c.log != nil {
		errs = append(errs, c.log.Shutdown())
		c.log = nil
	}
	if n := len(c.inUse); n != 0 {
		errs = append(errs, storage.Corruptf("close", c.anyInUse(), "%d blocks still checked out", n))
	}
	if n := len(c.dirty); n != 0 {
		errs = append(errs, storage.Corruptf("close", 0, "%d dirty blocks not committed", n))
	}
	if n := len(c.inTxn); n != 0 {
		errs = append(errs, storage.Corruptf("close", 0, "%d blocks not flushed from the log", n))
	}
	c.free.clear()
	errs = append(errs, c.data.Close())
	return errors.Join(errs...)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		InUse:    len(c.inUse),
		Dirty:    len(c.dirty),
		InTxn:    len(c.inTxn),
		Free:     c.free.len(),
		Capacity: len(c.free.frames),
	}
}

func (c *Cache) anyInUse() uint64 {
	for id := range c.inUse {
		return id
	}
	return 0
}
