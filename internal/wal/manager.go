package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/tuannm99/novastore/internal/alias/bx"
	"github.com/tuannm99/novastore/internal/metrics"
	"github.com/tuannm99/novastore/internal/storage"
)

const (
	magicU16 uint16 = 0x1360

	DefaultTxnsInLog = 10
)

var ErrClosed = errors.New("wal: log is closed")

// Owner receives replayed and flushed block images. It lets the log write to
// the data file and hand buffers back to the cache without importing it.
type Owner interface {
	WriteBlock(id uint64, data []byte) error
	Sync() error
	// ReleaseFromTransaction is called once a buffer no longer belongs to any
	// logged transaction. keep=false means the buffer must not be reused.
	ReleaseFromTransaction(b *storage.Block, keep bool)
}

type Options struct {
	TxnsInLog int
	Compress  bool
	// Fs defaults to the OS filesystem.
	Fs      afero.Fs
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// RecoveryStats describes the replay performed when the log was opened.
type RecoveryStats struct {
	Batches   int
	Blocks    int
	Truncated bool
}

type txnEntry struct {
	block *storage.Block
	image []byte
}

// Manager is the write-ahead log. It keeps the last TxnsInLog committed
// transactions in memory (and in the log file); when the ring fills, every
// logged block is written to the data file and the log starts over.
type Manager struct {
	owner    Owner
	fs       afero.Fs
	path     string
	f        afero.File
	size     int64 // bytes in the log file that hold complete batches
	txns     [][]txnEntry
	cur      int
	compress bool

	recovered RecoveryStats

	logger  *zap.Logger
	metrics *metrics.Collector
}

// Open replays any log left at path into the owner, then starts a fresh log.
func Open(path string, owner Owner, opts Options) (*Manager, error) {
	if opts.TxnsInLog <= 0 {
		opts.TxnsInLog = DefaultTxnsInLog
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	m := &Manager{
		owner:    owner,
		fs:       opts.Fs,
		path:     path,
		txns:     make([][]txnEntry, opts.TxnsInLog),
		cur:      -1,
		compress: opts.Compress,
		logger:   opts.Logger.Named("wal"),
		metrics:  opts.Metrics,
	}

	stats, err := m.recover()
	if err != nil {
		return nil, err
	}
	m.recovered = stats
	if err := m.open(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) Recovered() RecoveryStats { return m.recovered }

// Start opens a new transaction slot, flushing the ring first if it is full.
func (m *Manager) Start() error {
	if m.f == nil {
		return ErrClosed
	}
	m.cur++
	if m.cur == len(m.txns) {
		if err := m.flush(true); err != nil {
			return err
		}
		m.cur = 0
	}
	m.txns[m.cur] = []txnEntry{}
	return nil
}

// Add records b as part of the current transaction. The image logged is
// the content of b at this moment.
func (m *Manager) Add(b *storage.Block) error {
	if m.cur < 0 || m.txns[m.cur] == nil {
		return storage.Corruptf("wal add", b.ID(), "no transaction started")
	}
	b.IncTxn()
	m.txns[m.cur] = append(m.txns[m.cur], txnEntry{block: b, image: b.Snapshot()})
	return nil
}

// Commit appends the current transaction to the log and syncs it. Once this
// returns nil the transaction survives a crash. On failure the transaction
// is dropped and its blocks no longer count as in transaction.
func (m *Manager) Commit() error {
	if m.f == nil {
		return ErrClosed
	}
	if m.cur < 0 || m.txns[m.cur] == nil {
		return storage.Corruptf("wal commit", 0, "no transaction started")
	}
	entries := m.txns[m.cur]
	images := make([]Image, len(entries))
	for i, e := range entries {
		images[i] = Image{Block: e.block.ID(), Data: e.image}
	}

	frame := encodeBatch(nil, images, m.compress)
	if _, err := m.f.Write(frame); err != nil {
		return m.abortCommit(fmt.Errorf("wal: append batch: %w", err))
	}
	if err := m.f.Sync(); err != nil {
		return m.abortCommit(fmt.Errorf("wal: sync: %w", err))
	}
	m.size += int64(len(frame))

	m.metrics.LogCommits.Inc()
	m.metrics.LogBytes.Add(float64(len(frame)))
	m.logger.Debug("committed transaction",
		zap.Int("slot", m.cur),
		zap.Int("blocks", len(entries)),
		zap.Int("bytes", len(frame)),
	)
	return nil
}

// abortCommit undoes a failed Commit: the log loses the partial batch and
// the transaction is dropped.
func (m *Manager) abortCommit(cause error) error {
	err := m.restoreTail(cause)
	if _, aerr := m.Abort(); aerr != nil {
		err = errors.Join(err, aerr)
	}
	return err
}

// restoreTail cuts the log back to its last complete batch after a failed
// append, so a later batch is never stored behind a torn one. If the log
// cannot be restored the failure is reported as corruption.
func (m *Manager) restoreTail(cause error) error {
	if err := m.f.Truncate(m.size); err != nil {
		return storage.Corruptf("wal commit", 0, "restore log tail after %v: %v", cause, err)
	}
	if _, err := m.f.Seek(m.size, io.SeekStart); err != nil {
		return storage.Corruptf("wal commit", 0, "restore log tail after %v: %v", cause, err)
	}
	return cause
}

// Abort drops the current transaction after a failed Add or Commit and
// returns the blocks it held, no longer counted as in transaction.
func (m *Manager) Abort() ([]*storage.Block, error) {
	if m.cur < 0 || m.txns[m.cur] == nil {
		return nil, nil
	}
	entries := m.txns[m.cur]
	blocks := make([]*storage.Block, 0, len(entries))
	for _, e := range entries {
		if err := e.block.DecTxn(); err != nil {
			return nil, err
		}
		blocks = append(blocks, e.block)
	}
	m.txns[m.cur] = nil
	m.cur--
	m.logger.Debug("aborted transaction", zap.Int("blocks", len(blocks)))
	return blocks, nil
}

// Shutdown writes every logged block to the data file and removes the log.
func (m *Manager) Shutdown() error {
	if m.f == nil {
		return nil
	}
	return m.flush(false)
}

// Checkpoint writes every logged block to the data file and restarts the log.
func (m *Manager) Checkpoint() error {
	if m.f == nil {
		return ErrClosed
	}
	return m.flush(true)
}

// Discard forgets the in-memory transactions and re-applies what the log
// file holds, leaving the data file at the last durable commit.
func (m *Manager) Discard() error {
	if m.f == nil {
		return ErrClosed
	}
	if err := m.f.Close(); err != nil {
		return fmt.Errorf("wal: close: %w", err)
	}
	m.f = nil

	for i, entries := range m.txns {
		for _, e := range entries {
			if err := e.block.DecTxn(); err != nil {
				return err
			}
			if !e.block.InTransaction() {
				m.owner.ReleaseFromTransaction(e.block, false)
			}
		}
		m.txns[i] = nil
	}

	stats, err := m.recover()
	if err != nil {
		return err
	}
	m.logger.Debug("discarded in-memory transactions", zap.Int("replayed_batches", stats.Batches))
	return m.open()
}

func (m *Manager) flush(reopen bool) error {
	if err := m.f.Sync(); err != nil {
		return fmt.Errorf("wal: sync: %w", err)
	}
	if err := m.f.Close(); err != nil {
		return fmt.Errorf("wal: close: %w", err)
	}
	m.f = nil

	// Latest image wins when a block was logged by several transactions.
	seen := make(map[uint64]struct{})
	var written int
	for i := len(m.txns) - 1; i >= 0; i-- {
		entries := m.txns[i]
		for j := len(entries) - 1; j >= 0; j-- {
			e := entries[j]
			if _, ok := seen[e.block.ID()]; ok {
				continue
			}
			seen[e.block.ID()] = struct{}{}
			if err := m.owner.WriteBlock(e.block.ID(), e.image); err != nil {
				return err
			}
			written++
		}
	}

	for i, entries := range m.txns {
		for _, e := range entries {
			if err := e.block.DecTxn(); err != nil {
				return err
			}
			if !e.block.InTransaction() {
				m.owner.ReleaseFromTransaction(e.block, true)
			}
		}
		m.txns[i] = nil
	}
	if err := m.owner.Sync(); err != nil {
		return err
	}

	m.metrics.LogFlushes.Inc()
	m.logger.Debug("flushed log to data file", zap.Int("blocks", written))

	m.cur = -1
	if reopen {
		return m.open()
	}
	// A missing log means a clean shutdown.
	return m.removeLog()
}

func (m *Manager) open() error {
	f, err := m.fs.OpenFile(m.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, storage.FileMode0644)
	if err != nil {
		return fmt.Errorf("wal: open: %w", err)
	}
	hdr := bx.AppendU16(nil, magicU16)
	if _, err := f.Write(hdr); err != nil {
		_ = f.Close()
		return fmt.Errorf("wal: write header: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("wal: sync header: %w", err)
	}
	m.f = f
	m.size = int64(len(hdr))
	m.cur = -1
	return nil
}

// recover replays every intact batch in the log file, syncs the data file
// and removes the log. Replay stops at the first torn or damaged batch.
func (m *Manager) recover() (RecoveryStats, error) {
	info, err := m.fs.Stat(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RecoveryStats{}, nil
		}
		return RecoveryStats{}, fmt.Errorf("wal: stat: %w", err)
	}
	if info.Size() == 0 {
		return RecoveryStats{}, m.removeLog()
	}

	stats, clean, err := m.replay(info.Size())
	if err != nil {
		return stats, err
	}
	if !clean {
		if err := m.owner.Sync(); err != nil {
			return stats, err
		}
		m.logger.Info("recovery finished",
			zap.Int("batches", stats.Batches),
			zap.Int("blocks", stats.Blocks),
			zap.Bool("truncated", stats.Truncated),
		)
	}
	return stats, m.removeLog()
}

// replay applies the batches of the log file to the owner. clean reports a
// log whose header could not be read, which is treated as a clean shutdown.
func (m *Manager) replay(size int64) (stats RecoveryStats, clean bool, err error) {
	f, err := m.fs.Open(m.path)
	if err != nil {
		return stats, false, fmt.Errorf("wal: open for recovery: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 1<<20)
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil || bx.U16At(hdr[:], 0) != magicU16 {
		m.logger.Warn("log header unreadable, treating as clean", zap.String("path", m.path), zap.Error(ErrBadMagic))
		return stats, true, nil
	}

	m.logger.Info("recovering from log", zap.String("path", m.path), zap.Int64("size", size))
	for {
		images, err := decodeBatch(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				stats.Truncated = true
				m.logger.Warn("log tail damaged, stopping replay",
					zap.Int("applied_batches", stats.Batches),
					zap.Error(err),
				)
			}
			return stats, false, nil
		}
		for _, img := range images {
			if err := m.owner.WriteBlock(img.Block, img.Data); err != nil {
				return stats, false, err
			}
		}
		stats.Batches++
		stats.Blocks += len(images)
		m.metrics.RecoveredBatches.Inc()
	}
}

func (m *Manager) removeLog() error {
	if err := m.fs.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("wal: remove log: %w", err)
	}
	return nil
}
