package bufferpool

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tuannm99/novastore/internal/alias/bx"
	"github.com/tuannm99/novastore/internal/metrics"
	"github.com/tuannm99/novastore/internal/storage"
)

func newTestCache(t *testing.T, opts Options) (*Cache, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache")
	c := openAt(t, path, opts)
	return c, path
}

func openAt(t *testing.T, path string, opts Options) *Cache {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	c, err := Open(path, opts)
	require.NoError(t, err)
	return c
}

var errLogWrite = errors.New("injected log write failure")

// failingLogFs tears every write to the log file while failLog is set.
type failingLogFs struct {
	afero.Fs
	failLog bool
}

func (f *failingLogFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil || !strings.HasSuffix(name, storage.LogFileExt) {
		return file, err
	}
	return &failingLogFile{File: file, fs: f}, nil
}

type failingLogFile struct {
	afero.File
	fs *failingLogFs
}

func (f *failingLogFile) Write(p []byte) (int, error) {
	if f.fs.failLog {
		n, _ := f.File.Write(p[:len(p)/2])
		return n, errLogWrite
	}
	return f.File.Write(p)
}

func txnOpts() Options { return Options{Capacity: 8, Transactions: true, TxnsInLog: 10} }

// write checks out id, stamps v at offset 0 and releases it dirty.
func write(t *testing.T, c *Cache, id uint64, v uint64) {
	t.Helper()
	b, err := c.Get(id)
	require.NoError(t, err)
	b.PutU64(0, v)
	require.NoError(t, c.Release(id, false))
}

func read(t *testing.T, c *Cache, id uint64) uint64 {
	t.Helper()
	b, err := c.Get(id)
	require.NoError(t, err)
	v := b.U64(0)
	require.NoError(t, c.Release(id, false))
	return v
}

func readOnDisk(t *testing.T, path string, id uint64) uint64 {
	t.Helper()
	df, err := storage.OpenDataFile(afero.NewOsFs(), path+storage.DataFileExt)
	require.NoError(t, err)
	defer func() { _ = df.Close() }()
	buf := make([]byte, storage.BlockSize)
	require.NoError(t, df.ReadBlock(id, buf))
	return bx.U64At(buf, 0)
}

func TestCache_GetBeyondEOFIsZero(t *testing.T) {
	c, _ := newTestCache(t, txnOpts())

	b, err := c.Get(42)
	require.NoError(t, err)
	require.Equal(t, make([]byte, storage.BlockSize), b.Data())
	require.Equal(t, 1, c.Stats().InUse)
	require.NoError(t, c.Release(42, false))
	require.Equal(t, 1, c.Stats().Free)
	require.NoError(t, c.Close())
}

func TestCache_DoubleCheckout(t *testing.T) {
	c, _ := newTestCache(t, txnOpts())

	_, err := c.Get(1)
	require.NoError(t, err)
	_, err = c.Get(1)
	require.True(t, storage.IsCorruption(err))
	require.NoError(t, c.Release(1, false))
}

func TestCache_ReleaseUnknown(t *testing.T) {
	c, _ := newTestCache(t, txnOpts())
	require.ErrorIs(t, c.Release(3, true), ErrNotCheckedOut)
}

func TestCache_BlockRange(t *testing.T) {
	c, _ := newTestCache(t, txnOpts())
	_, err := c.Get(storage.MaxBlocks + 1)
	require.ErrorIs(t, err, storage.ErrBlockRange)
}

func TestCache_PoolTransitions(t *testing.T) {
	c, _ := newTestCache(t, txnOpts())

	write(t, c, 1, 100)
	require.Equal(t, Stats{Dirty: 1, Capacity: 8}, c.Stats())

	// the release flag alone is enough to mark dirty
	_, err := c.Get(2)
	require.NoError(t, err)
	require.NoError(t, c.Release(2, true))
	require.Equal(t, 2, c.Stats().Dirty)

	require.NoError(t, c.Commit())
	require.Equal(t, Stats{InTxn: 2, Capacity: 8}, c.Stats())

	// a logged block checked out and released clean goes back to inTxn
	require.Equal(t, uint64(100), read(t, c, 1))
	require.Equal(t, 2, c.Stats().InTxn)
	require.NoError(t, c.Close())
}

func TestCache_CommitWithCheckout(t *testing.T) {
	c, _ := newTestCache(t, txnOpts())
	write(t, c, 1, 1)
	_, err := c.Get(2)
	require.NoError(t, err)

	require.True(t, storage.IsCorruption(c.Commit()))
	require.True(t, storage.IsCorruption(c.Rollback()))
	require.NoError(t, c.Release(2, false))
	require.NoError(t, c.Commit())
}

func TestCache_CloseAndReopen(t *testing.T) {
	c, path := newTestCache(t, txnOpts())
	write(t, c, 1, 111)
	write(t, c, 5, 555)
	require.NoError(t, c.Commit())
	write(t, c, 6, 666) // committed by Close
	require.NoError(t, c.Close())
	require.NoFileExists(t, path+storage.LogFileExt)

	c2 := openAt(t, path, txnOpts())
	require.Zero(t, c2.Recovered().Batches)
	require.Equal(t, uint64(111), read(t, c2, 1))
	require.Equal(t, uint64(555), read(t, c2, 5))
	require.Equal(t, uint64(666), read(t, c2, 6))
	require.NoError(t, c2.Close())
}

func TestCache_CrashRecovery(t *testing.T) {
	c, path := newTestCache(t, txnOpts())
	write(t, c, 1, 7)
	require.NoError(t, c.Commit())
	write(t, c, 2, 8)
	require.NoError(t, c.Commit())
	write(t, c, 3, 9) // never committed
	// the handle is abandoned here

	require.Zero(t, readOnDisk(t, path, 1))

	c2 := openAt(t, path, txnOpts())
	require.Equal(t, 2, c2.Recovered().Batches)
	require.Equal(t, uint64(7), read(t, c2, 1))
	require.Equal(t, uint64(8), read(t, c2, 2))
	require.Zero(t, read(t, c2, 3))
	require.NoError(t, c2.Close())
}

func TestCache_Rollback(t *testing.T) {
	c, _ := newTestCache(t, txnOpts())
	write(t, c, 1, 10)
	require.NoError(t, c.Commit())

	write(t, c, 1, 20)
	write(t, c, 2, 30)
	require.NoError(t, c.Rollback())
	require.Equal(t, Stats{Capacity: 8}, c.Stats())

	require.Equal(t, uint64(10), read(t, c, 1))
	require.Zero(t, read(t, c, 2))

	// rolling back twice is the same as once
	require.NoError(t, c.Rollback())
	require.Equal(t, uint64(10), read(t, c, 1))
	require.NoError(t, c.Close())
}

func TestCache_RotationWritesDataFile(t *testing.T) {
	opts := txnOpts()
	opts.TxnsInLog = 2
	c, path := newTestCache(t, opts)

	write(t, c, 1, 1)
	require.NoError(t, c.Commit())
	write(t, c, 2, 2)
	require.NoError(t, c.Commit())
	require.Zero(t, readOnDisk(t, path, 1))

	write(t, c, 3, 3)
	require.NoError(t, c.Commit())
	require.Equal(t, uint64(1), readOnDisk(t, path, 1))
	require.Equal(t, uint64(2), readOnDisk(t, path, 2))
	require.Zero(t, readOnDisk(t, path, 3))
	require.Equal(t, Stats{InTxn: 1, Free: 2, Capacity: 8}, c.Stats())
	require.NoError(t, c.Close())
}

func TestCache_WriteThrough(t *testing.T) {
	c, path := newTestCache(t, Options{Capacity: 4})
	require.False(t, c.TransactionsEnabled())
	require.NoFileExists(t, path+storage.LogFileExt)

	write(t, c, 4, 44)
	require.NoError(t, c.Commit())
	require.Equal(t, uint64(44), readOnDisk(t, path, 4))
	require.Equal(t, Stats{Free: 1, Capacity: 4}, c.Stats())

	require.ErrorIs(t, c.Rollback(), ErrTransactionsDisabled)
	require.NoError(t, c.Sync())
	require.NoError(t, c.Close())
}

func TestCache_DisableTransactions(t *testing.T) {
	c, path := newTestCache(t, txnOpts())
	write(t, c, 1, 5)
	require.NoError(t, c.DisableTransactions())
	require.False(t, c.TransactionsEnabled())
	require.NoFileExists(t, path+storage.LogFileExt)
	require.Equal(t, uint64(5), readOnDisk(t, path, 1))

	require.NoError(t, c.DisableTransactions())
	require.NoError(t, c.Close())
}

func TestCache_CloseReportsLeak(t *testing.T) {
	c, _ := newTestCache(t, txnOpts())
	_, err := c.Get(9)
	require.NoError(t, err)

	err = c.Close()
	require.True(t, storage.IsCorruption(err))
	require.NoError(t, c.Close())

	_, err = c.Get(1)
	require.ErrorIs(t, err, ErrClosed)
}

func TestCache_FreePoolIsBounded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg, "test")
	require.NoError(t, err)

	c, _ := newTestCache(t, Options{Capacity: 2, Metrics: m})
	for id := range uint64(5) {
		read(t, c, id)
	}
	require.Equal(t, 2, c.Stats().Free)
	require.Equal(t, float64(5), testutil.ToFloat64(m.CacheMisses))
	require.Equal(t, float64(3), testutil.ToFloat64(m.CacheEvictions))

	// the two most recent blocks are still cached
	read(t, c, 4)
	require.Equal(t, float64(1), testutil.ToFloat64(m.CacheHits))
	require.NoError(t, c.Close())
}

func TestCache_FailedCommitKeepsBlocksDirty(t *testing.T) {
	fs := &failingLogFs{Fs: afero.NewOsFs()}
	opts := txnOpts()
	opts.Fs = fs
	c, path := newTestCache(t, opts)

	write(t, c, 1, 11)
	write(t, c, 2, 22)
	fs.failLog = true
	require.ErrorIs(t, c.Commit(), errLogWrite)
	require.Equal(t, Stats{Dirty: 2, Capacity: 8}, c.Stats())

	// the retry logs both blocks again
	fs.failLog = false
	require.NoError(t, c.Commit())
	require.Equal(t, Stats{InTxn: 2, Capacity: 8}, c.Stats())

	// crash: reopen without closing the first handle
	c2 := openAt(t, path, txnOpts())
	require.Equal(t, 1, c2.Recovered().Batches)
	require.False(t, c2.Recovered().Truncated)
	require.Equal(t, uint64(11), read(t, c2, 1))
	require.Equal(t, uint64(22), read(t, c2, 2))
	require.NoError(t, c2.Close())
}

func TestCache_FailedCommitThenRollback(t *testing.T) {
	fs := &failingLogFs{Fs: afero.NewOsFs()}
	opts := txnOpts()
	opts.Fs = fs
	c, _ := newTestCache(t, opts)

	write(t, c, 1, 1)
	require.NoError(t, c.Commit())

	write(t, c, 1, 2)
	fs.failLog = true
	require.Error(t, c.Commit())
	fs.failLog = false

	require.NoError(t, c.Rollback())
	require.Equal(t, uint64(1), read(t, c, 1))
	require.NoError(t, c.Close())
}

func TestCache_SyncCheckpointsLog(t *testing.T) {
	c, path := newTestCache(t, txnOpts())
	write(t, c, 3, 33)
	require.NoError(t, c.Commit())
	require.Zero(t, readOnDisk(t, path, 3))

	require.NoError(t, c.Sync())
	require.Equal(t, uint64(33), readOnDisk(t, path, 3))
	require.Equal(t, Stats{Free: 1, Capacity: 8}, c.Stats())
	require.NoError(t, c.Close())

	require.ErrorIs(t, c.Sync(), ErrClosed)
}
