package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// DataFile is the block-addressed data file. Block n lives at byte offset
// n*BlockSize.
type DataFile struct {
	mu   sync.Mutex
	f    afero.File
	path string
}

func OpenDataFile(fs afero.Fs, path string) (*DataFile, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := fs.MkdirAll(dir, FileMode0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	// RDWR | CREATE (no truncate)
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, FileMode0644)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	return &DataFile{f: f, path: path}, nil
}

func (d *DataFile) Path() string { return d.path }

// ReadBlock reads exactly one block into dst. Anything past the end of the
// file reads as zeroes, so blocks beyond EOF are lazily created.
func (d *DataFile) ReadBlock(id uint64, dst []byte) error {
	if len(dst) != BlockSize {
		return ErrWrongSize
	}
	if id > MaxBlocks {
		return fmt.Errorf("read block %d: %w", id, ErrBlockRange)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return ErrFileClosed
	}

	n, err := d.f.ReadAt(dst, int64(id)*BlockSize)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read block %d: %w", id, err)
	}
	clear(dst[n:])
	return nil
}

// WriteBlock writes exactly one block from src.
func (d *DataFile) WriteBlock(id uint64, src []byte) error {
	if len(src) != BlockSize {
		return ErrWrongSize
	}
	if id > MaxBlocks {
		return fmt.Errorf("write block %d: %w", id, ErrBlockRange)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return ErrFileClosed
	}

	n, err := d.f.WriteAt(src, int64(id)*BlockSize)
	if err != nil {
		return fmt.Errorf("write block %d: %w", id, err)
	}
	if n != BlockSize {
		return fmt.Errorf("write block %d: %w", id, io.ErrShortWrite)
	}
	return nil
}

func (d *DataFile) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return ErrFileClosed
	}
	return d.f.Sync()
}

// Size returns the current file length in bytes.
func (d *DataFile) Size() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return 0, ErrFileClosed
	}
	info, err := d.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (d *DataFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}
