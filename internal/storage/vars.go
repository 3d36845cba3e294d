package storage

import (
	"errors"
)

const (
	OneKB = 1 << 10

	// BlockSize is the unit of I/O. Offsets inside a block are packed into
	// 16 bits of a rowid, so it must never exceed 32 KiB.
	BlockSize = 8 * OneKB

	// MaxBlocks bounds block numbers to 48 bits so (block<<16 | offset)
	// fits one uint64.
	MaxBlocks = 0x7FFFFFFFFFFF
)

const (
	FileMode0644 = 0o644
	FileMode0755 = 0o755
)

const (
	DataFileExt = ".db"
	LogFileExt  = ".lg"
)

var (
	ErrWrongSize     = errors.New("storage: buffer size != BlockSize")
	ErrBlockRange    = errors.New("storage: block number out of range")
	ErrInTransaction = errors.New("storage: block is part of a pending transaction")
	ErrFileClosed    = errors.New("storage: data file is closed")
)
