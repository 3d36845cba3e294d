package storage

import (
	"fmt"

	"github.com/tuannm99/novastore/internal/alias/bx"
)

// Block is the in-memory image of one disk block.
//
// dirty is set by every Put* call and cleared once the contents have been
// handed to the log (or written through when transactions are off). txnCount
// counts the logged transactions that still reference this block and have not
// yet reached the data file; while it is non-zero the buffer must stay cached.
type Block struct {
	id       uint64
	data     []byte
	dirty    bool
	txnCount int
}

func NewBlock(id uint64) *Block {
	return &Block{id: id, data: make([]byte, BlockSize)}
}

func (b *Block) ID() uint64 { return b.id }

// Data exposes the raw bytes. Writers going through Data must call SetDirty.
func (b *Block) Data() []byte { return b.data }

// Reset recycles the buffer for another block.
func (b *Block) Reset(id uint64) error {
	if b.txnCount != 0 {
		return fmt.Errorf("reset block %d: %w", b.id, ErrInTransaction)
	}
	if id > MaxBlocks {
		return fmt.Errorf("reset block %d: %w", id, ErrBlockRange)
	}
	b.id = id
	b.dirty = false
	bx.Zero(b.data)
	return nil
}

func (b *Block) SetDirty()     { b.dirty = true }
func (b *Block) SetClean()     { b.dirty = false }
func (b *Block) IsDirty() bool { return b.dirty }

func (b *Block) InTransaction() bool { return b.txnCount != 0 }
func (b *Block) TxnCount() int       { return b.txnCount }

// Snapshot returns an independent copy of the current contents and marks the
// buffer clean. The copy is what the log persists for this transaction.
func (b *Block) Snapshot() []byte {
	img := make([]byte, BlockSize)
	copy(img, b.data)
	b.dirty = false
	return img
}

func (b *Block) IncTxn() {
	b.txnCount++
}

func (b *Block) DecTxn() error {
	if b.txnCount == 0 {
		return Corruptf("transaction release", b.id, "transaction count below zero")
	}
	b.txnCount--
	return nil
}

// Zero clears the whole block.
func (b *Block) Zero() {
	bx.Zero(b.data)
	b.dirty = true
}

func (b *Block) U16(off int) uint16 { return bx.U16At(b.data, off) }
func (b *Block) U32(off int) uint32 { return bx.U32At(b.data, off) }
func (b *Block) U64(off int) uint64 { return bx.U64At(b.data, off) }

func (b *Block) PutU16(off int, v uint16) {
	bx.PutU16At(b.data, off, v)
	b.dirty = true
}

func (b *Block) PutU32(off int, v uint32) {
	bx.PutU32At(b.data, off, v)
	b.dirty = true
}

func (b *Block) PutU64(off int, v uint64) {
	bx.PutU64At(b.data, off, v)
	b.dirty = true
}

func (b *Block) String() string {
	return fmt.Sprintf("Block(%d, dirty=%t, txn=%d)", b.id, b.dirty, b.txnCount)
}
