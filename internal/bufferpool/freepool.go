package bufferpool

import "github.com/tuannm99/novastore/internal/storage"

// freePool holds clean, unchecked-out buffers that match the data file. It is
// bounded: once full, the replacer picks a buffer to give up.
type freePool struct {
	frames []*storage.Block // nil == empty slot
	table  map[uint64]int   // block id -> slot
	empty  []int            // unused slots, used as a stack
	policy Replacer
}

func newFreePool(capacity int) *freePool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	fp := &freePool{
		frames: make([]*storage.Block, capacity),
		table:  make(map[uint64]int, capacity),
		empty:  make([]int, 0, capacity),
		policy: newClockReplacer(capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		fp.empty = append(fp.empty, i)
	}
	return fp
}

func (fp *freePool) len() int { return len(fp.table) }

func (fp *freePool) full() bool { return len(fp.empty) == 0 }

// take removes the buffer for id, if cached.
func (fp *freePool) take(id uint64) (*storage.Block, bool) {
	slot, ok := fp.table[id]
	if !ok {
		return nil, false
	}
	b := fp.frames[slot]
	fp.drop(slot)
	return b, true
}

// put caches b and returns the buffer it displaced, if any.
func (fp *freePool) put(b *storage.Block) *storage.Block {
	var victim *storage.Block
	if fp.full() {
		victim = fp.evict()
	}
	slot := fp.empty[len(fp.empty)-1]
	fp.empty = fp.empty[:len(fp.empty)-1]

	fp.frames[slot] = b
	fp.table[b.ID()] = slot
	fp.policy.RecordAccess(slot)
	fp.policy.SetEvictable(slot, true)
	return victim
}

// evict gives up one buffer. The pool must not be empty.
func (fp *freePool) evict() *storage.Block {
	slot, ok := fp.policy.Evict()
	if !ok {
		return nil
	}
	b := fp.frames[slot]
	fp.frames[slot] = nil
	delete(fp.table, b.ID())
	fp.empty = append(fp.empty, slot)
	return b
}

func (fp *freePool) drop(slot int) {
	b := fp.frames[slot]
	fp.frames[slot] = nil
	delete(fp.table, b.ID())
	fp.policy.Remove(slot)
	fp.empty = append(fp.empty, slot)
}

func (fp *freePool) clear() {
	for id, slot := range fp.table {
		fp.frames[slot] = nil
		fp.policy.Remove(slot)
		fp.empty = append(fp.empty, slot)
		delete(fp.table, id)
	}
}
