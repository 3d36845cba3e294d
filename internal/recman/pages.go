package recman

import "github.com/tuannm99/novastore/internal/storage"

// Accessors over a checked-out block. They take the block and an offset
// instead of wrapping it, so no typed view outlives a single call.

func checkPage(b *storage.Block, t PageType, op string) error {
	if got := b.U16(phMagic); got != t.magic() {
		return storage.Corruptf(op, b.ID(), "page magic 0x%04x, want %s (0x%04x)", got, t, t.magic())
	}
	return nil
}

func isPage(b *storage.Block, t PageType) bool { return b.U16(phMagic) == t.magic() }

// initPage clears b and links it after prev as a page of type t.
func initPage(b *storage.Block, t PageType, prev uint64) {
	b.Zero()
	b.PutU16(phMagic, t.magic())
	b.PutU64(phPrev, prev)
}

func pageNext(b *storage.Block) uint64 { return b.U64(phNext) }
func pagePrev(b *storage.Block) uint64 { return b.U64(phPrev) }

func setPageNext(b *storage.Block, id uint64) { b.PutU64(phNext, id) }
func setPagePrev(b *storage.Block, id uint64) { b.PutU64(phPrev, id) }

func setPageType(b *storage.Block, t PageType) { b.PutU16(phMagic, t.magic()) }

// File header.

func listOffset(t PageType) int { return fhLists + int(t)*16 }

func headerFirst(h *storage.Block, t PageType) uint64 { return h.U64(listOffset(t)) }
func headerLast(h *storage.Block, t PageType) uint64 { return h.U64(listOffset(t) + 8) }

func setHeaderFirst(h *storage.Block, t PageType, id uint64) { h.PutU64(listOffset(t), id) }
func setHeaderLast(h *storage.Block, t PageType, id uint64) { h.PutU64(listOffset(t)+8, id) }

func headerRoot(h *storage.Block, slot int) uint64 { return h.U64(fhRoots + slot*8) }
func setHeaderRoot(h *storage.Block, slot int, v uint64) { h.PutU64(fhRoots+slot*8, v) }

// Data page and record headers.

func dataFirst(b *storage.Block) int { return int(b.U16(dpFirst)) }
func setDataFirst(b *storage.Block, off int) { b.PutU16(dpFirst, uint16(off)) }

func recCurrent(b *storage.Block, off int) int { return int(b.U32(off + rhCurrent)) }
func recAvailable(b *storage.Block, off int) int { return int(b.U32(off + rhAvailable)) }

func setRecCurrent(b *storage.Block, off, n int) { b.PutU32(off+rhCurrent, uint32(n)) }
func setRecAvailable(b *storage.Block, off, n int) { b.PutU32(off+rhAvailable, uint32(n)) }

// Row id slots.

func readLocation(b *storage.Block, off int) Location {
	return Location{Block: b.U64(off + slotBlock), Offset: b.U16(off + slotOffset)}
}

func writeLocation(b *storage.Block, off int, l Location) {
	b.PutU64(off+slotBlock, l.Block)
	b.PutU16(off+slotOffset, l.Offset)
}

func translationSlot(i int) int { return tpSlots + i*physicalRowIDSize }

// translationIndex maps a rowid offset back to its slot, rejecting offsets
// that do not start a slot.
func translationIndex(off uint16) (int, bool) {
	o := int(off)
	if o < tpSlots || (o-tpSlots)%physicalRowIDSize != 0 {
		return 0, false
	}
	i := (o - tpSlots) / physicalRowIDSize
	return i, i < translationSlots
}

// Free-list pages.

func freeCount(b *storage.Block) int { return int(b.U16(flCount)) }
func setFreeCount(b *storage.Block, n int) { b.PutU16(flCount, uint16(n)) }
func freeLogicalSlot(i int) int { return flSlots + i*physicalRowIDSize }
func freePhysicalSlot(i int) int { return flSlots + i*freePhysicalRowIDSize }
func freePhysicalSize(b *storage.Block, i int) int {
	return int(b.U32(freePhysicalSlot(i) + slotSize))
}

func setFreePhysical(b *storage.Block, i int, l Location, size int) {
	off := freePhysicalSlot(i)
	writeLocation(b, off, l)
	b.PutU32(off+slotSize, uint32(size))
}
