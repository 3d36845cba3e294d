package recman

import (
	"fmt"

	"github.com/tuannm99/novastore/internal/storage"
)

// PageType tags every non-header block. The on-disk magic is
// pageMagicBase plus the type.
type PageType uint16

const (
	FreePage PageType = iota
	DataPage
	TranslationPage
	FreeLogicalPage
	FreePhysicalPage

	numPageTypes = 5
)

const (
	fileHeaderMagic uint16 = 0x1350
	pageMagicBase   uint16 = 0x1351
)

func (t PageType) magic() uint16 { return pageMagicBase + uint16(t) }

func (t PageType) String() string {
	switch t {
	case FreePage:
		return "free"
	case DataPage:
		return "data"
	case TranslationPage:
		return "translation"
	case FreeLogicalPage:
		return "free_logical"
	case FreePhysicalPage:
		return "free_physical"
	default:
		return fmt.Sprintf("PageType(%d)", uint16(t))
	}
}

// File header (block 0):
//
//	@0   u16 magic
//	@2   5 x (u64 first, u64 last), one pair per PageType
//	@82  u64 roots, as many as fit
//
// The free list's last field is the next never-used block number.
const (
	fhMagic = 0
	fhLists = 2
	fhRoots = fhLists + numPageTypes*16

	RootCount = (storage.BlockSize - fhRoots) / 8
)

// Page header, the prefix of every other block.
const (
	phMagic        = 0
	phNext         = 2
	phPrev         = 10
	pageHeaderSize = 18
)

// Data page: offset of the first record header that starts on this page
// (0 when the page only carries the tail of a longer record), then data.
const (
	dpFirst     = pageHeaderSize
	dpData      = dpFirst + 2
	dataPerPage = storage.BlockSize - dpData
)

// Record header.
const (
	rhCurrent        = 0
	rhAvailable      = 4
	recordHeaderSize = 8
)

// Physical row id slot: u64 block, u16 offset. Free physical slots add a
// u32 size.
const (
	slotBlock             = 0
	slotOffset            = 8
	slotSize              = 10
	physicalRowIDSize     = 10
	freePhysicalRowIDSize = 14
)

// Translation pages hold physical row id slots right after the page header.
// Free-list pages keep a u16 count of used slots, then the slots.
const (
	tpSlots          = pageHeaderSize
	translationSlots = (storage.BlockSize - tpSlots) / physicalRowIDSize

	flCount           = pageHeaderSize
	flSlots           = flCount + 2
	freeLogicalSlots  = (storage.BlockSize - flSlots) / physicalRowIDSize
	freePhysicalSlots = (storage.BlockSize - flSlots) / freePhysicalRowIDSize
)

// MaxRecordSize bounds a single record.
const MaxRecordSize = 1 << 30

// Location names a byte position in the data file. Packed as
// block<<16 | offset it is also the external form of a rowid.
type Location struct {
	Block  uint64
	Offset uint16
}

func LocationOf(id uint64) Location {
	return Location{Block: id >> 16, Offset: uint16(id)}
}

func (l Location) ID() uint64 { return l.Block<<16 | uint64(l.Offset) }

func (l Location) IsZero() bool { return l.Block == 0 && l.Offset == 0 }

func (l Location) String() string { return fmt.Sprintf("%d:%d", l.Block, l.Offset) }
