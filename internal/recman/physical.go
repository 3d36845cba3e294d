package recman

import (
	"go.uber.org/zap"

	"github.com/tuannm99/novastore/internal/bufferpool"
	"github.com/tuannm99/novastore/internal/metrics"
	"github.com/tuannm99/novastore/internal/storage"
)

// physicalManager places variable-length records in data pages. A record is
// a header (current, available) followed by its bytes, which run on into
// the following data pages when they do not fit.
type physicalManager struct {
	cache *bufferpool.Cache
	pages *pageManager
	free  *freePhysicalManager
	// slack is the smallest tail worth leaving at the end of a page, on top
	// of a record header.
	slack int

	logger  *zap.Logger
	metrics *metrics.Collector
}

func (p *physicalManager) insert(data []byte) (Location, error) {
	loc, err := p.alloc(len(data))
	if err != nil {
		return Location{}, err
	}
	return loc, p.write(loc, data)
}

// update rewrites the record in place when it fits, and moves it otherwise.
// The returned location is where the record now lives.
func (p *physicalManager) update(loc Location, data []byte) (Location, error) {
	var avail int
	err := p.withRecord(loc, "update", func(b *storage.Block, off int) error {
		avail = recAvailable(b, off)
		return nil
	})
	if err != nil {
		return Location{}, err
	}

	if len(data) > avail {
		if err := p.release(loc); err != nil {
			return Location{}, err
		}
		moved, err := p.alloc(len(data))
		if err != nil {
			return Location{}, err
		}
		p.metrics.RecordRelocations.Inc()
		p.logger.Debug("record relocated",
			zap.Stringer("from", loc),
			zap.Stringer("to", moved),
			zap.Int("size", len(data)),
		)
		loc = moved
	}
	return loc, p.write(loc, data)
}

func (p *physicalManager) delete(loc Location) error {
	return p.release(loc)
}

func (p *physicalManager) fetch(loc Location) ([]byte, error) {
	var (
		out  []byte
		read int
		next uint64
	)
	err := p.withRecord(loc, "fetch", func(b *storage.Block, off int) error {
		n := recCurrent(b, off)
		if n > recAvailable(b, off) {
			return storage.Corruptf("fetch", loc.Block, "record at %d uses %d of %d bytes", off, n, recAvailable(b, off))
		}
		out = make([]byte, n)
		read = copy(out, b.Data()[off+recordHeaderSize:])
		next = pageNext(b)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for read < len(out) {
		if next == 0 {
			return nil, storage.Corruptf("fetch", loc.Block, "record continues past the last data page")
		}
		cur := next
		err := withBlock(p.cache, cur, func(b *storage.Block) error {
			if err := checkPage(b, DataPage, "fetch"); err != nil {
				return err
			}
			read += copy(out[read:], b.Data()[dpData:])
			next = pageNext(b)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// alloc reserves room for size bytes, reusing a free slot when one is big
// enough. Every record reserves at least one byte so a zero available size
// always marks the free tail of a page.
func (p *physicalManager) alloc(size int) (Location, error) {
	size = max(size, 1)
	loc, ok, err := p.free.get(size)
	if err != nil {
		return Location{}, err
	}
	if ok {
		p.metrics.FreeSlotReuses.Inc()
		return loc, nil
	}
	return p.allocNew(size)
}

// allocNew carves size bytes out of the tail of the last data page, adding
// pages as needed.
func (p *physicalManager) allocNew(size int) (Location, error) {
	start, err := p.pages.last(DataPage)
	if err != nil {
		return Location{}, err
	}

	pos := 0
	for {
		if start == 0 {
			if start, err = p.newDataPage(dpData); err != nil {
				return Location{}, err
			}
		}
		pos, err = p.tail(start)
		if err != nil {
			return Location{}, err
		}
		if pos != 0 {
			break
		}
		start = 0
	}

	loc := Location{Block: start, Offset: uint16(pos)}
	freeHere := storage.BlockSize - pos - recordHeaderSize
	if freeHere < size {
		// Round up when the last page would be left with a sliver.
		if lastSize := (size - freeHere) % dataPerPage; lastSize != 0 && dataPerPage-lastSize < recordHeaderSize+p.slack {
			size += dataPerPage - lastSize
		}
		if err := p.reserve(loc, size); err != nil {
			return Location{}, err
		}

		neededLeft := size - freeHere
		for neededLeft >= dataPerPage {
			// Continuation page entirely taken by this record.
			if _, err := p.newDataPage(0); err != nil {
				return Location{}, err
			}
			neededLeft -= dataPerPage
		}
		if neededLeft > 0 {
			if _, err := p.newDataPage(dpData + neededLeft); err != nil {
				return Location{}, err
			}
		}
		return loc, nil
	}

	if freeHere-size <= recordHeaderSize+p.slack {
		size = freeHere
	}
	return loc, p.reserve(loc, size)
}

// tail finds the offset of the first unused record header on page id, or 0
// when the page has no room for another header.
func (p *physicalManager) tail(id uint64) (int, error) {
	var pos int
	err := withBlock(p.cache, id, func(b *storage.Block) error {
		if err := checkPage(b, DataPage, "allocate"); err != nil {
			return err
		}
		pos = dataFirst(b)
		if pos == 0 {
			return nil
		}
		for pos+recordHeaderSize <= storage.BlockSize {
			avail := recAvailable(b, pos)
			if avail == 0 {
				return nil
			}
			pos += recordHeaderSize + avail
		}
		pos = 0
		return nil
	})
	return pos, err
}

func (p *physicalManager) newDataPage(first int) (uint64, error) {
	id, err := p.pages.allocate(DataPage)
	if err != nil {
		return 0, err
	}
	return id, withBlock(p.cache, id, func(b *storage.Block) error {
		setDataFirst(b, first)
		return nil
	})
}

func (p *physicalManager) reserve(loc Location, size int) error {
	return p.withRecord(loc, "allocate", func(b *storage.Block, off int) error {
		setRecCurrent(b, off, 0)
		setRecAvailable(b, off, size)
		return nil
	})
}

// release zeroes the current size and hands the slot to the free list.
func (p *physicalManager) release(loc Location) error {
	var avail int
	err := p.withRecord(loc, "free", func(b *storage.Block, off int) error {
		setRecCurrent(b, off, 0)
		avail = recAvailable(b, off)
		return nil
	})
	if err != nil {
		return err
	}
	if avail == 0 {
		return storage.Corruptf("free", loc.Block, "record at %d has no reserved space", loc.Offset)
	}
	return p.free.put(loc, avail)
}

// write stores data at loc. The slot must already be large enough.
func (p *physicalManager) write(loc Location, data []byte) error {
	var (
		written int
		next    uint64
	)
	err := p.withRecord(loc, "write", func(b *storage.Block, off int) error {
		if len(data) > recAvailable(b, off) {
			return storage.Corruptf("write", loc.Block, "%d bytes into a %d byte slot", len(data), recAvailable(b, off))
		}
		setRecCurrent(b, off, len(data))
		written = copy(b.Data()[off+recordHeaderSize:], data)
		next = pageNext(b)
		return nil
	})
	if err != nil {
		return err
	}

	for written < len(data) {
		if next == 0 {
			return storage.Corruptf("write", loc.Block, "record continues past the last data page")
		}
		cur := next
		err := withBlock(p.cache, cur, func(b *storage.Block) error {
			if err := checkPage(b, DataPage, "write"); err != nil {
				return err
			}
			written += copy(b.Data()[dpData:], data[written:])
			b.SetDirty()
			next = pageNext(b)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// withRecord checks out the data page holding the record header at loc.
func (p *physicalManager) withRecord(loc Location, op string, fn func(b *storage.Block, off int) error) error {
	off := int(loc.Offset)
	if loc.Block == 0 || off < dpData || off+recordHeaderSize > storage.BlockSize {
		return storage.Corruptf(op, loc.Block, "bad record location %s", loc)
	}
	return withBlock(p.cache, loc.Block, func(b *storage.Block) error {
		if err := checkPage(b, DataPage, op); err != nil {
			return err
		}
		return fn(b, off)
	})
}
