package recman

import (
	"github.com/tuannm99/novastore/internal/bufferpool"
	"github.com/tuannm99/novastore/internal/storage"
)

// freePhysicalManager recycles the space of deleted records. Entries are
// (location, available size); lookup is first fit along the page chain.
type freePhysicalManager struct {
	cache *bufferpool.Cache
	pages *pageManager
}

// get claims the first free slot of at least size bytes.
func (f *freePhysicalManager) get(size int) (Location, bool, error) {
	cur, err := f.pages.first(FreePhysicalPage)
	if err != nil {
		return Location{}, false, err
	}
	for cur != 0 {
		var (
			loc   Location
			found bool
			empty bool
			next  uint64
		)
		err := withBlock(f.cache, cur, func(b *storage.Block) error {
			if err := checkPage(b, FreePhysicalPage, "free physical get"); err != nil {
				return err
			}
			next = pageNext(b)
			count := freeCount(b)
			for i := range freePhysicalSlots {
				n := freePhysicalSize(b, i)
				if n == 0 || n < size {
					continue
				}
				if count == 0 {
					return storage.Corruptf("free physical get", cur, "slot %d in use on a page counted empty", i)
				}
				loc = readLocation(b, freePhysicalSlot(i))
				setFreePhysical(b, i, Location{}, 0)
				setFreeCount(b, count-1)
				found, empty = true, count == 1
				return nil
			}
			return nil
		})
		if err != nil {
			return Location{}, false, err
		}
		if found {
			if empty {
				if err := f.pages.free(FreePhysicalPage, cur); err != nil {
					return Location{}, false, err
				}
			}
			return loc, true, nil
		}
		cur = next
	}
	return Location{}, false, nil
}

// put records loc as free with size reserved bytes.
func (f *freePhysicalManager) put(loc Location, size int) error {
	cur, err := f.pages.first(FreePhysicalPage)
	if err != nil {
		return err
	}
	for cur != 0 {
		var (
			done bool
			next uint64
		)
		err := withBlock(f.cache, cur, func(b *storage.Block) error {
			if err := checkPage(b, FreePhysicalPage, "free physical put"); err != nil {
				return err
			}
			next = pageNext(b)
			count := freeCount(b)
			if count >= freePhysicalSlots {
				return nil
			}
			for i := range freePhysicalSlots {
				if freePhysicalSize(b, i) == 0 {
					setFreePhysical(b, i, loc, size)
					setFreeCount(b, count+1)
					done = true
					return nil
				}
			}
			return storage.Corruptf("free physical put", cur, "count %d but no empty slot", count)
		})
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		cur = next
	}

	id, err := f.pages.allocate(FreePhysicalPage)
	if err != nil {
		return err
	}
	return withBlock(f.cache, id, func(b *storage.Block) error {
		setFreePhysical(b, 0, loc, size)
		setFreeCount(b, 1)
		return nil
	})
}
