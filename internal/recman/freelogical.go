package recman

import (
	"github.com/tuannm99/novastore/internal/bufferpool"
	"github.com/tuannm99/novastore/internal/storage"
)

// freeLogicalManager pools unused translation slots. A slot entry is in use
// when its block is non-zero; translation pages never live in block 0.
type freeLogicalManager struct {
	cache *bufferpool.Cache
	pages *pageManager
}

func (f *freeLogicalManager) get() (Location, bool, error) {
	cur, err := f.pages.first(FreeLogicalPage)
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
			if err := checkPage(b, FreeLogicalPage, "free logical get"); err != nil {
				return err
			}
			next = pageNext(b)
			count := freeCount(b)
			if count == 0 {
				return nil
			}
			for i := range freeLogicalSlots {
				off := freeLogicalSlot(i)
				if l := readLocation(b, off); l.Block != 0 {
					loc = l
					writeLocation(b, off, Location{})
					setFreeCount(b, count-1)
					found, empty = true, count == 1
					return nil
				}
			}
			return storage.Corruptf("free logical get", cur, "count %d but no slot in use", count)
		})
		if err != nil {
			return Location{}, false, err
		}
		if found {
			if empty {
				if err := f.pages.free(FreeLogicalPage, cur); err != nil {
					return Location{}, false, err
				}
			}
			return loc, true, nil
		}
		cur = next
	}
	return Location{}, false, nil
}

func (f *freeLogicalManager) put(loc Location) error {
	if loc.Block == 0 {
		return storage.Corruptf("free logical put", 0, "translation slot in the file header")
	}
	cur, err := f.pages.first(FreeLogicalPage)
	if err != nil {
		return err
	}
	for cur != 0 {
		var (
			done bool
			next uint64
		)
		err := withBlock(f.cache, cur, func(b *storage.Block) error {
			if err := checkPage(b, FreeLogicalPage, "free logical put"); err != nil {
				return err
			}
			next = pageNext(b)
			count := freeCount(b)
			if count >= freeLogicalSlots {
				return nil
			}
			for i := range freeLogicalSlots {
				off := freeLogicalSlot(i)
				if readLocation(b, off).Block == 0 {
					writeLocation(b, off, loc)
					setFreeCount(b, count+1)
					done = true
					return nil
				}
			}
			return storage.Corruptf("free logical put", cur, "count %d but no empty slot", count)
		})
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		cur = next
	}

	id, err := f.pages.allocate(FreeLogicalPage)
	if err != nil {
		return err
	}
	return withBlock(f.cache, id, func(b *storage.Block) error {
		writeLocation(b, freeLogicalSlot(0), loc)
		setFreeCount(b, 1)
		return nil
	})
}
