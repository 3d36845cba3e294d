package recman

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tuannm99/novastore/internal/bufferpool"
	"github.com/tuannm99/novastore/internal/storage"
)

// logicalManager maps rowids to physical locations. A rowid names a slot on
// a translation page; the slot holds the record's current location.
type logicalManager struct {
	cache  *bufferpool.Cache
	pages  *pageManager
	free   *freeLogicalManager
	logger *zap.Logger
}

// insert draws a free translation slot, creating a translation page when
// the pool is dry, and points it at phys.
func (l *logicalManager) insert(phys Location) (Location, error) {
	id, ok, err := l.free.get()
	if err != nil {
		return Location{}, err
	}
	if !ok {
		if err := l.grow(); err != nil {
			return Location{}, err
		}
		if id, ok, err = l.free.get(); err != nil {
			return Location{}, err
		}
		if !ok {
			return Location{}, storage.Corruptf("logical insert", 0, "no translation slot after adding a page")
		}
	}
	return id, l.write(id, phys)
}

// grow adds a translation page and pools all of its slots.
func (l *logicalManager) grow() error {
	tp, err := l.pages.allocate(TranslationPage)
	if err != nil {
		return err
	}
	for i := range translationSlots {
		if err := l.free.put(Location{Block: tp, Offset: uint16(translationSlot(i))}); err != nil {
			return err
		}
	}
	l.logger.Debug("translation page added", zap.Uint64("block", tp), zap.Int("slots", translationSlots))
	return nil
}

func (l *logicalManager) fetch(id Location) (Location, error) {
	var phys Location
	err := l.withSlot(id, func(b *storage.Block, off int) error {
		phys = readLocation(b, off)
		return nil
	})
	return phys, err
}

func (l *logicalManager) update(id, phys Location) error {
	return l.write(id, phys)
}

// delete clears the slot and returns it to the pool.
func (l *logicalManager) delete(id Location) error {
	if err := l.write(id, Location{}); err != nil {
		return err
	}
	return l.free.put(id)
}

func (l *logicalManager) write(id, phys Location) error {
	return l.withSlot(id, func(b *storage.Block, off int) error {
		writeLocation(b, off, phys)
		return nil
	})
}

// withSlot checks out the translation page of id. Ids that cannot name a
// translation slot are the caller's mistake, not corruption.
func (l *logicalManager) withSlot(id Location, fn func(b *storage.Block, off int) error) error {
	if id.Block == 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRowID, id.ID())
	}
	if _, ok := translationIndex(id.Offset); !ok {
		return fmt.Errorf("%w: %d", ErrInvalidRowID, id.ID())
	}
	limit, err := l.pages.highWater()
	if err != nil {
		return err
	}
	if id.Block >= limit {
		return fmt.Errorf("%w: %d", ErrInvalidRowID, id.ID())
	}
	return withBlock(l.cache, id.Block, func(b *storage.Block) error {
		if !isPage(b, TranslationPage) {
			return fmt.Errorf("%w: %d", ErrInvalidRowID, id.ID())
		}
		return fn(b, int(id.Offset))
	})
}
