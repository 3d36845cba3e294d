package recman

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tuannm99/novastore/internal/bufferpool"
	"github.com/tuannm99/novastore/internal/metrics"
	"github.com/tuannm99/novastore/internal/storage"
)

const headerBlock uint64 = 0

var ErrFileFull = errors.New("recman: block number space exhausted")

// withBlock checks out id for the duration of fn. The block is released on
// every path; modifications made through Put* mark it dirty.
func withBlock(c *bufferpool.Cache, id uint64, fn func(b *storage.Block) error) (err error) {
	b, err := c.Get(id)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, c.Release(id, false))
	}()
	return fn(b)
}

// pageManager keeps the five typed page lists anchored in the file header.
type pageManager struct {
	cache   *bufferpool.Cache
	logger  *zap.Logger
	metrics *metrics.Collector
}

func newPageManager(c *bufferpool.Cache, logger *zap.Logger, m *metrics.Collector) *pageManager {
	return &pageManager{cache: c, logger: logger, metrics: m}
}

// withHeader checks out block 0 after validating its magic.
func (pm *pageManager) withHeader(fn func(h *storage.Block) error) error {
	return withBlock(pm.cache, headerBlock, func(h *storage.Block) error {
		if got := h.U16(fhMagic); got != fileHeaderMagic {
			return storage.Corruptf("file header", headerBlock, "magic 0x%04x, want 0x%04x", got, fileHeaderMagic)
		}
		return fn(h)
	})
}

// format stamps the header magic on an empty file. It reports whether the
// file was new.
func (pm *pageManager) format() (bool, error) {
	var created bool
	err := withBlock(pm.cache, headerBlock, func(h *storage.Block) error {
		switch got := h.U16(fhMagic); got {
		case fileHeaderMagic:
			return nil
		case 0:
			h.PutU16(fhMagic, fileHeaderMagic)
			created = true
			return nil
		default:
			return storage.Corruptf("file header", headerBlock, "magic 0x%04x, want 0x%04x", got, fileHeaderMagic)
		}
	})
	return created, err
}

// allocate takes a block off the free list, or past the high-water mark
// when the free list is empty, and appends it to the list of type t.
func (pm *pageManager) allocate(t PageType) (uint64, error) {
	if t == FreePage {
		return 0, storage.Corruptf("allocate", 0, "cannot allocate a free page")
	}

	var id uint64
	err := pm.withHeader(func(h *storage.Block) error {
		reused := true
		id = headerFirst(h, FreePage)
		if id == 0 {
			reused = false
			id = headerLast(h, FreePage)
			if id == 0 {
				id = 1
			}
			if id > storage.MaxBlocks {
				return ErrFileFull
			}
			setHeaderLast(h, FreePage, id+1)
		}

		oldLast := headerLast(h, t)
		err := withBlock(pm.cache, id, func(b *storage.Block) error {
			if reused {
				if err := checkPage(b, FreePage, "allocate"); err != nil {
					return err
				}
				setHeaderFirst(h, FreePage, pageNext(b))
			}
			initPage(b, t, oldLast)
			return nil
		})
		if err != nil {
			return err
		}

		if oldLast == 0 {
			setHeaderFirst(h, t, id)
		} else {
			err := withBlock(pm.cache, oldLast, func(b *storage.Block) error {
				if err := checkPage(b, t, "allocate"); err != nil {
					return err
				}
				setPageNext(b, id)
				return nil
			})
			if err != nil {
				return err
			}
		}
		setHeaderLast(h, t, id)
		return nil
	})
	if err != nil {
		return 0, err
	}

	pm.metrics.PagesAllocated.WithLabelValues(t.String()).Inc()
	pm.logger.Debug("page allocated", zap.Stringer("type", t), zap.Uint64("block", id))
	return id, nil
}

// free unlinks id from the list of type t and pushes it on the free list.
func (pm *pageManager) free(t PageType, id uint64) error {
	if t == FreePage {
		return storage.Corruptf("free", id, "page is already free")
	}
	if id == headerBlock {
		return storage.Corruptf("free", id, "cannot free the file header")
	}

	err := pm.withHeader(func(h *storage.Block) error {
		var prev, next uint64
		err := withBlock(pm.cache, id, func(b *storage.Block) error {
			if err := checkPage(b, t, "free"); err != nil {
				return err
			}
			prev, next = pagePrev(b), pageNext(b)
			setPageType(b, FreePage)
			setPageNext(b, headerFirst(h, FreePage))
			setPagePrev(b, 0)
			return nil
		})
		if err != nil {
			return err
		}
		setHeaderFirst(h, FreePage, id)

		if prev != 0 {
			if err := pm.relink(prev, t, func(b *storage.Block) { setPageNext(b, next) }); err != nil {
				return err
			}
		} else {
			setHeaderFirst(h, t, next)
		}
		if next != 0 {
			if err := pm.relink(next, t, func(b *storage.Block) { setPagePrev(b, prev) }); err != nil {
				return err
			}
		} else {
			setHeaderLast(h, t, prev)
		}
		return nil
	})
	if err != nil {
		return err
	}

	pm.metrics.PagesFreed.WithLabelValues(t.String()).Inc()
	pm.logger.Debug("page freed", zap.Stringer("type", t), zap.Uint64("block", id))
	return nil
}

func (pm *pageManager) relink(id uint64, t PageType, fn func(b *storage.Block)) error {
	return withBlock(pm.cache, id, func(b *storage.Block) error {
		if err := checkPage(b, t, "relink"); err != nil {
			return err
		}
		fn(b)
		return nil
	})
}

func (pm *pageManager) first(t PageType) (uint64, error) {
	var id uint64
	err := pm.withHeader(func(h *storage.Block) error {
		id = headerFirst(h, t)
		return nil
	})
	return id, err
}

func (pm *pageManager) last(t PageType) (uint64, error) {
	var id uint64
	err := pm.withHeader(func(h *storage.Block) error {
		id = headerLast(h, t)
		return nil
	})
	return id, err
}

// next follows the list link of id, which must be a page of type t.
func (pm *pageManager) next(t PageType, id uint64) (uint64, error) {
	var n uint64
	err := withBlock(pm.cache, id, func(b *storage.Block) error {
		if err := checkPage(b, t, "next"); err != nil {
			return err
		}
		n = pageNext(b)
		return nil
	})
	return n, err
}

// highWater is the first block number never handed out.
func (pm *pageManager) highWater() (uint64, error) {
	var n uint64
	err := pm.withHeader(func(h *storage.Block) error {
		n = headerLast(h, FreePage)
		if n == 0 {
			n = 1
		}
		return nil
	})
	return n, err
}

// count walks the list of type t.
func (pm *pageManager) count(t PageType) (int, error) {
	id, err := pm.first(t)
	if err != nil {
		return 0, err
	}
	limit, err := pm.highWater()
	if err != nil {
		return 0, err
	}
	var n int
	for id != 0 {
		n++
		if uint64(n) > limit {
			return 0, storage.Corruptf("count", id, "%s list has a cycle", t)
		}
		if id, err = pm.next(t, id); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (pm *pageManager) root(slot int) (uint64, error) {
	if slot < 0 || slot >= RootCount {
		return 0, fmt.Errorf("%w: %d", ErrRootOutOfRange, slot)
	}
	var v uint64
	err := pm.withHeader(func(h *storage.Block) error {
		v = headerRoot(h, slot)
		return nil
	})
	return v, err
}

func (pm *pageManager) setRoot(slot int, v uint64) error {
	if slot < 0 || slot >= RootCount {
		return fmt.Errorf("%w: %d", ErrRootOutOfRange, slot)
	}
	return pm.withHeader(func(h *storage.Block) error {
		setHeaderRoot(h, slot, v)
		return nil
	})
}
