package bufferpool

// Replacer picks which clean buffer the free pool gives up when it is full.
type Replacer interface {
	RecordAccess(slot int)
	SetEvictable(slot int, evictable bool)
	Evict() (slot int, ok bool)
	Remove(slot int)
	Size() int
}

const (
	slotTracked uint8 = 1 << iota
	slotEvictable
	slotReferenced
)

// clockReplacer is CLOCK (second chance) over a fixed number of slots.
type clockReplacer struct {
	state []uint8
	hand  int
	size  int
}

var _ Replacer = (*clockReplacer)(nil)

func newClockReplacer(capacity int) *clockReplacer {
	if capacity <= 0 {
		capacity = 1
	}
	return &clockReplacer{state: make([]uint8, capacity)}
}

func (c *clockReplacer) valid(slot int) bool { return slot >= 0 && slot < len(c.state) }

func (c *clockReplacer) RecordAccess(slot int) {
	if !c.valid(slot) {
		return
	}
	c.state[slot] |= slotTracked | slotReferenced
}

func (c *clockReplacer) SetEvictable(slot int, evictable bool) {
	if !c.valid(slot) || c.state[slot]&slotTracked == 0 {
		return
	}
	was := c.state[slot]&slotEvictable != 0
	switch {
	case evictable && !was:
		c.state[slot] |= slotEvictable
		c.size++
	case !evictable && was:
		c.state[slot] &^= slotEvictable
		c.size--
	}
}

func (c *clockReplacer) Evict() (int, bool) {
	n := len(c.state)
	if c.size == 0 {
		return -1, false
	}
	// The first sweep may only clear reference bits; the second finds a victim.
	for range 2 * n {
		slot := c.hand
		c.hand = (c.hand + 1) % n

		st := c.state[slot]
		if st&slotTracked == 0 || st&slotEvictable == 0 {
			continue
		}
		if st&slotReferenced != 0 {
			c.state[slot] &^= slotReferenced
			continue
		}
		c.state[slot] = 0
		c.size--
		return slot, true
	}
	return -1, false
}

func (c *clockReplacer) Remove(slot int) {
	if !c.valid(slot) || c.state[slot]&slotTracked == 0 {
		return
	}
	if c.state[slot]&slotEvictable != 0 {
		c.size--
	}
	c.state[slot] = 0
}

func (c *clockReplacer) Size() int { return c.size }
