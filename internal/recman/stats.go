package recman

import "github.com/tuannm99/novastore/internal/bufferpool"

// Stats is a snapshot of file and cache occupancy.
type Stats struct {
	// Blocks is the number of blocks ever allocated, the header included.
	Blocks uint64
	Pages  map[PageType]int
	Cache  bufferpool.Stats
}

func (r *RecordManager) Stats() (Stats, error) {
	var st Stats
	err := r.do("stats", func() error {
		hw, err := r.pages.highWater()
		if err != nil {
			return err
		}
		st.Blocks = hw
		st.Pages = make(map[PageType]int, numPageTypes)
		for t := range PageType(numPageTypes) {
			n, err := r.pages.count(t)
			if err != nil {
				return err
			}
			st.Pages[t] = n
		}
		st.Cache = r.cache.Stats()
		return nil
	})
	return st, err
}
