package recman

import (
	"encoding/json"
	"fmt"
)

// directoryRoot is the root slot holding the named-object directory.
const directoryRoot = 0

// NamedObject returns the rowid registered under name, or 0.
func (r *RecordManager) NamedObject(name string) (uint64, error) {
	var id uint64
	err := r.do("named object", func() error {
		dir, _, err := r.loadDirectory()
		if err != nil {
			return err
		}
		id = dir[name]
		return nil
	})
	return id, err
}

// SetNamedObject registers rowid under name. A rowid of 0 removes the name.
func (r *RecordManager) SetNamedObject(name string, rowid uint64) error {
	return r.do("set named object", func() error {
		dir, recid, err := r.loadDirectory()
		if err != nil {
			return err
		}
		if rowid == 0 {
			if _, ok := dir[name]; !ok {
				return nil
			}
			delete(dir, name)
		} else {
			dir[name] = rowid
		}

		raw, err := json.Marshal(dir)
		if err != nil {
			return fmt.Errorf("recman: encode directory: %w", err)
		}
		if recid == 0 {
			phys, err := r.phys.insert(raw)
			if err != nil {
				return err
			}
			id, err := r.logic.insert(phys)
			if err != nil {
				return err
			}
			return r.pages.setRoot(directoryRoot, id.ID())
		}

		phys, err := r.resolve(recid)
		if err != nil {
			return err
		}
		moved, err := r.phys.update(phys, raw)
		if err != nil {
			return err
		}
		if moved != phys {
			return r.logic.update(LocationOf(recid), moved)
		}
		return nil
	})
}

// loadDirectory reads the directory record. An unset root means an empty
// directory.
func (r *RecordManager) loadDirectory() (map[string]uint64, uint64, error) {
	recid, err := r.pages.root(directoryRoot)
	if err != nil {
		return nil, 0, err
	}
	dir := make(map[string]uint64)
	if recid == 0 {
		return dir, 0, nil
	}
	phys, err := r.resolve(recid)
	if err != nil {
		return nil, 0, err
	}
	raw, err := r.phys.fetch(phys)
	if err != nil {
		return nil, 0, err
	}
	if err := json.Unmarshal(raw, &dir); err != nil {
		return nil, 0, fmt.Errorf("recman: decode directory in root %d: %w", directoryRoot, err)
	}
	return dir, recid, nil
}
