package main

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/tuannm99/novastore/internal/recman"
)

var errQuit = errors.New("quit")

const helpText = `commands:
  insert <text>            store text, print its rowid
  fetch <rowid>            print a record
  update <rowid> <text>    replace a record
  delete <rowid>           remove a record
  commit | rollback        end the current transaction
  root <slot> [rowid]      read or set a root slot
  name <name> [rowid]      read or set a named object (rowid 0 removes it)
  stats                    page and cache counters
  \q | quit | exit         quit
  \help                    show help`

// shell runs one command line against an open record manager.
type shell struct {
	rm  *recman.RecordManager
	out io.Writer
}

func (s *shell) exec(line string) error {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "":
		return nil
	case `\q`, "quit", "exit":
		return errQuit
	case `\help`, "help":
		fmt.Fprintln(s.out, helpText)
		return nil

	case "insert":
		id, err := s.rm.Insert([]byte(rest))
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, id)
		return nil

	case "fetch":
		id, err := parseID(rest)
		if err != nil {
			return err
		}
		data, err := s.rm.Fetch(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%q (%d bytes)\n", data, len(data))
		return nil

	case "update":
		idText, text, _ := strings.Cut(rest, " ")
		id, err := parseID(idText)
		if err != nil {
			return err
		}
		if err := s.rm.Update(id, []byte(text)); err != nil {
			return err
		}
		return s.ok()

	case "delete":
		id, err := parseID(rest)
		if err != nil {
			return err
		}
		if err := s.rm.Delete(id); err != nil {
			return err
		}
		return s.ok()

	case "commit":
		if err := s.rm.Commit(); err != nil {
			return err
		}
		return s.ok()

	case "rollback":
		if err := s.rm.Rollback(); err != nil {
			return err
		}
		return s.ok()

	case "root":
		return s.root(rest)

	case "name":
		return s.name(rest)

	case "stats":
		return s.stats()

	default:
		return fmt.Errorf("unknown command %q, try \\help", cmd)
	}
}

func (s *shell) ok() error {
	fmt.Fprintln(s.out, "OK")
	return nil
}

func (s *shell) root(args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		return errors.New("usage: root <slot> [rowid]")
	}
	slot, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("bad slot %q", fields[0])
	}
	if len(fields) == 2 {
		id, err := parseID(fields[1])
		if err != nil {
			return err
		}
		if err := s.rm.SetRoot(slot, id); err != nil {
			return err
		}
		return s.ok()
	}
	id, err := s.rm.Root(slot)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, id)
	return nil
}

func (s *shell) name(args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		return errors.New("usage: name <name> [rowid]")
	}
	if len(fields) == 2 {
		id, err := parseID(fields[1])
		if err != nil {
			return err
		}
		if err := s.rm.SetNamedObject(fields[0], id); err != nil {
			return err
		}
		return s.ok()
	}
	id, err := s.rm.NamedObject(fields[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, id)
	return nil
}

func (s *shell) stats() error {
	st, err := s.rm.Stats()
	if err != nil {
		return err
	}
	types := make([]recman.PageType, 0, len(st.Pages))
	for t := range st.Pages {
		types = append(types, t)
	}
	slices.Sort(types)

	fmt.Fprintf(s.out, "blocks: %d\n", st.Blocks)
	for _, t := range types {
		fmt.Fprintf(s.out, "%-14s %d\n", t.String()+":", st.Pages[t])
	}
	fmt.Fprintf(s.out, "cache: in_use=%d dirty=%d in_txn=%d free=%d/%d\n",
		st.Cache.InUse, st.Cache.Dirty, st.Cache.InTxn, st.Cache.Free, st.Cache.Capacity)
	return nil
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad rowid %q", s)
	}
	return id, nil
}
