package recman

import (
	"errors"

	"github.com/tuannm99/novastore/internal/bufferpool"
)

var (
	ErrClosed         = errors.New("recman: record manager is closed")
	ErrInvalidRowID   = errors.New("recman: invalid rowid")
	ErrRecordNotFound = errors.New("recman: record not found")
	ErrRootOutOfRange = errors.New("recman: root slot out of range")
	ErrRecordTooLarge = errors.New("recman: record too large")
	ErrNoPath         = errors.New("recman: no storage path configured")
	// ErrPoisoned wraps the corruption that made the handle unusable.
	ErrPoisoned = errors.New("recman: handle poisoned by corruption")

	ErrTransactionsDisabled = bufferpool.ErrTransactionsDisabled
)
