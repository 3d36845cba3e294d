// Package novastore is the top-level facade for the record manager. Records
// are variable-length byte strings addressed by stable rowids, stored in a
// page file with a redo log for crash safety.
package novastore

import "github.com/tuannm99/novastore/internal/recman"

type (
	RecordManager = recman.RecordManager
	Option        = recman.Option
	Location      = recman.Location
	PageType      = recman.PageType
	Stats         = recman.Stats
)

const RootCount = recman.RootCount

var (
	ErrClosed               = recman.ErrClosed
	ErrInvalidRowID         = recman.ErrInvalidRowID
	ErrRecordNotFound       = recman.ErrRecordNotFound
	ErrRootOutOfRange       = recman.ErrRootOutOfRange
	ErrRecordTooLarge       = recman.ErrRecordTooLarge
	ErrNoPath               = recman.ErrNoPath
	ErrPoisoned             = recman.ErrPoisoned
	ErrTransactionsDisabled = recman.ErrTransactionsDisabled
)

var (
	Open                = recman.Open
	WithConfig          = recman.WithConfig
	WithLogger          = recman.WithLogger
	WithRegisterer      = recman.WithRegisterer
	WithoutTransactions = recman.WithoutTransactions
)
