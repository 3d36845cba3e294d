package storage

import (
	"errors"
	"fmt"
)

// ErrCorrupted marks structural damage or a broken engine invariant. It is
// never retryable: callers must stop using the handle that produced it.
var ErrCorrupted = errors.New("storage: corrupted")

// CorruptionError carries the context of a fatal consistency violation.
type CorruptionError struct {
	Op     string
	Block  uint64
	Detail string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("storage: corrupted: %s: block %d: %s", e.Op, e.Block, e.Detail)
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorrupted
}

// Corruptf builds a CorruptionError with a formatted detail.
func Corruptf(op string, block uint64, format string, args ...any) error {
	return &CorruptionError{Op: op, Block: block, Detail: fmt.Sprintf(format, args...)}
}

// IsCorruption reports whether err (or anything it wraps) is a corruption.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrCorrupted)
}
