// Package bx holds the byte helpers shared by every on-disk format.
// All integers are little-endian.
package bx

import "encoding/binary"

var LE = binary.LittleEndian

func U16At(b []byte, off int) uint16 { return LE.Uint16(b[off:]) }
func U32At(b []byte, off int) uint32 { return LE.Uint32(b[off:]) }
func U64At(b []byte, off int) uint64 { return LE.Uint64(b[off:]) }

func PutU16At(b []byte, off int, v uint16) { LE.PutUint16(b[off:], v) }
func PutU32At(b []byte, off int, v uint32) { LE.PutUint32(b[off:], v) }
func PutU64At(b []byte, off int, v uint64) { LE.PutUint64(b[off:], v) }

// AppendU16/U32/U64 grow dst, used when building log frames.
func AppendU16(dst []byte, v uint16) []byte { return LE.AppendUint16(dst, v) }
func AppendU32(dst []byte, v uint32) []byte { return LE.AppendUint32(dst, v) }
func AppendU64(dst []byte, v uint64) []byte { return LE.AppendUint64(dst, v) }

// Zero clears b in place.
func Zero(b []byte) {
	clear(b)
}
