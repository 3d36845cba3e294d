package bx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLittleEndianAt(t *testing.T) {
	buf := make([]byte, 16)

	PutU16At(buf, 0, 0x0A0B)
	PutU32At(buf, 2, 0x01020304)
	PutU64At(buf, 6, 0x0102030405060708)

	// least-significant byte first
	assert.Equal(t, []byte{0x0B, 0x0A}, buf[0:2])
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, buf[2:6])

	assert.Equal(t, uint16(0x0A0B), U16At(buf, 0))
	assert.Equal(t, uint32(0x01020304), U32At(buf, 2))
	assert.Equal(t, uint64(0x0102030405060708), U64At(buf, 6))
}

func TestAppend(t *testing.T) {
	var b []byte
	b = AppendU16(b, 0x1360)
	b = AppendU32(b, 7)
	b = AppendU64(b, 1<<40)

	assert.Len(t, b, 14)
	assert.Equal(t, uint16(0x1360), U16At(b, 0))
	assert.Equal(t, uint32(7), U32At(b, 2))
	assert.Equal(t, uint64(1<<40), U64At(b, 6))
}

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3}
	Zero(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}
