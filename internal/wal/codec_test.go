package wal

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novastore/internal/storage"
)

func image(id uint64, fill byte) Image {
	return Image{Block: id, Data: bytes.Repeat([]byte{fill}, storage.BlockSize)}
}

func reader(b []byte) *bufio.Reader {
	return bufio.NewReader(bytes.NewReader(b))
}

func TestBatch_EncodeDecode(t *testing.T) {
	for _, compress := range []bool{false, true} {
		in := []Image{image(1, 0x11), image(7, 0x77)}
		frame := encodeBatch(nil, in, compress)

		r := reader(frame)
		out, err := decodeBatch(r)
		require.NoError(t, err)
		assert.Equal(t, in, out)

		_, err = decodeBatch(r)
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestBatch_SnappyIsSmaller(t *testing.T) {
	raw := encodeBatch(nil, []Image{image(1, 0)}, false)
	packed := encodeBatch(nil, []Image{image(1, 0)}, true)
	assert.Less(t, len(packed), len(raw))
}

func TestBatch_Empty(t *testing.T) {
	frame := encodeBatch(nil, nil, false)
	assert.Len(t, frame, terminatorSize)

	out, err := decodeBatch(reader(frame))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBatch_TornTail(t *testing.T) {
	frame := encodeBatch(nil, []Image{image(3, 0x33)}, false)

	for _, cut := range []int{1, entryHeaderSize, len(frame) / 2, len(frame) - 1} {
		_, err := decodeBatch(reader(frame[:cut]))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF, "cut=%d", cut)
	}
}

func TestBatch_Checksum(t *testing.T) {
	frame := encodeBatch(nil, []Image{image(3, 0x33)}, false)
	frame[entryHeaderSize+100] ^= 0xFF

	_, err := decodeBatch(reader(frame))
	assert.ErrorIs(t, err, ErrBadChecksum)
}

func TestBatch_UnknownTag(t *testing.T) {
	_, err := decodeBatch(reader([]byte{0x42}))
	assert.ErrorIs(t, err, ErrBadRecord)
}

func TestBatch_BadBlockID(t *testing.T) {
	frame := encodeBatch(nil, []Image{image(storage.MaxBlocks+1, 0)}, false)
	_, err := decodeBatch(reader(frame))
	assert.ErrorIs(t, err, ErrBadRecord)
}
