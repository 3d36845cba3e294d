package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"

	"github.com/tuannm99/novastore/internal/alias/bx"
	"github.com/tuannm99/novastore/internal/storage"
)

// Batch frame layout, one per committed transaction:
//
//	entry*     [u8 tagBlock][u64 block][u8 codec][u32 len][len bytes]
//	terminator [u8 tagEnd][u32 entries][u64 xxhash64 of all preceding batch bytes]
//
// A batch is only trusted after its terminator checks out.
const (
	tagBlock uint8 = 0x01
	tagEnd   uint8 = 0xFF

	codecRaw    uint8 = 0
	codecSnappy uint8 = 1

	entryHeaderSize = 1 + 8 + 1 + 4
	terminatorSize  = 1 + 4 + 8
)

var (
	ErrBadMagic    = errors.New("wal: bad magic")
	ErrBadChecksum = errors.New("wal: bad batch checksum")
	ErrBadRecord   = errors.New("wal: bad record")
)

// Image is one logged block: its id and the committed bytes.
type Image struct {
	Block uint64
	Data  []byte
}

// encodeBatch appends the frame for images to dst.
func encodeBatch(dst []byte, images []Image, compress bool) []byte {
	start := len(dst)
	for _, img := range images {
		payload, codec := img.Data, codecRaw
		if compress {
			payload, codec = snappy.Encode(nil, img.Data), codecSnappy
		}
		dst = append(dst, tagBlock)
		dst = bx.AppendU64(dst, img.Block)
		dst = append(dst, codec)
		dst = bx.AppendU32(dst, uint32(len(payload)))
		dst = append(dst, payload...)
	}
	dst = append(dst, tagEnd)
	dst = bx.AppendU32(dst, uint32(len(images)))
	sum := xxhash.Sum64(dst[start:])
	return bx.AppendU64(dst, sum)
}

// decodeBatch reads one batch. io.EOF means a clean end of log; any other
// error means the tail is torn or damaged.
func decodeBatch(r *bufio.Reader) ([]Image, error) {
	d := xxhash.New()
	var images []Image

	readFull := func(buf []byte) error {
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		_, _ = d.Write(buf)
		return nil
	}

	first := true
	for {
		var tag [1]byte
		if _, err := io.ReadFull(r, tag[:]); err != nil {
			if first && errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		}
		_, _ = d.Write(tag[:])
		first = false

		switch tag[0] {
		case tagBlock:
			var hdr [entryHeaderSize - 1]byte
			if err := readFull(hdr[:]); err != nil {
				return nil, err
			}
			id := bx.U64At(hdr[:], 0)
			codec := hdr[8]
			n := bx.U32At(hdr[:], 9)
			if id > storage.MaxBlocks {
				return nil, fmt.Errorf("%w: block id %d out of range", ErrBadRecord, id)
			}
			if n > uint32(snappy.MaxEncodedLen(storage.BlockSize)) {
				return nil, fmt.Errorf("%w: image length %d", ErrBadRecord, n)
			}
			payload := make([]byte, n)
			if err := readFull(payload); err != nil {
				return nil, err
			}
			data, err := decodeImage(codec, payload)
			if err != nil {
				return nil, err
			}
			images = append(images, Image{Block: id, Data: data})

		case tagEnd:
			var cnt [4]byte
			if err := readFull(cnt[:]); err != nil {
				return nil, err
			}
			want := d.Sum64()
			var sum [8]byte
			if _, err := io.ReadFull(r, sum[:]); err != nil {
				return nil, io.ErrUnexpectedEOF
			}
			if bx.U64At(sum[:], 0) != want {
				return nil, ErrBadChecksum
			}
			if int(bx.U32At(cnt[:], 0)) != len(images) {
				return nil, fmt.Errorf("%w: entry count mismatch", ErrBadRecord)
			}
			return images, nil

		default:
			return nil, fmt.Errorf("%w: unknown tag 0x%02x", ErrBadRecord, tag[0])
		}
	}
}

func decodeImage(codec uint8, payload []byte) ([]byte, error) {
	switch codec {
	case codecRaw:
		if len(payload) != storage.BlockSize {
			return nil, fmt.Errorf("%w: raw image of %d bytes", ErrBadRecord, len(payload))
		}
		return payload, nil
	case codecSnappy:
		data, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRecord, err)
		}
		if len(data) != storage.BlockSize {
			return nil, fmt.Errorf("%w: decoded image of %d bytes", ErrBadRecord, len(data))
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrBadRecord, codec)
	}
}
