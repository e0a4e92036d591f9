// Package metatile reads the mod_tile meta-tile format: one file bundling the
// 8x8 neighbouring tiles of a zoom level behind a fixed binary index.
//
// Layout, little-endian:
//
//	magic   [4]byte   "META" or "METZ" (gzip compressed tiles)
//	count   int32     always 64
//	x, y, z int32     origin of the meta-tile
//	index   [count]struct{ offset, size int32 }
//	data    tile bytes addressed by index
package metatile

import (
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"os"
	"time"
	"weak"

	"modtile/internal/tile"
)

// TileCount 每个元瓦片包含的瓦片数
const TileCount = tile.MetaTileWidth * tile.MetaTileWidth

const (
	fixedHeaderSize = 20
	entrySize       = 8
	// HeaderSize is the size of a complete header including the 64 entry index.
	HeaderSize = fixedHeaderSize + TileCount*entrySize
)

var (
	MagicUncompressed = [4]byte{'M', 'E', 'T', 'A'}
	MagicCompressed   = [4]byte{'M', 'E', 'T', 'Z'}
)

var byteOrder = binary.LittleEndian

type entry struct {
	offset uint32
	size   uint32
}

type buffer struct {
	data []byte
}

// MetaTile 已加载的元瓦片, 持有文件内容
type MetaTile struct {
	raw       *buffer
	index     []entry
	X, Y, Z   int32
	MediaType string
	Encoding  tile.Encoding
	modTime   time.Time
}

// Read loads and validates the meta-tile stored at path.
func Read(path, mediaType string) (*MetaTile, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &TileReadError{Kind: NotFound, Path: path, Err: err}
		}
		return nil, &TileReadError{Kind: IO, Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &TileReadError{Kind: IO, Path: path, Err: err}
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &TileReadError{Kind: IO, Path: path, Err: err}
	}
	mt, err := Decode(data, mediaType)
	if err != nil {
		return nil, err
	}
	mt.modTime = info.ModTime()
	return mt, nil
}

// Decode validates data as a meta-tile. The whole index is checked up front so
// Select never hands out a range outside the buffer.
func Decode(data []byte, mediaType string) (*MetaTile, error) {
	if len(data) < fixedHeaderSize {
		return nil, &TruncatedError{Need: fixedHeaderSize, Have: len(data)}
	}

	var magic [4]byte
	copy(magic[:], data[0:4])
	var enc tile.Encoding
	switch magic {
	case MagicUncompressed:
		enc = tile.EncodingIdentity
	case MagicCompressed:
		enc = tile.EncodingGzip
	default:
		return nil, &InvalidCompressionError{Tag: magic}
	}

	count := int32(byteOrder.Uint32(data[4:8]))
	if count != TileCount {
		return nil, &InvalidTileCountError{Count: count}
	}
	if len(data) < HeaderSize {
		return nil, &TruncatedError{Need: HeaderSize, Have: len(data)}
	}

	mt := &MetaTile{
		raw:       &buffer{data: data},
		index:     make([]entry, count),
		X:         int32(byteOrder.Uint32(data[8:12])),
		Y:         int32(byteOrder.Uint32(data[12:16])),
		Z:         int32(byteOrder.Uint32(data[16:20])),
		MediaType: mediaType,
		Encoding:  enc,
	}
	for i := range mt.index {
		pos := fixedHeaderSize + i*entrySize
		e := entry{
			offset: byteOrder.Uint32(data[pos : pos+4]),
			size:   byteOrder.Uint32(data[pos+4 : pos+8]),
		}
		if uint64(e.offset)+uint64(e.size) > uint64(len(data)) {
			return nil, &InvalidTileLengthError{Offset: e.offset, Size: e.size, FileLen: len(data)}
		}
		mt.index[i] = e
	}
	return mt, nil
}

// ModTime returns the modification time of the file m was read from, zero
// for meta-tiles decoded from memory.
func (m *MetaTile) ModTime() time.Time {
	return m.modTime
}

// Count returns the number of tiles in the index.
func (m *MetaTile) Count() int {
	return len(m.index)
}

// Len returns the size of the underlying file in bytes.
func (m *MetaTile) Len() int {
	return len(m.raw.data)
}

// Select returns a view of one sub-tile. Nothing is copied; the view stays
// usable only as long as m (or another holder of its buffer) is reachable.
func (m *MetaTile) Select(offset int) (TileRef, error) {
	if offset < 0 || offset >= len(m.index) {
		return TileRef{}, &TileOffsetOutOfBoundsError{Offset: offset, Count: len(m.index)}
	}
	e := m.index[offset]
	return TileRef{
		raw:       weak.Make(m.raw),
		Begin:     int(e.offset),
		End:       int(e.offset) + int(e.size),
		MediaType: m.MediaType,
		Encoding:  m.Encoding,
	}, nil
}
