package metatile

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"

	"modtile/internal/tile"
)

// Encode 将 64 个瓦片打包为元瓦片. tiles 按 Offset 的顺序排列, 空瓦片允许为 nil.
// With EncodingGzip every tile is compressed on its own.
func Encode(origin tile.Identity, tiles [][]byte, enc tile.Encoding) ([]byte, error) {
	if len(tiles) != TileCount {
		return nil, fmt.Errorf("meta-tile needs %d tiles, got %d", TileCount, len(tiles))
	}
	origin = origin.MetaOrigin()

	magic := MagicUncompressed
	if enc == tile.EncodingGzip {
		magic = MagicCompressed
	}

	header := make([]byte, HeaderSize)
	copy(header[0:4], magic[:])
	byteOrder.PutUint32(header[4:8], uint32(TileCount))
	byteOrder.PutUint32(header[8:12], uint32(origin.X))
	byteOrder.PutUint32(header[12:16], uint32(origin.Y))
	byteOrder.PutUint32(header[16:20], uint32(origin.Z))

	var body bytes.Buffer
	for i, t := range tiles {
		if enc == tile.EncodingGzip && len(t) > 0 {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			if _, err := zw.Write(t); err != nil {
				return nil, fmt.Errorf("compress tile %d: %w", i, err)
			}
			if err := zw.Close(); err != nil {
				return nil, fmt.Errorf("compress tile %d: %w", i, err)
			}
			t = buf.Bytes()
		}
		pos := fixedHeaderSize + i*entrySize
		byteOrder.PutUint32(header[pos:pos+4], uint32(HeaderSize+body.Len()))
		byteOrder.PutUint32(header[pos+4:pos+8], uint32(len(t)))
		body.Write(t)
	}
	return append(header, body.Bytes()...), nil
}
