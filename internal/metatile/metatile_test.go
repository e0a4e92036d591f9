package metatile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modtile/internal/tile"
)

// createTestTiles returns 64 distinct payloads, tile i being "tile-<i>".
func createTestTiles() [][]byte {
	tiles := make([][]byte, TileCount)
	for i := range tiles {
		tiles[i] = []byte(fmt.Sprintf("tile-%02d", i))
	}
	return tiles
}

func createTestMetaTile(t *testing.T, enc tile.Encoding) []byte {
	t.Helper()
	data, err := Encode(tile.Identity{X: 8, Y: 16, Z: 5, Layer: "default"}, createTestTiles(), enc)
	require.NoError(t, err)
	return data
}

func TestPathFor(t *testing.T) {
	tests := []struct {
		name string
		id   tile.Identity
		want string
	}{
		{
			name: "origin",
			id:   tile.Identity{X: 0, Y: 0, Z: 0, Layer: "default"},
			want: "/store/default/0/0/0/0/0/0.meta",
		},
		{
			name: "inside first meta-tile",
			id:   tile.Identity{X: 1, Y: 7, Z: 5, Layer: "default"},
			want: "/store/default/5/0/0/0/0/0.meta",
		},
		{
			name: "nibbles interleaved",
			id:   tile.Identity{X: 17, Y: 40, Z: 12, Layer: "default"},
			want: "/store/default/12/0/0/0/18/8.meta",
		},
		{
			name: "all levels used",
			id:   tile.Identity{X: 0x12345, Y: 0x6789a, Z: 20, Layer: "hot"},
			want: "/store/hot/20/22/39/56/73/8.meta",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, filepath.FromSlash(tt.want), PathFor("/store", tt.id))
		})
	}
}

func TestIdentityFromPath(t *testing.T) {
	ids := []tile.Identity{
		{X: 0, Y: 0, Z: 0, Layer: "default"},
		{X: 16, Y: 40, Z: 12, Layer: "default"},
		{X: 0x12340, Y: 0x67898, Z: 20, Layer: "hot"},
	}
	for _, id := range ids {
		got, err := IdentityFromPath("/store", PathFor("/store", id))
		require.NoError(t, err)
		assert.Equal(t, id.MetaOrigin(), got)
	}

	_, err := IdentityFromPath("/store", "/store/default/1/2.meta")
	assert.Error(t, err)
	_, err = IdentityFromPath("/store", "/store/default/1/0/0/0/0/999.meta")
	assert.Error(t, err)
}

func TestOffset(t *testing.T) {
	assert.Equal(t, 15, Offset(tile.Identity{X: 1, Y: 7, Z: 5}))
	assert.Equal(t, 0, Offset(tile.Identity{X: 8, Y: 8, Z: 5}))
	assert.Equal(t, 63, Offset(tile.Identity{X: 15, Y: 23, Z: 5}))
}

func TestOffsetIsBijectiveWithinMetaTile(t *testing.T) {
	for _, base := range [][2]int32{{0, 0}, {8, 16}, {1024, 4096}} {
		seen := make(map[int]bool)
		for dx := int32(0); dx < tile.MetaTileWidth; dx++ {
			for dy := int32(0); dy < tile.MetaTileWidth; dy++ {
				off := Offset(tile.Identity{X: base[0] + dx, Y: base[1] + dy, Z: 12})
				require.GreaterOrEqual(t, off, 0)
				require.Less(t, off, TileCount)
				require.False(t, seen[off], "offset %d repeated", off)
				seen[off] = true
			}
		}
		assert.Len(t, seen, TileCount)
	}
}

func TestDecode(t *testing.T) {
	mt, err := Decode(createTestMetaTile(t, tile.EncodingIdentity), "image/png")
	require.NoError(t, err)

	assert.Equal(t, TileCount, mt.Count())
	assert.Equal(t, tile.EncodingIdentity, mt.Encoding)
	assert.Equal(t, int32(8), mt.X)
	assert.Equal(t, int32(16), mt.Y)
	assert.Equal(t, int32(5), mt.Z)

	for i := 0; i < TileCount; i++ {
		ref, err := mt.Select(i)
		require.NoError(t, err)
		assert.Equal(t, "image/png", ref.MediaType)
		require.NoError(t, ref.WithTile(func(b []byte) error {
			assert.Equal(t, fmt.Sprintf("tile-%02d", i), string(b))
			return nil
		}))
	}
}

func TestDecodeCompressed(t *testing.T) {
	mt, err := Decode(createTestMetaTile(t, tile.EncodingGzip), "application/x-protobuf")
	require.NoError(t, err)
	assert.Equal(t, tile.EncodingGzip, mt.Encoding)

	ref, err := mt.Select(42)
	require.NoError(t, err)
	assert.Equal(t, tile.EncodingGzip, ref.Encoding)

	raw, err := ref.Decompressed()
	require.NoError(t, err)
	assert.Equal(t, "tile-42", string(raw))
}

func TestDecodeErrors(t *testing.T) {
	valid := func() []byte { return createTestMetaTile(t, tile.EncodingIdentity) }

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		check  func(t *testing.T, err error)
	}{
		{
			name:   "empty",
			mutate: func([]byte) []byte { return nil },
			check: func(t *testing.T, err error) {
				var te *TruncatedError
				require.ErrorAs(t, err, &te)
			},
		},
		{
			name: "unknown magic",
			mutate: func(b []byte) []byte {
				copy(b[0:4], "XXXX")
				return b
			},
			check: func(t *testing.T, err error) {
				var ce *InvalidCompressionError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, [4]byte{'X', 'X', 'X', 'X'}, ce.Tag)
			},
		},
		{
			name: "tile count 65",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[4:8], 65)
				return b
			},
			check: func(t *testing.T, err error) {
				var ce *InvalidTileCountError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, int32(65), ce.Count)
			},
		},
		{
			name: "negative tile count",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[4:8], 0xffffffff)
				return b
			},
			check: func(t *testing.T, err error) {
				var ce *InvalidTileCountError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, int32(-1), ce.Count)
			},
		},
		{
			name:   "index truncated",
			mutate: func(b []byte) []byte { return b[:HeaderSize-1] },
			check: func(t *testing.T, err error) {
				var te *TruncatedError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, HeaderSize, te.Need)
			},
		},
		{
			name: "entry past end of file",
			mutate: func(b []byte) []byte {
				pos := fixedHeaderSize + 10*entrySize
				binary.LittleEndian.PutUint32(b[pos:pos+4], uint32(len(b)-2))
				binary.LittleEndian.PutUint32(b[pos+4:pos+8], 3)
				return b
			},
			check: func(t *testing.T, err error) {
				var le *InvalidTileLengthError
				require.ErrorAs(t, err, &le)
				assert.Equal(t, uint32(3), le.Size)
			},
		},
		{
			name: "entry overflowing uint32",
			mutate: func(b []byte) []byte {
				pos := fixedHeaderSize
				binary.LittleEndian.PutUint32(b[pos:pos+4], 0xffffffff)
				binary.LittleEndian.PutUint32(b[pos+4:pos+8], 0xffffffff)
				return b
			},
			check: func(t *testing.T, err error) {
				var le *InvalidTileLengthError
				require.ErrorAs(t, err, &le)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt, err := Decode(tt.mutate(valid()), "image/png")
			assert.Nil(t, mt)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidMetaTile)
			tt.check(t, err)
		})
	}
}

func TestSelectOutOfBounds(t *testing.T) {
	mt, err := Decode(createTestMetaTile(t, tile.EncodingIdentity), "image/png")
	require.NoError(t, err)

	for _, off := range []int{-1, TileCount, TileCount + 10} {
		_, err := mt.Select(off)
		var oe *TileOffsetOutOfBoundsError
		require.ErrorAs(t, err, &oe)
		assert.Equal(t, off, oe.Offset)
		assert.Equal(t, TileCount, oe.Count)
	}
}

func TestTileRefEquality(t *testing.T) {
	data := createTestMetaTile(t, tile.EncodingIdentity)
	a, err := Decode(data, "image/png")
	require.NoError(t, err)
	b, err := Decode(data, "image/png")
	require.NoError(t, err)

	r1, _ := a.Select(3)
	r2, _ := a.Select(3)
	r3, _ := a.Select(4)
	r4, _ := b.Select(3)

	assert.True(t, r1.Equal(r2))
	assert.False(t, r1.Equal(r3))
	assert.False(t, r1.Equal(r4), "same content in another buffer is a different ref")
	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
}

// selectDetached returns a ref whose meta-tile is unreachable once the call returns.
func selectDetached(t *testing.T, data []byte) TileRef {
	mt, err := Decode(data, "image/png")
	require.NoError(t, err)
	ref, err := mt.Select(7)
	require.NoError(t, err)
	return ref
}

func TestTileRefBufferDropped(t *testing.T) {
	ref := selectDetached(t, createTestMetaTile(t, tile.EncodingIdentity))
	runtime.GC()

	called := false
	err := ref.WithTile(func([]byte) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrBufferDropped)
	assert.False(t, called)

	_, err = TileRef{}.WriteTo(&bytes.Buffer{})
	assert.ErrorIs(t, err, ErrBufferDropped)
}

func TestTileRefWriteTo(t *testing.T) {
	mt, err := Decode(createTestMetaTile(t, tile.EncodingIdentity), "image/png")
	require.NoError(t, err)
	ref, err := mt.Select(9)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := ref.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(ref.Len()), n)
	assert.Equal(t, "tile-09", buf.String())
}

func TestEncodeRequires64Tiles(t *testing.T) {
	_, err := Encode(tile.Identity{}, make([][]byte, 10), tile.EncodingIdentity)
	assert.Error(t, err)
}

func TestRead(t *testing.T) {
	root := t.TempDir()
	id := tile.Identity{X: 9, Y: 17, Z: 5, Layer: "default"}
	path := PathFor(root, id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, createTestMetaTile(t, tile.EncodingIdentity), 0o644))

	mt, err := Read(path, "image/png")
	require.NoError(t, err)
	ref, err := mt.Select(Offset(id))
	require.NoError(t, err)
	require.NoError(t, ref.WithTile(func(b []byte) error {
		assert.Equal(t, "tile-09", string(b))
		return nil
	}))
}

func TestReadErrors(t *testing.T) {
	root := t.TempDir()

	_, err := Read(filepath.Join(root, "missing.meta"), "image/png")
	var re *TileReadError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, NotFound, re.Kind)
	assert.Contains(t, err.Error(), "not found")

	_, err = Read(root, "image/png")
	require.ErrorAs(t, err, &re)
	assert.Equal(t, IO, re.Kind)
}

func TestStoreFetch(t *testing.T) {
	root := t.TempDir()
	id := tile.Identity{X: 1, Y: 2, Z: 3, Layer: "default"}
	path := PathFor(root, id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, createTestMetaTile(t, tile.EncodingIdentity), 0o644))

	log := logrus.New()
	s, err := NewStore(root, 4, log)
	require.NoError(t, err)
	assert.Equal(t, root, s.Root())

	first, err := s.Fetch(id, "image/png")
	require.NoError(t, err)
	second, err := s.Fetch(tile.Identity{X: 7, Y: 7, Z: 3, Layer: "default"}, "image/png")
	require.NoError(t, err)
	assert.Same(t, first, second, "tiles of one meta-tile share the cached file")
	assert.Equal(t, 1, s.Cached())

	s.Invalidate(id)
	assert.Equal(t, 0, s.Cached())

	_, err = s.Fetch(tile.Identity{X: 100, Y: 2, Z: 3, Layer: "default"}, "image/png")
	var re *TileReadError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, NotFound, re.Kind)
}

func TestStoreReloadsRewrittenFile(t *testing.T) {
	root := t.TempDir()
	id := tile.Identity{X: 1, Y: 2, Z: 3, Layer: "default"}
	path := PathFor(root, id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	writeFirst := func(content string, mtime time.Time) {
		tiles := make([][]byte, TileCount)
		tiles[0] = []byte(content)
		data, err := Encode(id, tiles, tile.EncodingIdentity)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0o644))
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	firstTile := func(s *Store) string {
		mt, err := s.Fetch(tile.Identity{X: 0, Y: 0, Z: 3, Layer: "default"}, "image/png")
		require.NoError(t, err)
		ref, err := mt.Select(0)
		require.NoError(t, err)
		var buf bytes.Buffer
		_, err = ref.WriteTo(&buf)
		require.NoError(t, err)
		runtime.KeepAlive(mt)
		return buf.String()
	}

	s, err := NewStore(root, 4, logrus.New())
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeFirst("old", base)
	assert.Equal(t, "old", firstTile(s))
	assert.Equal(t, "old", firstTile(s))

	// re-rendered with a different size
	writeFirst("new-rendered", base.Add(time.Minute))
	assert.Equal(t, "new-rendered", firstTile(s))

	// same size, only the modification time tells them apart
	writeFirst("new-renderex", base.Add(2*time.Minute))
	assert.Equal(t, "new-renderex", firstTile(s))
	assert.Equal(t, 1, s.Cached())

	require.NoError(t, os.Remove(path))
	_, err = s.Fetch(id, "image/png")
	var re *TileReadError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, NotFound, re.Kind)
	assert.Equal(t, 0, s.Cached())
}

func TestStoreWithoutCache(t *testing.T) {
	root := t.TempDir()
	id := tile.Identity{X: 1, Y: 2, Z: 3, Layer: "default"}
	path := PathFor(root, id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, createTestMetaTile(t, tile.EncodingIdentity), 0o644))

	s, err := NewStore(root, 0, logrus.New())
	require.NoError(t, err)
	first, err := s.Fetch(id, "image/png")
	require.NoError(t, err)
	second, err := s.Fetch(id, "image/png")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 0, s.Cached())
}
