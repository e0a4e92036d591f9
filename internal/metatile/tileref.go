package metatile

import (
	"bytes"
	"fmt"
	"io"
	"runtime"
	"weak"

	"github.com/klauspost/compress/gzip"

	"modtile/internal/tile"
)

// TileRef is a view of one sub-tile inside a meta-tile buffer. It does not keep
// the buffer alive: once every MetaTile holding it is gone, WithTile reports
// ErrBufferDropped instead of serving stale bytes.
type TileRef struct {
	raw       weak.Pointer[buffer]
	Begin     int
	End       int
	MediaType string
	Encoding  tile.Encoding
}

// Len returns the size of the referenced range.
func (r TileRef) Len() int {
	return r.End - r.Begin
}

// WithTile lends the tile bytes to fn for the duration of the call.
// fn must not retain the slice.
func (r TileRef) WithTile(fn func([]byte) error) error {
	b := r.raw.Value()
	if b == nil {
		return ErrBufferDropped
	}
	err := fn(b.data[r.Begin:r.End])
	runtime.KeepAlive(b)
	return err
}

// Equal reports whether both refs point at the same range of the same buffer.
func (r TileRef) Equal(o TileRef) bool {
	return r.raw == o.raw && r.Begin == o.Begin && r.End == o.End && r.MediaType == o.MediaType
}

// WriteTo copies the tile bytes to w.
func (r TileRef) WriteTo(w io.Writer) (int64, error) {
	var n int
	err := r.WithTile(func(b []byte) error {
		var err error
		n, err = w.Write(b)
		return err
	})
	return int64(n), err
}

// Decompressed returns the tile bytes with the meta-tile encoding removed.
func (r TileRef) Decompressed() ([]byte, error) {
	var out []byte
	err := r.WithTile(func(b []byte) error {
		if r.Encoding != tile.EncodingGzip {
			out = append([]byte(nil), b...)
			return nil
		}
		zr, err := gzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return fmt.Errorf("open gzip tile: %w", err)
		}
		defer zr.Close()
		out, err = io.ReadAll(zr)
		if err != nil {
			return fmt.Errorf("inflate tile: %w", err)
		}
		return nil
	})
	return out, err
}
