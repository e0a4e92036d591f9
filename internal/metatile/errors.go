package metatile

import (
	"errors"
	"fmt"
)

// ErrInvalidMetaTile matches every structural fault found while decoding a meta-tile.
var ErrInvalidMetaTile = errors.New("invalid meta-tile")

// ErrBufferDropped is returned when a TileRef outlives the meta-tile it points into.
var ErrBufferDropped = errors.New("meta-tile buffer has been dropped")

// ReadErrorKind classifies TileReadError.
type ReadErrorKind int

const (
	NotFound ReadErrorKind = iota
	IO
)

// TileReadError wraps a failure to load a meta-tile file.
type TileReadError struct {
	Kind ReadErrorKind
	Path string
	Err  error
}

func (e *TileReadError) Error() string {
	if e.Kind == NotFound {
		return fmt.Sprintf("meta-tile %s not found", e.Path)
	}
	return fmt.Sprintf("read meta-tile %s: %v", e.Path, e.Err)
}

func (e *TileReadError) Unwrap() error { return e.Err }

// InvalidCompressionError reports an unknown magic tag.
type InvalidCompressionError struct {
	Tag [4]byte
}

func (e *InvalidCompressionError) Error() string {
	return fmt.Sprintf("invalid meta-tile tag %q", e.Tag[:])
}

func (e *InvalidCompressionError) Is(target error) bool { return target == ErrInvalidMetaTile }

// InvalidTileCountError reports a header whose tile count is not 64.
type InvalidTileCountError struct {
	Count int32
}

func (e *InvalidTileCountError) Error() string {
	return fmt.Sprintf("invalid meta-tile count %d, want %d", e.Count, TileCount)
}

func (e *InvalidTileCountError) Is(target error) bool { return target == ErrInvalidMetaTile }

// InvalidTileLengthError reports an index entry pointing past the end of the file.
type InvalidTileLengthError struct {
	Offset  uint32
	Size    uint32
	FileLen int
}

func (e *InvalidTileLengthError) Error() string {
	return fmt.Sprintf("meta-tile entry at offset %d with size %d exceeds file length %d", e.Offset, e.Size, e.FileLen)
}

func (e *InvalidTileLengthError) Is(target error) bool { return target == ErrInvalidMetaTile }

// TruncatedError reports a file too short to hold its own header.
type TruncatedError struct {
	Need int
	Have int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("meta-tile truncated: header needs %d bytes, have %d", e.Need, e.Have)
}

func (e *TruncatedError) Is(target error) bool { return target == ErrInvalidMetaTile }

// TileOffsetOutOfBoundsError reports a Select beyond the tile count.
type TileOffsetOutOfBoundsError struct {
	Offset int
	Count  int
}

func (e *TileOffsetOutOfBoundsError) Error() string {
	return fmt.Sprintf("tile offset %d out of bounds, meta-tile holds %d tiles", e.Offset, e.Count)
}
