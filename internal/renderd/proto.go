// Package renderd builds the fixed-size messages understood by the renderd
// daemon. Layouts follow struct protocol / protocol_v2 in mod_tile's
// protocol.h on a little-endian host, trailing alignment padding included.
package renderd

import (
	"encoding/binary"
	"errors"
	"fmt"

	"modtile/internal/slippy"
	"modtile/internal/tile"
)

// XMLConfigMax 协议中字符串字段的长度, 含结尾 NUL
const XMLConfigMax = 41

// Every legal layer name plus its NUL terminator fits the xmlname field.
var _ [XMLConfigMax - tile.MaxLayerNameLen - 1]struct{}

const (
	ProtocolV2 int32 = 2
	ProtocolV3 int32 = 3
)

const (
	headerSize = 20
	// SizeV2 and SizeV3 are the C struct sizes, padded to 4 byte alignment.
	SizeV2 = (headerSize + XMLConfigMax + 3) &^ 3
	SizeV3 = (headerSize + 3*XMLConfigMax + 3) &^ 3
)

var byteOrder = binary.LittleEndian

// Command 渲染命令, 与 enum protoCmd 对应
type Command int32

const (
	CmdIgnore Command = iota
	CmdRender
	CmdDirty
	CmdDone
	CmdNotDone
	CmdRenderPrio
	CmdRenderBulk
	CmdRenderLow
)

func (c Command) String() string {
	switch c {
	case CmdIgnore:
		return "ignore"
	case CmdRender:
		return "render"
	case CmdDirty:
		return "dirty"
	case CmdDone:
		return "done"
	case CmdNotDone:
		return "not_done"
	case CmdRenderPrio:
		return "render_prio"
	case CmdRenderBulk:
		return "render_bulk"
	case CmdRenderLow:
		return "render_low"
	default:
		return fmt.Sprintf("Command(%d)", int32(c))
	}
}

// RenderRequest is a message ready for the daemon.
type RenderRequest interface {
	Version() int32
	MarshalBinary() ([]byte, error)
}

// RequestV2 mirrors struct protocol_v2.
type RequestV2 struct {
	Ver     int32
	Cmd     Command
	X, Y, Z int32
	XMLName [XMLConfigMax]byte
}

// RequestV3 mirrors struct protocol.
type RequestV3 struct {
	Ver      int32
	Cmd      Command
	X, Y, Z  int32
	XMLName  [XMLConfigMax]byte
	MimeType [XMLConfigMax]byte
	Options  [XMLConfigMax]byte
}

func (r *RequestV2) Version() int32 { return r.Ver }
func (r *RequestV3) Version() int32 { return r.Ver }

// MarshalBinary encodes r in the daemon's wire layout.
func (r *RequestV2) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SizeV2)
	putHeader(buf, r.Ver, r.Cmd, r.X, r.Y, r.Z)
	copy(buf[headerSize:], r.XMLName[:])
	return buf, nil
}

// MarshalBinary encodes r in the daemon's wire layout.
func (r *RequestV3) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SizeV3)
	putHeader(buf, r.Ver, r.Cmd, r.X, r.Y, r.Z)
	off := headerSize
	for _, field := range [][XMLConfigMax]byte{r.XMLName, r.MimeType, r.Options} {
		copy(buf[off:], field[:])
		off += XMLConfigMax
	}
	return buf, nil
}

func putHeader(buf []byte, ver int32, cmd Command, x, y, z int32) {
	byteOrder.PutUint32(buf[0:4], uint32(ver))
	byteOrder.PutUint32(buf[4:8], uint32(cmd))
	byteOrder.PutUint32(buf[8:12], uint32(x))
	byteOrder.PutUint32(buf[12:16], uint32(y))
	byteOrder.PutUint32(buf[16:20], uint32(z))
}

// ToRenderProto packs a tile request. ServeTileV2 becomes a protocol 2 message
// and ServeTileV3 a protocol 3 message.
func ToRenderProto(header slippy.Header, body slippy.Body, cmd Command) (RenderRequest, error) {
	switch b := body.(type) {
	case slippy.ServeTileV2:
		r := &RequestV2{Ver: ProtocolV2, Cmd: cmd, X: b.X, Y: b.Y, Z: b.Z}
		if err := copyField(&r.XMLName, "layer", string(header.Layer)); err != nil {
			return nil, err
		}
		return r, nil
	case slippy.ServeTileV3:
		r := &RequestV3{Ver: ProtocolV3, Cmd: cmd, X: b.X, Y: b.Y, Z: b.Z}
		if err := copyField(&r.XMLName, "layer", string(header.Layer)); err != nil {
			return nil, err
		}
		if err := copyField(&r.MimeType, "extension", b.Extension); err != nil {
			return nil, err
		}
		var option string
		if b.Option != nil {
			option = *b.Option
		}
		if err := copyField(&r.Options, "option", option); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, &slippy.InvalidParameterError{
			Param:  "body",
			Value:  body.Kind(),
			Reason: "only tile requests can be rendered",
		}
	}
}

// copyField copies value and its NUL terminator into dst.
func copyField(dst *[XMLConfigMax]byte, param, value string) error {
	if len(value) >= XMLConfigMax {
		return &slippy.InvalidParameterError{
			Param:  param,
			Value:  value,
			Reason: fmt.Sprintf("longer than %d bytes", XMLConfigMax-1),
		}
	}
	n := copy(dst[:], value)
	dst[n] = 0
	return nil
}

// Response is a daemon reply.
type Response struct {
	Ver     int32
	Cmd     Command
	X, Y, Z int32
	XMLName string
}

// ErrShortResponse is returned when a reply is smaller than its version requires.
var ErrShortResponse = errors.New("short renderd response")

// ResponseSize returns the reply size for a protocol version.
func ResponseSize(ver int32) (int, error) {
	switch ver {
	case ProtocolV2:
		return SizeV2, nil
	case ProtocolV3:
		return SizeV3, nil
	default:
		return 0, fmt.Errorf("unsupported renderd protocol version %d", ver)
	}
}

// UnmarshalResponse decodes a daemon reply.
func UnmarshalResponse(data []byte) (*Response, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortResponse, len(data))
	}
	r := &Response{
		Ver: int32(byteOrder.Uint32(data[0:4])),
		Cmd: Command(byteOrder.Uint32(data[4:8])),
		X:   int32(byteOrder.Uint32(data[8:12])),
		Y:   int32(byteOrder.Uint32(data[12:16])),
		Z:   int32(byteOrder.Uint32(data[16:20])),
	}
	size, err := ResponseSize(r.Ver)
	if err != nil {
		return nil, err
	}
	if len(data) < size {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrShortResponse, len(data), size)
	}
	r.XMLName = cString(data[headerSize : headerSize+XMLConfigMax])
	return r, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
