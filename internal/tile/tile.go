package tile

import (
	"errors"
	"fmt"
)

// MaxLayerNameLen 图层名最大字节数, 渲染协议里的 xmlname 字段需要再留一个 NUL
const MaxLayerNameLen = 40

// MaxZoomServer 服务端支持的最大级别
const MaxZoomServer = 30

// MaxExtensionLen 瓦片扩展名最大长度
const MaxExtensionLen = 255

// MetaTileWidth 元瓦片边长, 一个元瓦片包含 8x8 个瓦片
const MetaTileWidth = 8

// MetaTileMask 元瓦片掩码
const MetaTileMask = MetaTileWidth - 1

// Constants representing TileFormat types
const (
	GZIP string = "gzip" // encoding = gzip
	PNG         = "png"
	JPG         = "jpg"
	PBF         = "pbf"
	WEBP        = "webp"
)

var mimeTypes = map[string]string{
	PNG:  "image/png",
	JPG:  "image/jpeg",
	PBF:  "application/x-protobuf",
	WEBP: "image/webp",
}

// MimeType 常见瓦片格式的默认 MIME 类型
func MimeType(ext string) (string, bool) {
	m, ok := mimeTypes[ext]
	return m, ok
}

// ErrLayerNameTooLong is returned when a layer name does not fit the render protocol.
var ErrLayerNameTooLong = errors.New("layer name too long")

// LayerName 图层名, 长度不超过 MaxLayerNameLen
type LayerName string

// MakeLayerName 校验并创建图层名
func MakeLayerName(s string) (LayerName, error) {
	if len(s) > MaxLayerNameLen {
		return "", fmt.Errorf("%w: %q is %d bytes, limit %d", ErrLayerNameTooLong, s, len(s), MaxLayerNameLen)
	}
	return LayerName(s), nil
}

func (n LayerName) String() string {
	return string(n)
}

// Identity 瓦片坐标, 唯一确定一个栅格瓦片
type Identity struct {
	X     int32
	Y     int32
	Z     int32
	Layer LayerName
}

func (id Identity) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", id.Layer, id.Z, id.X, id.Y)
}

// MetaOrigin returns the identity of the top-left tile of the meta-tile holding id.
func (id Identity) MetaOrigin() Identity {
	return Identity{
		X:     id.X &^ MetaTileMask,
		Y:     id.Y &^ MetaTileMask,
		Z:     id.Z,
		Layer: id.Layer,
	}
}

// Encoding 瓦片内容编码
type Encoding int

const (
	EncodingIdentity Encoding = iota
	EncodingGzip
)

func (e Encoding) String() string {
	switch e {
	case EncodingGzip:
		return GZIP
	default:
		return "identity"
	}
}
