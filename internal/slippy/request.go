// Package slippy classifies slippy-map request paths into typed requests.
package slippy

import (
	"time"

	"modtile/internal/tile"
)

// Input is the part of an HTTP request the parser looks at.
type Input struct {
	URI        string
	ReceivedAt time.Time
	RequestID  string
}

// Header 请求头信息
type Header struct {
	Layer      tile.LayerName
	RequestID  string
	URI        string
	ReceivedAt time.Time
}

// Request 解析后的请求
type Request struct {
	Header Header
	Body   Body
}

// Body is one of ReportStatistics, DescribeLayer, ServeTileV2 or ServeTileV3.
type Body interface {
	Kind() string
	isBody()
}

// ReportStatistics asks for the module statistics.
type ReportStatistics struct{}

// DescribeLayer asks for the tile-layer.json of a layer.
type DescribeLayer struct{}

// ServeTileV2 是不带样式参数的瓦片请求
type ServeTileV2 struct {
	X, Y, Z   int32
	Extension string
	Option    *string
}

// ServeTileV3 是带样式参数的瓦片请求
type ServeTileV3 struct {
	Parameter string
	X, Y, Z   int32
	Extension string
	Option    *string
}

func (ReportStatistics) Kind() string { return "report_statistics" }
func (DescribeLayer) Kind() string    { return "describe_layer" }
func (ServeTileV2) Kind() string      { return "serve_tile_v2" }
func (ServeTileV3) Kind() string      { return "serve_tile_v3" }

func (ReportStatistics) isBody() {}
func (DescribeLayer) isBody()    {}
func (ServeTileV2) isBody()      {}
func (ServeTileV3) isBody()      {}

// Identity returns the tile addressed by the request.
func (b ServeTileV2) Identity(layer tile.LayerName) tile.Identity {
	return tile.Identity{X: b.X, Y: b.Y, Z: b.Z, Layer: layer}
}

// Identity returns the tile addressed by the request.
func (b ServeTileV3) Identity(layer tile.LayerName) tile.Identity {
	return tile.Identity{X: b.X, Y: b.Y, Z: b.Z, Layer: layer}
}

// TileIdentity returns the tile a request body addresses, if any.
func TileIdentity(r *Request) (tile.Identity, bool) {
	switch b := r.Body.(type) {
	case ServeTileV2:
		return b.Identity(r.Header.Layer), true
	case ServeTileV3:
		return b.Identity(r.Header.Layer), true
	default:
		return tile.Identity{}, false
	}
}
