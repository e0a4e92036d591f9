package slippy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"modtile/internal/conf"
	"modtile/internal/tile"
)

const describeLayerPath = "/tile-layer.json"

var (
	coordsPattern = fmt.Sprintf(`(\d+)/(\d+)/(\d+)\.([a-z]{1,%d})`, tile.MaxExtensionLen)
	paramPattern  = fmt.Sprintf(`([^0-9/]{1,%d})`, tile.MaxLayerNameLen)
	optionPattern = `([^/]{1,10})`

	v3WithOption    = regexp.MustCompile(`^/` + paramPattern + `/` + coordsPattern + `/` + optionPattern + `$`)
	v3WithoutOption = regexp.MustCompile(`^/` + paramPattern + `/` + coordsPattern + `/?$`)
	v2WithOption    = regexp.MustCompile(`^/` + coordsPattern + `/` + optionPattern + `$`)
	v2WithoutOption = regexp.MustCompile(`^/` + coordsPattern + `/?$`)
	parameterPrefix = regexp.MustCompile(`^/` + paramPattern + `/`)
)

// ParseDescribeLayer matches /tile-layer.json, ignoring case.
func ParseDescribeLayer(_ *Context, _ *conf.LayerConfig, url string) (Body, error) {
	if strings.EqualFold(url, describeLayerPath) {
		return DescribeLayer{}, nil
	}
	return nil, nil
}

// ParseServeTileV3 matches /{parameter}/{x}/{y}/{z}.{ext}[/{option}]. A
// parameter segment on a layer that does not allow parameters is an error,
// not a miss, so the V2 parser never sees it.
func ParseServeTileV3(_ *Context, layer *conf.LayerConfig, url string) (Body, error) {
	if !layer.ParametersAllowed {
		if parameterPrefix.MatchString(url) {
			return nil, paramError("uri", url, fmt.Sprintf("layer %s does not accept parameters", layer.Name))
		}
		return nil, nil
	}

	if m := v3WithOption.FindStringSubmatch(url); m != nil {
		x, y, z, err := parseCoords(m[2], m[3], m[4])
		if err != nil {
			return nil, err
		}
		option := m[6]
		return ServeTileV3{Parameter: m[1], X: x, Y: y, Z: z, Extension: m[5], Option: &option}, nil
	}
	if m := v3WithoutOption.FindStringSubmatch(url); m != nil {
		x, y, z, err := parseCoords(m[2], m[3], m[4])
		if err != nil {
			return nil, err
		}
		return ServeTileV3{Parameter: m[1], X: x, Y: y, Z: z, Extension: m[5]}, nil
	}
	return nil, nil
}

// ParseServeTileV2 matches /{x}/{y}/{z}.{ext}[/{option}].
func ParseServeTileV2(_ *Context, _ *conf.LayerConfig, url string) (Body, error) {
	if m := v2WithOption.FindStringSubmatch(url); m != nil {
		x, y, z, err := parseCoords(m[1], m[2], m[3])
		if err != nil {
			return nil, err
		}
		option := m[5]
		return ServeTileV2{X: x, Y: y, Z: z, Extension: m[4], Option: &option}, nil
	}
	if m := v2WithoutOption.FindStringSubmatch(url); m != nil {
		x, y, z, err := parseCoords(m[1], m[2], m[3])
		if err != nil {
			return nil, err
		}
		return ServeTileV2{X: x, Y: y, Z: z, Extension: m[4]}, nil
	}
	return nil, nil
}

func parseCoords(xs, ys, zs string) (x, y, z int32, err error) {
	if x, err = parseCoord("x", xs); err != nil {
		return
	}
	if y, err = parseCoord("y", ys); err != nil {
		return
	}
	if z, err = parseCoord("z", zs); err != nil {
		return
	}
	if z > tile.MaxZoomServer {
		err = paramError("z", zs, fmt.Sprintf("must be <= %d", tile.MaxZoomServer))
	}
	return
}

func parseCoord(name, s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, paramError(name, s, "not a 32 bit integer")
	}
	return int32(v), nil
}
