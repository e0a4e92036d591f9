package metatile

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"modtile/internal/tile"
)

// hashLevels is the depth of the directory tree below {layer}/{z}.
const hashLevels = 5

// Extension of meta-tile files on disk.
const Extension = ".meta"

// PathFor 计算坐标所在元瓦片的存储路径:
// {root}/{layer}/{z}/{h4}/{h3}/{h2}/{h1}/{h0}.meta
func PathFor(root string, id tile.Identity) string {
	hash := dirHash(id)
	return filepath.Join(
		root,
		string(id.Layer),
		strconv.Itoa(int(id.Z)),
		strconv.Itoa(int(hash[4])),
		strconv.Itoa(int(hash[3])),
		strconv.Itoa(int(hash[2])),
		strconv.Itoa(int(hash[1])),
		strconv.Itoa(int(hash[0]))+Extension,
	)
}

// dirHash interleaves the low nibbles of the meta-tile origin, one byte per level.
// The layout matches mod_tile's xyz_to_meta and must not change.
func dirHash(id tile.Identity) [hashLevels]uint8 {
	x := uint32(id.X) &^ tile.MetaTileMask
	y := uint32(id.Y) &^ tile.MetaTileMask

	var hash [hashLevels]uint8
	for i := 0; i < hashLevels; i++ {
		hash[i] = uint8(((x & 0x0f) << 4) | (y & 0x0f))
		x >>= 4
		y >>= 4
	}
	return hash
}

// Offset 瓦片在元瓦片内的下标, 行优先
func Offset(id tile.Identity) int {
	return int((id.X&tile.MetaTileMask)*tile.MetaTileWidth + (id.Y & tile.MetaTileMask))
}

// IdentityFromPath recovers the meta-tile origin from a path produced by PathFor.
func IdentityFromPath(root, path string) (tile.Identity, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return tile.Identity{}, fmt.Errorf("path %s is outside %s: %w", path, root, err)
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2+hashLevels || !strings.HasSuffix(parts[len(parts)-1], Extension) {
		return tile.Identity{}, fmt.Errorf("path %s is not a meta-tile path", path)
	}
	parts[len(parts)-1] = strings.TrimSuffix(parts[len(parts)-1], Extension)

	layer, err := tile.MakeLayerName(parts[0])
	if err != nil {
		return tile.Identity{}, err
	}
	z, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return tile.Identity{}, fmt.Errorf("path %s: bad zoom: %w", path, err)
	}

	var x, y uint32
	for i := 0; i < hashLevels; i++ {
		h, err := strconv.ParseUint(parts[2+i], 10, 8)
		if err != nil {
			return tile.Identity{}, fmt.Errorf("path %s: bad hash level %d: %w", path, i, err)
		}
		x = x<<4 | uint32(h>>4)&0x0f
		y = y<<4 | uint32(h)&0x0f
	}
	return tile.Identity{X: int32(x), Y: int32(y), Z: int32(z), Layer: layer}, nil
}
