package task

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/maptile"

	"modtile/internal/metatile"
	"modtile/internal/tile"
)

// Tile 自定义瓦片存储
type Tile struct {
	T maptile.Tile
	C []byte
}

func tilePath(dir string, t maptile.Tile, format string) string {
	return filepath.Join(dir, fmt.Sprintf(`%d`, t.Z), fmt.Sprintf(`%d`, t.X), fmt.Sprintf(`%d.%s`, t.Y, format))
}

func saveToFiles(tile Tile, dir, format string) error {
	fileName := tilePath(dir, tile.T, format)
	if err := os.MkdirAll(filepath.Dir(fileName), os.ModePerm); err != nil {
		return err
	}
	return os.WriteFile(fileName, tile.C, 0o644)
}

// subTile returns the map tile at offset inside the meta-tile starting at origin.
func subTile(origin tile.Identity, offset int) maptile.Tile {
	return maptile.New(
		uint32(origin.X)+uint32(offset/tile.MetaTileWidth),
		uint32(origin.Y)+uint32(offset%tile.MetaTileWidth),
		maptile.Zoom(origin.Z),
	)
}

// Extract 将元瓦片拆分为 {dir}/{z}/{x}/{y}.{format} 文件, 返回写出的瓦片数.
// Tiles are written without the meta-tile encoding; empty slots are skipped.
func Extract(path, dir, format string) (int, error) {
	mt, err := metatile.Read(path, "")
	if err != nil {
		return 0, err
	}
	origin := tile.Identity{X: mt.X, Y: mt.Y, Z: mt.Z}

	written := 0
	for i := 0; i < mt.Count(); i++ {
		ref, err := mt.Select(i)
		if err != nil {
			return written, err
		}
		if ref.Len() == 0 {
			continue
		}
		data, err := ref.Decompressed()
		if err != nil {
			return written, fmt.Errorf("tile %d of %s: %w", i, path, err)
		}
		t := Tile{T: subTile(origin, i), C: data}
		if err := saveToFiles(t, dir, format); err != nil {
			return written, fmt.Errorf("create %v tile file error ~ %w", t.T, err)
		}
		written++
	}
	return written, nil
}

// Pack 读取 {dir}/{z}/{x}/{y}.{format} 下属于 id 所在元瓦片的瓦片, 写入 store root.
// Missing tiles become empty slots. Returns the written path and the number of tiles packed.
func Pack(dir, format, root string, id tile.Identity, enc tile.Encoding) (string, int, error) {
	origin := id.MetaOrigin()
	tiles := make([][]byte, metatile.TileCount)
	found := 0
	for i := range tiles {
		data, err := os.ReadFile(tilePath(dir, subTile(origin, i), format))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", found, err
		}
		tiles[i] = data
		found++
	}
	if found == 0 {
		return "", 0, fmt.Errorf("no %s tiles for meta-tile %s under %s", format, origin, dir)
	}

	data, err := metatile.Encode(origin, tiles, enc)
	if err != nil {
		return "", found, err
	}
	path := metatile.PathFor(root, origin)
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return "", found, err
	}
	// 先写临时文件再改名, 避免服务读到半个文件
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", found, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", found, err
	}
	return path, found, nil
}
