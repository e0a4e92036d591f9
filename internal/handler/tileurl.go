package handler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"

	"modtile/internal/conf"
)

// TileURLTemplate 图层瓦片地址模板, 例如 https://tile.example.org/osm/{x}/{y}/{z}.png
func TileURLTemplate(scheme, host string, layer *conf.LayerConfig) string {
	if layer.HostName != "" {
		host = layer.HostName
	}
	return fmt.Sprintf("%s://%s%s/{x}/{y}/{z}.%s", scheme, host, layer.BaseURL, layer.FileExtension)
}

// GetTileURL 获取瓦片URL
func GetTileURL(template string, t maptile.Tile) string {
	url := strings.Replace(template, "{x}", strconv.Itoa(int(t.X)), -1)
	url = strings.Replace(url, "{y}", strconv.Itoa(int(t.Y)), -1)
	url = strings.Replace(url, "{z}", strconv.Itoa(int(t.Z)), -1)
	return url
}

// worldBounds returns the lon/lat extent covered by the root tile.
func worldBounds() [4]float64 {
	b := maptile.New(0, 0, 0).Bound()
	return [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
}
