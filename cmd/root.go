package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"modtile/internal/conf"
	"modtile/internal/logging"
	"modtile/internal/tile"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "modtile",
	Short: "Slippy map tile server backed by mod_tile meta-tiles",
	Long: `modtile serves slippy map tiles out of a renderd meta-tile store and
asks renderd to render tiles that are missing.

Commands:
  serve     Run the HTTP tile server
  locate    Print where a tile is stored
  verify    Check every meta-tile in the store
  extract   Split one meta-tile into z/x/y files
  pack      Build one meta-tile from z/x/y files`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./conf/renderd.conf", "set config `file`")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "set log level (default: from config, info)")
}

func loadConfig() (*conf.ModuleConfig, error) {
	return conf.Load(configPath)
}

// setup 初始化配置和日志
func setup() (*conf.ModuleConfig, *logrus.Logger, io.Closer, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	log, closer, err := logging.New(cfg.Output, logLevel)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, closer, nil
}

// tileArgs parses "<layer> <x> <y> <z>" against the configured layers.
func tileArgs(cfg *conf.ModuleConfig, args []string) (tile.Identity, *conf.LayerConfig, error) {
	layer, ok := cfg.Layer(tile.LayerName(args[0]))
	if !ok {
		return tile.Identity{}, nil, fmt.Errorf("layer %q is not configured", args[0])
	}
	var coords [3]int32
	for i, name := range []string{"x", "y", "z"} {
		v, err := strconv.ParseInt(args[i+1], 10, 32)
		if err != nil || v < 0 {
			return tile.Identity{}, nil, fmt.Errorf("invalid %s %q", name, args[i+1])
		}
		coords[i] = int32(v)
	}
	id := tile.Identity{X: coords[0], Y: coords[1], Z: coords[2], Layer: layer.Name}
	if id.Z > tile.MaxZoomServer {
		return tile.Identity{}, nil, fmt.Errorf("invalid z %d, limit %d", id.Z, tile.MaxZoomServer)
	}
	return id, layer, nil
}
