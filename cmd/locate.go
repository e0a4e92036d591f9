package cmd

import (
	"fmt"
	"net"

	"github.com/paulmach/orb/maptile"
	"github.com/spf13/cobra"

	"modtile/internal/handler"
	"modtile/internal/metatile"
)

var locateCmd = &cobra.Command{
	Use:   "locate <layer> <x> <y> <z>",
	Short: "Print the meta-tile path, offset and URL of a tile",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		id, layer, err := tileArgs(cfg, args)
		if err != nil {
			return err
		}
		host := layer.HostName
		if host == "" {
			host = cfg.Server.Listen
			if h, port, err := net.SplitHostPort(host); err == nil && (h == "" || h == "0.0.0.0") {
				host = net.JoinHostPort("localhost", port)
			}
		}
		tmpl := handler.TileURLTemplate("http", host, layer)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "tile:   %s\n", id)
		fmt.Fprintf(out, "path:   %s\n", metatile.PathFor(cfg.Renderd.StoreURI, id))
		fmt.Fprintf(out, "offset: %d\n", metatile.Offset(id))
		fmt.Fprintf(out, "url:    %s\n", handler.GetTileURL(tmpl, maptile.New(uint32(id.X), uint32(id.Y), maptile.Zoom(id.Z))))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(locateCmd)
}
