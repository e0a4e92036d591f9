package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"modtile/internal/task"
	"modtile/internal/tile"
)

var (
	packSource string
	packGzip   bool
)

var packCmd = &cobra.Command{
	Use:   "pack <layer> <x> <y> <z>",
	Short: "Build the meta-tile holding a tile from {source}/{z}/{x}/{y}.{ext} files",
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
		enc := tile.EncodingIdentity
		if packGzip {
			enc = tile.EncodingGzip
		}
		path, n, err := task.Pack(packSource, layer.FileExtension, cfg.Renderd.StoreURI, id, enc)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d tiles packed into %s\n", n, path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(packCmd)
	packCmd.Flags().StringVarP(&packSource, "source", "s", "", "directory holding z/x/y tiles (required)")
	packCmd.Flags().BoolVar(&packGzip, "gzip", false, "store tiles gzip compressed (METZ)")
	packCmd.MarkFlagRequired("source")
}
