package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"modtile/internal/metatile"
	"modtile/internal/task"
)

var extractDest string

var extractCmd = &cobra.Command{
	Use:   "extract <layer> <x> <y> <z>",
	Short: "Write the tiles of one meta-tile to {dest}/{z}/{x}/{y}.{ext}",
	Long: `Extract the 64 tiles of the meta-tile holding the given tile.

Examples:
  # Extract the meta-tile around tile 4213/2873/13 of layer default
  modtile extract default 4213 2873 13 --dest ./tiles`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		id, layer, err := tileArgs(cfg, args)
		if err != nil {
			return err
		}
		path := metatile.PathFor(cfg.Renderd.StoreURI, id)
		n, err := task.Extract(path, extractDest, layer.FileExtension)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d tiles from %s written to %s\n", n, path, extractDest)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().StringVarP(&extractDest, "dest", "d", "", "destination directory (required)")
	extractCmd.MarkFlagRequired("dest")
}
