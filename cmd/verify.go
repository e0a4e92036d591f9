package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"modtile/internal/safeexit"
	"modtile/internal/task"
	"modtile/internal/tile"
)

var verifyWorkers int

var verifyCmd = &cobra.Command{
	Use:   "verify [layer]",
	Short: "Decode every meta-tile in the store and report broken ones",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		root := cfg.Renderd.StoreURI
		dir := root
		if len(args) == 1 {
			if _, ok := cfg.Layer(tile.LayerName(args[0])); !ok {
				return fmt.Errorf("layer %q is not configured", args[0])
			}
			dir = filepath.Join(root, args[0])
		}

		t := task.NewTask("verify", verifyWorkers, cmd.ErrOrStderr(), log)
		exit := safeexit.New(log)
		exit.Register(t.AbortFun)
		exit.Listen()

		report, err := t.Verify(root, dir)
		if err != nil {
			return err
		}
		for _, f := range report.Failures {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", f.Path, f.Err)
		}
		log.Infof("checked %d meta-tiles, %d broken", report.Checked, len(report.Failures))
		if report.Aborted {
			return fmt.Errorf("verify aborted after %d meta-tiles", report.Checked)
		}
		if len(report.Failures) > 0 {
			return fmt.Errorf("%d broken meta-tiles", len(report.Failures))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().IntVarP(&verifyWorkers, "workers", "w", 4, "number of concurrent readers")
}
