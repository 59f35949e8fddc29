package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/banking-pipeline/internal/model"
)

var runFull bool

var runCmd = &cobra.Command{
	Use:   "run [raw|structured|curated|access|all]",
	Short: "Run one pipeline layer or all of them",
	Long:  "Runs a layer incrementally from its watermark, or with --full reprocesses every raw row. With no argument all layers run in order.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		target := "all"
		if len(args) == 1 {
			target = args[0]
		}
		layers, err := layersFor(target)
		if err != nil {
			return err
		}
		mode := model.ModeIncremental
		if runFull {
			mode = model.ModeFull
		}

		r, st, err := initRunner(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var runs []model.ProcessRun
		defer func() {
			if len(runs) > 0 {
				formatRunsList(os.Stdout, runs)
			}
		}()
		for _, layer := range layers {
			run, err := r.Run(ctx, layer, mode)
			if run != nil {
				runs = append(runs, *run)
			}
			if err != nil {
				return err
			}
		}
		return nil
	},
}

// layersFor resolves a run target to the layers it covers.
func layersFor(target string) ([]model.Layer, error) {
	if target == "all" {
		return model.Layers, nil
	}
	l, err := model.ParseLayer(target)
	if err != nil {
		return nil, err
	}
	return []model.Layer{l}, nil
}

func init() {
	runCmd.Flags().BoolVar(&runFull, "full", false, "full refresh instead of an incremental run")
	rootCmd.AddCommand(runCmd)
}
