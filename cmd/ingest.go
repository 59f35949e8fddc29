package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/banking-pipeline/internal/model"
)

var ingestDir string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Land new files into the raw layer",
	Long:  "Loads every accounts*/customers* CSV or XLSX file in the landing directory that has not been processed before.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if ingestDir != "" {
			cfg.Landing.Dir = ingestDir
		}
		r, st, err := initRunner(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := r.Run(ctx, model.LayerRaw, model.ModeIncremental)
		if run != nil {
			formatRunsList(os.Stdout, []model.ProcessRun{*run})
		}
		return err
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "landing directory (overrides landing.dir)")
	rootCmd.AddCommand(ingestCmd)
}
