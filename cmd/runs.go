package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/banking-pipeline/internal/model"
	"github.com/sells-group/banking-pipeline/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List layer runs from the run log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := runFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

func runFilterFromFlags(cmd *cobra.Command) (store.RunFilter, error) {
	layer, _ := cmd.Flags().GetString("layer")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := store.RunFilter{Status: model.RunStatus(status), Limit: limit}
	if layer != "" {
		l, err := model.ParseLayer(layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = l
	}
	return filter, nil
}

func init() {
	runsCmd.Flags().String("layer", "", "filter by layer (raw, structured, curated, access)")
	runsCmd.Flags().String("status", "", "filter by run status (running, complete, skipped, failed)")
	runsCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Complete   int
	Skipped    int
	Failed     int
	Running    int
	ByLayer    map[model.Layer]int
	Processed  int64
	AvgDurSecs float64
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []model.ProcessRun) runStats {
	s := runStats{Total: len(runs), ByLayer: make(map[model.Layer]int)}

	var totalDur float64
	for _, r := range runs {
		s.ByLayer[r.Layer]++
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
			s.Processed += r.RecordsProcessed
			totalDur += r.DurationSeconds
		case model.RunStatusSkipped:
			s.Skipped++
		case model.RunStatusFailed:
			s.Failed++
		default:
			s.Running++
		}
	}

	if s.Complete > 0 {
		s.AvgDurSecs = totalDur / float64(s.Complete)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.ProcessRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tLAYER\tMODE\tSTATUS\tSTARTED\tPROCESSED\tINSERTED\tUPDATED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-----\t----\t------\t-------\t---------\t--------\t-------\t--------\t-----")

	for _, r := range runs {
		dur := (time.Duration(r.DurationSeconds * float64(time.Second))).Round(time.Millisecond).String()

		errMsg := r.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.Layer,
			r.Mode,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.RecordsProcessed,
			r.RecordsInserted,
			r.RecordsUpdated,
			dur,
			errMsg,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Skipped:\t%d\n", s.Skipped)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.Running)
	for _, l := range model.Layers {
		if n := s.ByLayer[l]; n > 0 {
			_, _ = fmt.Fprintf(w, "  %s:\t%d\n", l, n)
		}
	}
	_, _ = fmt.Fprintf(w, "Records processed:\t%d\n", s.Processed)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
