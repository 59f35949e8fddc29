package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/banking-pipeline/internal/model"
	"github.com/sells-group/banking-pipeline/internal/quality"
	"github.com/sells-group/banking-pipeline/internal/report"
)

// access regenerates the reporting extract from the full fact table. The
// extract is checked before it replaces the published one.
func (r *Runner) access(ctx context.Context, _ model.RunMode) (model.RunStats, string, error) {
	facts, err := r.store.LoadFacts(ctx)
	if err != nil {
		return model.RunStats{}, "", err
	}

	rows := report.Extract(facts.Sorted())
	rep := quality.Access(rows)
	if err := rep.Err(); err != nil && quality.Fatal(rep.Layer) {
		return model.RunStats{}, "", err
	}
	if err := r.store.ReplaceSummary(ctx, rows); err != nil {
		return model.RunStats{}, "", err
	}

	meta := rep.Metadata()
	meta["summary"] = report.Summarize(rows)
	meta["fact_version"] = facts.Version
	return model.RunStats{
		Processed: int64(len(facts.Rows)),
		Inserted:  int64(len(rows)),
		Metadata:  meta,
	}, "", nil
}

// Export writes the published extract to path as CSV and returns its
// summary. Nothing is written when the extract is empty.
func (r *Runner) Export(ctx context.Context, path string) (model.SummaryStats, error) {
	log := zap.L().With(zap.String("component", "pipeline.export"))
	rows, err := r.store.Summary(ctx)
	if err != nil {
		return model.SummaryStats{}, err
	}
	stats := report.Summarize(rows)
	if len(rows) == 0 {
		log.Warn("pipeline: no data to export")
		return stats, nil
	}
	if err := report.ExportCSV(rows, path); err != nil {
		return stats, err
	}
	log.Info("pipeline: export complete",
		zap.String("path", path),
		zap.Int("rows", stats.Rows),
		zap.String("total_new_balance", stats.TotalNewBalance.StringFixed(2)),
		zap.String("avg_interest_rate", stats.AverageInterestRate.String()),
	)
	return stats, nil
}
