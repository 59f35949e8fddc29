package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/banking-pipeline/internal/model"
)

// RunStore is the run log persistence.
type RunStore interface {
	StartRun(ctx context.Context, layer model.Layer, mode model.RunMode) (*model.ProcessRun, error)
	FinishRun(ctx context.Context, run *model.ProcessRun) error
}

// RunLog records layer runs in the process_runs table.
type RunLog struct {
	store RunStore
	now   func() time.Time
}

// NewRunLog creates a RunLog backed by st.
func NewRunLog(st RunStore) *RunLog {
	return &RunLog{store: st, now: time.Now}
}

// Start records the beginning of a layer run.
func (l *RunLog) Start(ctx context.Context, layer model.Layer, mode model.RunMode) (*model.ProcessRun, error) {
	run, err := l.store.StartRun(ctx, layer, mode)
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: start %s", layer)
	}
	return run, nil
}

// Complete marks a run as successfully completed.
func (l *RunLog) Complete(ctx context.Context, run *model.ProcessRun, stats model.RunStats) error {
	run.RecordsProcessed = stats.Processed
	run.RecordsInserted = stats.Inserted
	run.RecordsUpdated = stats.Updated
	return l.finish(ctx, run, model.RunStatusComplete, stats.Metadata, "")
}

// Skip marks a run that found nothing to do.
func (l *RunLog) Skip(ctx context.Context, run *model.ProcessRun, reason string) error {
	return l.finish(ctx, run, model.RunStatusSkipped, map[string]any{"reason": reason}, "")
}

// Fail marks a run as failed with the error message.
func (l *RunLog) Fail(ctx context.Context, run *model.ProcessRun, cause error) error {
	return l.finish(ctx, run, model.RunStatusFailed, nil, cause.Error())
}

func (l *RunLog) finish(ctx context.Context, run *model.ProcessRun, status model.RunStatus, meta map[string]any, errMsg string) error {
	done := l.now().UTC()
	run.Status = status
	run.CompletedAt = &done
	run.DurationSeconds = done.Sub(run.StartedAt).Seconds()
	run.Error = errMsg
	run.Metadata = nil
	if meta != nil {
		data, err := json.Marshal(meta)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal metadata")
		}
		run.Metadata = data
	}
	if err := l.store.FinishRun(ctx, run); err != nil {
		return eris.Wrapf(err, "runlog: finish %s run %s", run.Layer, run.ID)
	}
	return nil
}
