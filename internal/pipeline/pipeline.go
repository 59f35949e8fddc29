// Package pipeline runs the layers raw → structured → curated → access and
// records every run in the run log.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/banking-pipeline/internal/config"
	"github.com/sells-group/banking-pipeline/internal/curated"
	"github.com/sells-group/banking-pipeline/internal/ingest"
	"github.com/sells-group/banking-pipeline/internal/interest"
	"github.com/sells-group/banking-pipeline/internal/model"
	"github.com/sells-group/banking-pipeline/internal/store"
)

// Runner executes pipeline layers against a store. A layer run holds its own
// lock and the lock of the layer it reads from, so it never reads a
// half-written upstream layer. Layers that share no lock run concurrently.
type Runner struct {
	cfg       *config.Config
	store     store.Store
	ingester  *ingest.Ingester
	assembler *curated.Assembler
	runs      *RunLog
	now       func() time.Time
	locks     map[model.Layer]*sync.Mutex
}

// New creates a Runner. It fails when the interest policy is invalid.
func New(cfg *config.Config, st store.Store) (*Runner, error) {
	tiers, err := cfg.Interest.Tiers()
	if err != nil {
		return nil, err
	}
	calc, err := interest.New(tiers)
	if err != nil {
		return nil, err
	}

	locks := make(map[model.Layer]*sync.Mutex, len(model.Layers))
	for _, l := range model.Layers {
		locks[l] = &sync.Mutex{}
	}
	return &Runner{
		cfg:       cfg,
		store:     st,
		ingester:  ingest.New(st, cfg.Landing.Dir),
		assembler: curated.NewAssembler(calc),
		runs:      NewRunLog(st),
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		locks:     locks,
	}, nil
}

// layerFunc does the work of one layer. A non-empty skip reason records the
// run as skipped.
type layerFunc func(ctx context.Context, mode model.RunMode) (stats model.RunStats, skip string, err error)

// Run executes one layer and returns its run log entry.
func (r *Runner) Run(ctx context.Context, layer model.Layer, mode model.RunMode) (*model.ProcessRun, error) {
	var fn layerFunc
	switch layer {
	case model.LayerRaw:
		fn = r.raw
	case model.LayerStructured:
		fn = r.structured
	case model.LayerCurated:
		fn = r.curated
	case model.LayerAccess:
		fn = r.access
	default:
		return nil, eris.Errorf("pipeline: unknown layer %q", layer)
	}
	return r.execute(ctx, layer, mode, fn)
}

// RunAll executes every layer in order and stops at the first failure.
func (r *Runner) RunAll(ctx context.Context, mode model.RunMode) ([]*model.ProcessRun, error) {
	var runs []*model.ProcessRun
	for _, layer := range model.Layers {
		run, err := r.Run(ctx, layer, mode)
		if run != nil {
			runs = append(runs, run)
		}
		if err != nil {
			return runs, err
		}
	}
	return runs, nil
}

func (r *Runner) execute(ctx context.Context, layer model.Layer, mode model.RunMode, fn layerFunc) (*model.ProcessRun, error) {
	for _, mu := range r.lockSet(layer) {
		mu.Lock()
		defer mu.Unlock()
	}

	log := zap.L().With(zap.String("component", "pipeline."+string(layer)), zap.String("mode", mode.String()))
	run, err := r.runs.Start(ctx, layer, mode)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("run_id", run.ID))
	log.Info("pipeline: layer starting")

	stats, skip, fnErr := fn(ctx, mode)
	switch {
	case fnErr != nil:
		log.Error("pipeline: layer failed", zap.Error(fnErr))
		if logErr := r.runs.Fail(ctx, run, fnErr); logErr != nil {
			log.Warn("pipeline: failed to record failure", zap.Error(logErr))
		}
		return run, eris.Wrapf(fnErr, "pipeline: %s", layer)
	case skip != "":
		log.Warn("pipeline: layer skipped", zap.String("reason", skip))
		if err := r.runs.Skip(ctx, run, skip); err != nil {
			return run, err
		}
	default:
		if err := r.runs.Complete(ctx, run, stats); err != nil {
			return run, err
		}
		log.Info("pipeline: layer complete",
			zap.Int64("processed", stats.Processed),
			zap.Int64("inserted", stats.Inserted),
			zap.Int64("updated", stats.Updated),
			zap.Float64("duration_seconds", run.DurationSeconds),
		)
	}
	return run, nil
}

// lockSet returns the upstream layer's lock followed by layer's own. Locks are
// always taken in layer order.
func (r *Runner) lockSet(layer model.Layer) []*sync.Mutex {
	for i, l := range model.Layers {
		if l != layer {
			continue
		}
		if i == 0 {
			return []*sync.Mutex{r.locks[l]}
		}
		return []*sync.Mutex{r.locks[model.Layers[i-1]], r.locks[l]}
	}
	return nil
}

// raw lands new files from the landing directory.
func (r *Runner) raw(ctx context.Context, _ model.RunMode) (model.RunStats, string, error) {
	res, err := r.ingester.Run(ctx)
	if err != nil {
		return model.RunStats{}, "", err
	}
	if res.Loaded() == 0 {
		return model.RunStats{}, "no new landing files", nil
	}
	rows := int64(res.Accounts + res.Customers)
	return model.RunStats{
		Processed: rows,
		Inserted:  rows,
		Metadata: map[string]any{
			"files":          res.Files,
			"files_loaded":   res.Loaded(),
			"accounts_rows":  res.Accounts,
			"customers_rows": res.Customers,
		},
	}, "", nil
}
