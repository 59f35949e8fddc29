package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/banking-pipeline/internal/config"
	"github.com/sells-group/banking-pipeline/internal/pipeline"
	"github.com/sells-group/banking-pipeline/internal/store"
)

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	retry := c.Retry.Resilience()
	switch c.Store.Driver {
	case "sqlite":
		return store.NewSQLite(c.Store.SQLitePath, retry)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		}, retry)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// initRunner opens and migrates the store and builds a Runner over it.
// Callers close the returned store.
func initRunner(ctx context.Context, c *config.Config) (*pipeline.Runner, store.Store, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, eris.Wrap(err, "migrate store")
	}
	r, err := pipeline.New(c, st)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return r, st, nil
}
