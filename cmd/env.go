package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/shadowscan/internal/cache"
	"github.com/sells-group/shadowscan/internal/pipeline"
	"github.com/sells-group/shadowscan/pkg/llm"
)

// scanEnv holds the initialized store and pipeline shared by the scan and
// serve commands.
type scanEnv struct {
	Store    cache.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *scanEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the classification cache. Callers close it.
func initStore(ctx context.Context) (cache.Store, error) {
	st, err := cache.New(cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open cache store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate cache store")
	}
	return st, nil
}

// initEnv builds the full scan environment: store, LLM provider, pipeline.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*scanEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	provider, err := llm.NewAnthropic(cfg.LLM.Providers[cfg.LLM.Provider])
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init llm provider")
	}

	p, err := pipeline.New(*cfg, st, provider)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "build pipeline")
	}

	return &scanEnv{Store: st, Pipeline: p}, nil
}
