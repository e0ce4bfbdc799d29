// Package pipeline wires one scan run end to end: ingest events, normalize
// and fingerprint them, split known from unknown against the cache, classify
// the unknowns (rules first, then the LLM), and persist run stats.
package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/shadowscan/internal/budget"
	"github.com/sells-group/shadowscan/internal/cache"
	"github.com/sells-group/shadowscan/internal/classify"
	"github.com/sells-group/shadowscan/internal/config"
	"github.com/sells-group/shadowscan/internal/cost"
	"github.com/sells-group/shadowscan/internal/coverage"
	"github.com/sells-group/shadowscan/internal/model"
	"github.com/sells-group/shadowscan/internal/normalize"
	"github.com/sells-group/shadowscan/internal/rules"
	"github.com/sells-group/shadowscan/internal/signature"
	"github.com/sells-group/shadowscan/internal/taxonomy"
	"github.com/sells-group/shadowscan/pkg/llm"
)

// Pipeline holds the per-run collaborators. Build once, run many times; the
// cache is shared across runs so overlapping traffic never re-pays
// classification cost.
type Pipeline struct {
	cfg        config.Config
	store      cache.Store
	normalizer *normalize.Normalizer
	builder    *signature.Builder
	ruleset    *rules.Classifier
	classifier *classify.Classifier
}

// New assembles a pipeline from config. The LLM provider is injected so the
// classifier can be exercised against a fake in tests.
func New(cfg config.Config, store cache.Store, provider llm.Provider) (*Pipeline, error) {
	normalizer, err := normalize.New(cfg.Normalize)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build normalizer")
	}

	source, err := taxonomy.NewSource(cfg.Taxonomy)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load taxonomy")
	}

	ruleset, err := rules.New(cfg.Rules, source, cfg.Taxonomy.StandardVersion)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load host rules")
	}

	classifier, err := classify.New(
		provider,
		cfg.LLM,
		budget.New(cfg.Budget),
		cost.NewCalculator(cfg.LLM.Providers),
		source,
		cfg.Taxonomy.StandardVersion,
	)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build classifier")
	}

	return &Pipeline{
		cfg:        cfg,
		store:      store,
		normalizer: normalizer,
		builder:    signature.NewBuilder(cfg.Signature),
		ruleset:    ruleset,
		classifier: classifier,
	}, nil
}

// Classifier exposes the LLM classifier for test seams.
func (p *Pipeline) Classifier() *classify.Classifier { return p.classifier }

// Run executes one scan over the ingestor's events and returns the coverage
// report for the run. The unknown pool is fixed before the rule pass runs;
// rule_hit is the complement of unknown_count against total_signatures, which
// keeps the audit identity rule_hit + unknown_count == total_signatures.
func (p *Pipeline) Run(ctx context.Context, runKey string, ingestor Ingestor) (*coverage.Report, error) {
	run, err := p.store.CreateRun(ctx, runKey, ingestor.ManifestHash())
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log := zap.L().With(zap.String("run_id", run.RunID), zap.String("run_key", runKey))
	log.Info("run started", zap.String("input_manifest_hash", run.InputManifestHash))

	report, err := p.execute(ctx, log, run, ingestor)
	if err != nil {
		status := model.RunStatusFailed
		if ctx.Err() != nil {
			status = model.RunStatusAborted
		}
		if ferr := p.store.FinishRun(context.WithoutCancel(ctx), run.RunID, status); ferr != nil {
			log.Error("finish run", zap.Error(ferr))
		}
		return nil, err
	}

	if err := p.store.FinishRun(ctx, run.RunID, model.RunStatusComplete); err != nil {
		return nil, eris.Wrap(err, "pipeline: finish run")
	}
	log.Info("run complete",
		zap.Int("total_signatures", report.TotalSignatures),
		zap.Int("rule_hit", report.RuleHit),
		zap.Int("unknown_count", report.UnknownCount),
		zap.Float64("cache_hit_rate", report.CacheHitRate),
		zap.Float64("cost_usd", report.CostUSD),
	)
	return report, nil
}

func (p *Pipeline) execute(ctx context.Context, log *zap.Logger, run *model.RunContext, ingestor Ingestor) (*coverage.Report, error) {
	sigs, err := p.fingerprint(ctx, log, ingestor)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(sigs))
	for _, sig := range sigs {
		keys = append(keys, sig.URLSignature)
	}

	active, err := p.store.ActiveSignatures(ctx, keys)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: cache membership")
	}

	var unknown []model.Signature
	for _, sig := range sigs {
		if !active[sig.URLSignature] {
			unknown = append(unknown, sig)
		}
	}

	stats := model.RunStats{
		RunID:           run.RunID,
		TotalSignatures: len(sigs),
		RuleHit:         len(sigs) - len(unknown),
		UnknownCount:    len(unknown),
	}
	log.Info("cache lookup done",
		zap.Int("total_signatures", stats.TotalSignatures),
		zap.Int("unknown_count", stats.UnknownCount),
	)

	llmPool := make([]model.Signature, 0, len(unknown))
	for _, sig := range unknown {
		rec, ok := p.ruleset.Classify(sig)
		if !ok {
			llmPool = append(llmPool, sig)
			continue
		}
		if err := p.store.UpsertRecord(ctx, *rec); err != nil {
			return nil, eris.Wrap(err, "pipeline: upsert rule record")
		}
	}
	log.Info("rule pass done",
		zap.Int("rule_classified", len(unknown)-len(llmPool)),
		zap.Int("llm_pool", len(llmPool)),
	)

	if len(llmPool) > 0 {
		result, err := p.classifier.AnalyzeBatch(ctx, llmPool, p.cfg.LLM.MaxBatchSize)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: classify unknowns")
		}
		stats.CostUSD = result.CostUSD
		stats.Retry = result.Retry

		for _, rec := range result.Classifications {
			if err := p.upsertClassified(ctx, log, rec); err != nil {
				return nil, err
			}
		}
	}

	if err := p.store.SaveRunStats(ctx, stats); err != nil {
		return nil, eris.Wrap(err, "pipeline: save run stats")
	}
	if err := p.store.Flush(ctx); err != nil {
		return nil, eris.Wrap(err, "pipeline: flush cache")
	}

	report, err := coverage.Compute(ctx, p.store, run.RunID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: coverage report")
	}
	return report, nil
}

// fingerprint drains the ingestor into a deduplicated signature set, keeping
// first-seen order for deterministic batching.
func (p *Pipeline) fingerprint(ctx context.Context, log *zap.Logger, ingestor Ingestor) ([]model.Signature, error) {
	var (
		sigs    []model.Signature
		seen    = make(map[string]bool)
		events  int
		piiHits int
	)

	err := ingestor.Events(ctx, func(ev Event) error {
		events++
		norm := p.normalizer.Normalize(ev.URLFull, func(hit model.PIIHit) {
			piiHits++
			log.Debug("pii redacted",
				zap.String("location", hit.Location),
				zap.String("type", string(hit.Type)),
			)
		})
		sig := p.builder.Build(norm.Host, norm.Path, norm.Query, ev.HTTPMethod, ev.BytesSent)
		if seen[sig.URLSignature] {
			return nil
		}
		seen[sig.URLSignature] = true
		sigs = append(sigs, sig)
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: ingest events")
	}

	log.Info("ingest done",
		zap.Int("events", events),
		zap.Int("unique_signatures", len(sigs)),
		zap.Int("pii_hits", piiHits),
	)
	return sigs, nil
}

// upsertClassified guards the cache state machine before writing.
func (p *Pipeline) upsertClassified(ctx context.Context, log *zap.Logger, rec model.ClassificationRecord) error {
	existing, err := p.store.GetRecord(ctx, rec.URLSignature)
	if err != nil {
		return eris.Wrap(err, "pipeline: read existing record")
	}
	var from model.Status
	if existing != nil {
		from = existing.Status
	}
	if !model.CanTransition(from, rec.Status) {
		log.Warn("rejecting invalid status transition",
			zap.String("url_signature", rec.URLSignature),
			zap.String("from", string(from)),
			zap.String("to", string(rec.Status)),
		)
		return nil
	}
	if err := p.store.UpsertRecord(ctx, rec); err != nil {
		return eris.Wrap(err, "pipeline: upsert classification")
	}
	return nil
}
