// Package classify turns unknown fingerprints into classification records
// via batched LLM calls. It owns the retry/backoff, batch-halving, budget
// and fallback policy; the provider boundary stays one-call-in-one-response.
package classify

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/shadowscan/internal/budget"
	"github.com/sells-group/shadowscan/internal/config"
	"github.com/sells-group/shadowscan/internal/cost"
	"github.com/sells-group/shadowscan/internal/model"
	"github.com/sells-group/shadowscan/internal/resilience"
	"github.com/sells-group/shadowscan/internal/taxonomy"
	"github.com/sells-group/shadowscan/pkg/llm"
)

const defaultMaxBatchSize = 20

// Result is the outcome of one AnalyzeBatch call. Classifications holds one
// record per input signature, whatever its final status.
type Result struct {
	Classifications []model.ClassificationRecord
	Retry           model.RetrySummary
	CostUSD         float64
}

// Classifier batches unknown signatures into LLM calls.
type Classifier struct {
	provider        llm.Provider
	providerName    string
	modelName       string
	maxTokens       int64
	maxBatchSize    int
	maxRetries      int
	concurrency     int
	budget          *budget.Controller
	calc            *cost.Calculator
	source          taxonomy.Source
	resolver        *taxonomy.Resolver
	backoff         resilience.BackoffConfig
	sleeper         resilience.Sleeper
	schema          json.RawMessage
	standardVersion string
}

// New builds a Classifier. The response schema is sanitized once here.
func New(provider llm.Provider, cfg config.LLMConfig, budgetCtl *budget.Controller, calc *cost.Calculator, source taxonomy.Source, standardVersion string) (*Classifier, error) {
	pcfg := cfg.Providers[cfg.Provider]

	schema, err := SanitizeSchema(json.RawMessage(responseSchema), cfg.SchemaKeepTitle, cfg.SchemaKeepDescription)
	if err != nil {
		return nil, eris.Wrap(err, "classify: sanitize response schema")
	}

	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatchSize
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	maxTokens := int64(pcfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	return &Classifier{
		provider:        provider,
		providerName:    cfg.Provider,
		modelName:       pcfg.Model,
		maxTokens:       maxTokens,
		maxBatchSize:    maxBatch,
		maxRetries:      maxRetries,
		concurrency:     concurrency,
		budget:          budgetCtl,
		calc:            calc,
		source:          source,
		resolver:        taxonomy.NewResolver(source),
		backoff:         resilience.DefaultBackoffConfig(),
		sleeper:         resilience.RealSleeper{},
		schema:          schema,
		standardVersion: standardVersion,
	}, nil
}

// WithBackoff overrides the backoff schedule (tests use a zero schedule).
func (c *Classifier) WithBackoff(cfg resilience.BackoffConfig, sleeper resilience.Sleeper) *Classifier {
	c.backoff = cfg
	if sleeper != nil {
		c.sleeper = sleeper
	}
	return c
}

// AnalyzeBatch classifies the unknown signatures. Batches run concurrently
// up to the provider concurrency cap; each batch is sequential inside, and a
// backoff sleep blocks only its own batch. Every input signature comes back
// with exactly one record: active on success, needs_review on transient
// exhaustion or budget refusal, failed_permanent on fatal failure.
func (c *Classifier) AnalyzeBatch(ctx context.Context, sigs []model.Signature, initialBatchSize int) (*Result, error) {
	result := &Result{}
	if len(sigs) == 0 {
		return result, nil
	}

	batchSize := initialBatchSize
	if batchSize <= 0 || batchSize > c.maxBatchSize {
		batchSize = c.maxBatchSize
	}

	var batches [][]model.Signature
	for start := 0; start < len(sigs); start += batchSize {
		end := min(start+batchSize, len(sigs))
		batches = append(batches, sigs[start:end])
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	var mu sync.Mutex
	for _, batch := range batches {
		// Abort takes effect between batches: a batch already dispatched
		// runs to completion.
		if ctx.Err() != nil {
			mu.Lock()
			result.Classifications = append(result.Classifications,
				c.fallbackRecords(batch, model.StatusNeedsReview, "run aborted before dispatch")...)
			mu.Unlock()
			continue
		}

		batch := batch // per-iteration copy; go directive predates Go 1.22 loopvar semantics
		g.Go(func() error {
			recs, summary, costUSD := c.processBatch(gctx, batch)
			mu.Lock()
			result.Classifications = append(result.Classifications, recs...)
			result.Retry.Merge(summary)
			result.CostUSD += costUSD
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "classify: batch group")
	}
	return result, nil
}

// workItem is one pending sub-batch. Rate-limit retries halve the signature
// slice; validation retries keep it intact and carry the corrective error.
type workItem struct {
	sigs               []model.Signature
	transientAttempts  int
	validationAttempts int
	validationErr      error
}

// processBatch drains one batch, splitting into sub-batches under rate
// limiting. It never fails: every signature ends up in some record.
func (c *Classifier) processBatch(ctx context.Context, batch []model.Signature) ([]model.ClassificationRecord, model.RetrySummary, float64) {
	var (
		records []model.ClassificationRecord
		summary model.RetrySummary
		costUSD float64
	)

	queue := []workItem{{sigs: batch}}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if ctx.Err() != nil {
			records = append(records,
				c.fallbackRecords(item.sigs, model.StatusNeedsReview, "run aborted")...)
			continue
		}

		// Budget gate: check-then-debit atomically, refuse rather than
		// exceed the daily limit.
		reserved, ok := c.budget.Reserve(len(item.sigs))
		if !ok {
			records = append(records,
				c.fallbackRecords(item.sigs, model.StatusNeedsReview, "daily budget exhausted")...)
			continue
		}

		prompt := buildPrompt(item.sigs, c.source)
		if item.validationErr != nil {
			prompt = correctivePrompt(prompt, item.validationErr)
		}

		summary.Attempts++
		// The dispatched call runs to completion even if the run is
		// aborted; the provider enforces its own per-call timeout.
		resp, err := c.provider.Complete(context.WithoutCancel(ctx), llm.Request{
			Model:     c.modelName,
			MaxTokens: c.maxTokens,
			System:    systemPrompt,
			Prompt:    prompt,
			Schema:    c.schema,
		})

		if err != nil {
			c.budget.Release(reserved)
			queue = c.handleCallError(ctx, err, item, queue, &records, &summary)
			continue
		}

		callCost := c.calc.Call(c.providerName, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		c.budget.Settle(reserved, callCost)
		costUSD += callCost
		resp.Usage.LogCost(c.modelName, "classify", callCost)

		recs, perr := parseResponse(resp.Text, item.sigs, c.source, c.standardVersion)
		if perr != nil {
			queue = c.handleValidationError(ctx, perr, item, queue, &records, &summary)
			continue
		}
		records = append(records, recs...)
	}

	return records, summary, costUSD
}

// handleCallError routes a provider error: transient failures back off and
// halve the batch, fatal ones settle as failed_permanent immediately.
func (c *Classifier) handleCallError(ctx context.Context, err error, item workItem, queue []workItem, records *[]model.ClassificationRecord, summary *model.RetrySummary) []workItem {
	if !resilience.IsTransient(err) {
		zap.L().Error("classify: fatal provider failure",
			zap.Int("signatures", len(item.sigs)),
			zap.Error(err),
		)
		summary.LastErrorCode = "fatal"
		*records = append(*records,
			c.fallbackRecords(item.sigs, model.StatusFailedPermanent, "provider failure: "+err.Error())...)
		return queue
	}

	status := resilience.StatusCode(err)
	if status == 429 {
		summary.RateLimitEvents++
	}
	if status > 0 {
		summary.LastErrorCode = strconv.Itoa(status)
	} else {
		summary.LastErrorCode = "transient"
	}

	if item.transientAttempts >= c.maxRetries {
		zap.L().Warn("classify: transient retries exhausted",
			zap.Int("signatures", len(item.sigs)),
			zap.Error(err),
		)
		*records = append(*records,
			c.fallbackRecords(item.sigs, model.StatusNeedsReview, "transient retries exhausted: "+err.Error())...)
		return queue
	}

	delay := c.backoff.Delay(item.transientAttempts)
	summary.BackoffMsTotal += delay.Milliseconds()
	if serr := c.sleeper.Sleep(ctx, delay); serr != nil {
		*records = append(*records,
			c.fallbackRecords(item.sigs, model.StatusNeedsReview, "run aborted during backoff")...)
		return queue
	}

	zap.L().Warn("classify: transient failure, retrying",
		zap.Int("attempt", item.transientAttempts+1),
		zap.Int("status", status),
		zap.Int("signatures", len(item.sigs)),
	)

	// Halve the batch (floor 1) before the next attempt.
	next := item.transientAttempts + 1
	if len(item.sigs) > 1 {
		mid := len(item.sigs) / 2
		return append(queue,
			workItem{sigs: item.sigs[:mid], transientAttempts: next},
			workItem{sigs: item.sigs[mid:], transientAttempts: next},
		)
	}
	return append(queue, workItem{sigs: item.sigs, transientAttempts: next})
}

// handleValidationError requeues with a corrective prompt until maxRetries,
// then fails the batch permanently. Distinct from rate-limit exhaustion.
func (c *Classifier) handleValidationError(ctx context.Context, perr error, item workItem, queue []workItem, records *[]model.ClassificationRecord, summary *model.RetrySummary) []workItem {
	summary.LastErrorCode = "validation"

	if item.validationAttempts >= c.maxRetries {
		zap.L().Error("classify: schema validation retries exhausted",
			zap.Int("signatures", len(item.sigs)),
			zap.Error(perr),
		)
		*records = append(*records,
			c.fallbackRecords(item.sigs, model.StatusFailedPermanent, "schema validation failed: "+perr.Error())...)
		return queue
	}

	delay := c.backoff.Delay(item.validationAttempts)
	summary.BackoffMsTotal += delay.Milliseconds()
	if serr := c.sleeper.Sleep(ctx, delay); serr != nil {
		*records = append(*records,
			c.fallbackRecords(item.sigs, model.StatusNeedsReview, "run aborted during backoff")...)
		return queue
	}

	zap.L().Warn("classify: response rejected, sending corrective prompt",
		zap.Int("attempt", item.validationAttempts+1),
		zap.Error(perr),
	)

	item.validationAttempts++
	item.validationErr = perr
	return append(queue, item)
}

// fallbackRecords builds one placeholder record per signature using the
// memoized per-dimension fallback codes.
func (c *Classifier) fallbackRecords(sigs []model.Signature, status model.Status, rationale string) []model.ClassificationRecord {
	now := time.Now().UTC()
	records := make([]model.ClassificationRecord, 0, len(sigs))

	codes := make(model.TaxonomySet)
	for _, dim := range model.AllDimensions() {
		if c.source != nil && c.source.Cardinality(dim) == model.ZeroOrMore {
			continue
		}
		codes[dim] = []string{c.resolver.Fallback(dim)}
	}

	for _, sig := range sigs {
		records = append(records, model.ClassificationRecord{
			URLSignature:    sig.URLSignature,
			ServiceName:     "unknown",
			UsageType:       "unknown",
			RiskLevel:       "unknown",
			Category:        "unknown",
			Confidence:      0,
			Rationale:       rationale,
			Source:          model.SourceLLM,
			Status:          status,
			Codes:           codes,
			StandardVersion: c.standardVersion,
			UpdatedAt:       now,
		})
	}
	return records
}
