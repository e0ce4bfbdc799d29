// Package coverage computes the read-side audit report. Everything here is
// pure aggregation over the cache, computed fresh at report time.
package coverage

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/shadowscan/internal/cache"
	"github.com/sells-group/shadowscan/internal/model"
)

// Report is the audit/coverage summary for one run against the shared cache.
type Report struct {
	RunID                string  `json:"run_id,omitempty"`
	TotalSignatures      int     `json:"total_signatures"`
	RuleHit              int     `json:"rule_hit"`
	UnknownCount         int     `json:"unknown_count"`
	LLMAnalyzedCount     int     `json:"llm_analyzed_count"`
	NeedsReviewCount     int     `json:"needs_review_count"`
	FailedPermanentCount int     `json:"failed_permanent_count"`
	CacheHitRate         float64 `json:"cache_hit_rate"`
	CostUSD              float64 `json:"cost_usd"`

	Retry model.RetrySummary `json:"retry"`
}

// Compute builds the report for a run. The cache_hit_rate numerator counts
// both RULE- and LLM-sourced active rows against the run's unknown_count;
// that formula is the audit contract and is preserved as-is.
func Compute(ctx context.Context, store cache.Store, runID string) (*Report, error) {
	counts, err := store.Counts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: counts")
	}

	report := &Report{
		RunID:                runID,
		LLMAnalyzedCount:     counts.ActiveLLM,
		NeedsReviewCount:     counts.NeedsReview,
		FailedPermanentCount: counts.FailedPermanent,
	}

	if runID != "" {
		stats, err := store.GetRunStats(ctx, runID)
		if err != nil {
			return nil, eris.Wrap(err, "coverage: run stats")
		}
		if stats != nil {
			report.TotalSignatures = stats.TotalSignatures
			report.RuleHit = stats.RuleHit
			report.UnknownCount = stats.UnknownCount
			report.CostUSD = stats.CostUSD
			report.Retry = stats.Retry
		}
	}

	report.CacheHitRate = hitRate(counts, report.UnknownCount)

	if err := CheckIntegrity(report); err != nil {
		return nil, err
	}
	return report, nil
}

// hitRate is exactly 0.0 when unknownCount is 0, never NaN.
func hitRate(counts cache.Counts, unknownCount int) float64 {
	if unknownCount == 0 {
		return 0.0
	}
	return float64(counts.ActiveLLM+counts.ActiveRule) / float64(unknownCount)
}

// CheckIntegrity enforces rule_hit + unknown_count == total_signatures.
func CheckIntegrity(r *Report) error {
	if r.RuleHit+r.UnknownCount != r.TotalSignatures {
		return eris.Errorf(
			"coverage: integrity violation: rule_hit %d + unknown_count %d != total_signatures %d",
			r.RuleHit, r.UnknownCount, r.TotalSignatures,
		)
	}
	return nil
}
