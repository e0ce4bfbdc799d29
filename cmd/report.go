package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/shadowscan/internal/coverage"
)

func printReport(cmd *cobra.Command, r *coverage.Report) {
	if r.RunID != "" {
		cmd.Printf("run:                %s\n", r.RunID)
	}
	cmd.Printf("total signatures:   %d\n", r.TotalSignatures)
	cmd.Printf("rule hit:           %d\n", r.RuleHit)
	cmd.Printf("unknown:            %d\n", r.UnknownCount)
	cmd.Printf("llm analyzed:       %d\n", r.LLMAnalyzedCount)
	cmd.Printf("needs review:       %d\n", r.NeedsReviewCount)
	cmd.Printf("failed permanent:   %d\n", r.FailedPermanentCount)
	cmd.Printf("cache hit rate:     %.4f\n", r.CacheHitRate)
	cmd.Printf("cost (USD):         %.4f\n", r.CostUSD)
	if r.Retry.Attempts > 0 {
		cmd.Printf("llm attempts:       %d (rate limited %d times, %d ms backoff)\n",
			r.Retry.Attempts, r.Retry.RateLimitEvents, r.Retry.BackoffMsTotal)
	}
}
