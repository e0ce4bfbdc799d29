// Package monitoring watches scan health: run outcomes within a lookback
// window, the unresolved-classification backlog, and LLM spend. Alerts go out
// over a plain JSON webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/shadowscan/internal/cache"
	"github.com/sells-group/shadowscan/internal/model"
)

// runScanLimit bounds how many recent runs the collector inspects per
// snapshot. Runs older than the lookback window are skipped anyway.
const runScanLimit = 500

// MetricsSnapshot holds a point-in-time view of scan health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsAborted  int     `json:"runs_aborted"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`
	CostUSD      float64 `json:"cost_usd"`

	// Cache backlog (whole cache, not windowed).
	ActiveCount          int `json:"active_count"`
	NeedsReviewCount     int `json:"needs_review_count"`
	FailedPermanentCount int `json:"failed_permanent_count"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the classification cache.
type Collector struct {
	store cache.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st cache.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of scan health over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}
	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, runScanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	for _, run := range runs {
		if run.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch run.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusAborted:
			snap.RunsAborted++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}

		stats, err := c.store.GetRunStats(ctx, run.RunID)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: stats for run %s", run.RunID)
		}
		if stats != nil {
			snap.CostUSD += stats.CostUSD
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed + snap.RunsAborted; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}

	counts, err := c.store.Counts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: record counts")
	}
	snap.ActiveCount = counts.ActiveLLM + counts.ActiveRule
	snap.NeedsReviewCount = counts.NeedsReview
	snap.FailedPermanentCount = counts.FailedPermanent

	return snap, nil
}
