package model

import "time"

// RunStatus represents the current state of a scan run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
	RunStatusAborted  RunStatus = "aborted"
)

// RunContext describes a single pipeline execution. The classification cache
// is shared across runs; access stats and retry summaries are run-scoped.
type RunContext struct {
	RunID             string     `json:"run_id"`
	RunKey            string     `json:"run_key"`
	InputManifestHash string     `json:"input_manifest_hash"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	Status            RunStatus  `json:"status"`
}

// RetrySummary aggregates LLM call bookkeeping, per batch call and rolled up
// per run.
type RetrySummary struct {
	Attempts        int    `json:"attempts"`
	BackoffMsTotal  int64  `json:"backoff_ms_total"`
	LastErrorCode   string `json:"last_error_code,omitempty"`
	RateLimitEvents int    `json:"rate_limit_events"`
}

// Merge folds another summary into s. LastErrorCode keeps the most recent
// non-empty value.
func (s *RetrySummary) Merge(other RetrySummary) {
	s.Attempts += other.Attempts
	s.BackoffMsTotal += other.BackoffMsTotal
	s.RateLimitEvents += other.RateLimitEvents
	if other.LastErrorCode != "" {
		s.LastErrorCode = other.LastErrorCode
	}
}

// RunStats are the per-run cache access counters the coverage report is
// built from.
type RunStats struct {
	RunID           string       `json:"run_id"`
	TotalSignatures int          `json:"total_signatures"`
	RuleHit         int          `json:"rule_hit"`
	UnknownCount    int          `json:"unknown_count"`
	CostUSD         float64      `json:"cost_usd"`
	Retry           RetrySummary `json:"retry"`
}
