package cache

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/shadowscan/internal/config"
	"github.com/sells-group/shadowscan/internal/model"
)

// RecordFilter specifies criteria for listing classification records.
type RecordFilter struct {
	Status model.Status `json:"status,omitempty"`
	Source model.Source `json:"source,omitempty"`
	Limit  int          `json:"limit,omitempty"`
	Offset int          `json:"offset,omitempty"`
}

// Counts aggregates record counts by status and source for the coverage
// calculator.
type Counts struct {
	ActiveLLM       int `json:"active_llm"`
	ActiveRule      int `json:"active_rule"`
	NeedsReview     int `json:"needs_review"`
	FailedPermanent int `json:"failed_permanent"`
	Total           int `json:"total"`
}

// Store is the classification cache: exactly one record per url_signature,
// shared across runs, plus run bookkeeping. All mutations funnel through a
// single serialized writer; reads use independent handles.
type Store interface {
	// Records
	UpsertRecord(ctx context.Context, rec model.ClassificationRecord) error
	GetRecord(ctx context.Context, urlSignature string) (*model.ClassificationRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.ClassificationRecord, error)
	Counts(ctx context.Context) (Counts, error)
	// ActiveSignatures returns the subset of sigs that currently have an
	// active record. Everything else is "unknown" for the run.
	ActiveSignatures(ctx context.Context, sigs []string) (map[string]bool, error)

	// Runs
	CreateRun(ctx context.Context, runKey, inputManifestHash string) (*model.RunContext, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus) error
	GetRun(ctx context.Context, runID string) (*model.RunContext, error)
	ListRuns(ctx context.Context, limit int) ([]model.RunContext, error)
	SaveRunStats(ctx context.Context, stats model.RunStats) error
	GetRunStats(ctx context.Context, runID string) (*model.RunStats, error)

	// Lifecycle
	Flush(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// New selects a store backend from config.
func New(cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(context.Background(), cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("cache: unknown store driver %q", cfg.Driver)
	}
}
