package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/shadowscan/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testRecord(sig string, status model.Status, source model.Source) model.ClassificationRecord {
	return model.ClassificationRecord{
		URLSignature: sig,
		ServiceName:  "Example SaaS",
		UsageType:    "saas",
		RiskLevel:    "moderate",
		Category:     "Collaboration",
		Confidence:   0.9,
		Rationale:    "test",
		Source:       source,
		Status:       status,
		Codes: model.TaxonomySet{
			model.DimFunctionalScope: {"FS-004"},
			model.DimImpact:          {"IM-002"},
			model.DimUseCase:         {"UC-005"},
			model.DimDataType:        {"DT-002"},
			model.DimChannel:         {"CH-001"},
			model.DimRisk:            {"RS-002"},
			model.DimEvidence:        {"EV-001"},
		},
		StandardVersion: "2026-01",
		UpdatedAt:       time.Now().UTC().Truncate(time.Second),
	}
}

func TestUpsertRecord_Idempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("sig-1", model.StatusActive, model.SourceLLM)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.UpsertRecord(ctx, rec))
	}

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total, "n upserts leave exactly one row")

	got, err := st.GetRecord(ctx, "sig-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ServiceName, got.ServiceName)
	assert.Equal(t, rec.Codes, got.Codes)
}

func TestUpsertRecord_LastWriteWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first := testRecord("sig-1", model.StatusNeedsReview, model.SourceLLM)
	require.NoError(t, st.UpsertRecord(ctx, first))

	second := testRecord("sig-1", model.StatusActive, model.SourceLLM)
	second.ServiceName = "Identified Service"
	require.NoError(t, st.UpsertRecord(ctx, second))

	got, err := st.GetRecord(ctx, "sig-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.StatusActive, got.Status)
	assert.Equal(t, "Identified Service", got.ServiceName)
}

func TestGetRecord_Missing(t *testing.T) {
	st := newTestStore(t)

	got, err := st.GetRecord(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCounts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertRecord(ctx, testRecord("a", model.StatusActive, model.SourceLLM)))
	require.NoError(t, st.UpsertRecord(ctx, testRecord("b", model.StatusActive, model.SourceRule)))
	require.NoError(t, st.UpsertRecord(ctx, testRecord("c", model.StatusNeedsReview, model.SourceLLM)))
	require.NoError(t, st.UpsertRecord(ctx, testRecord("d", model.StatusFailedPermanent, model.SourceLLM)))

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{
		ActiveLLM:       1,
		ActiveRule:      1,
		NeedsReview:     1,
		FailedPermanent: 1,
		Total:           4,
	}, counts)
}

func TestActiveSignatures(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertRecord(ctx, testRecord("active-1", model.StatusActive, model.SourceLLM)))
	require.NoError(t, st.UpsertRecord(ctx, testRecord("review-1", model.StatusNeedsReview, model.SourceLLM)))
	require.NoError(t, st.UpsertRecord(ctx, testRecord("failed-1", model.StatusFailedPermanent, model.SourceLLM)))

	active, err := st.ActiveSignatures(ctx, []string{"active-1", "review-1", "failed-1", "brand-new"})
	require.NoError(t, err)

	// Only active counts; needs_review and failed_permanent stay unknown.
	assert.True(t, active["active-1"])
	assert.False(t, active["review-1"])
	assert.False(t, active["failed-1"])
	assert.False(t, active["brand-new"])
}

func TestActiveSignatures_ChunksLargeInputs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sigs := make([]string, 1200)
	for i := range sigs {
		sigs[i] = fmt.Sprintf("sig-%04d", i)
		if i%3 == 0 {
			require.NoError(t, st.UpsertRecord(ctx, testRecord(sigs[i], model.StatusActive, model.SourceRule)))
		}
	}

	active, err := st.ActiveSignatures(ctx, sigs)
	require.NoError(t, err)
	assert.Len(t, active, 400)
}

func TestListRecords_Filters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertRecord(ctx, testRecord("a", model.StatusActive, model.SourceLLM)))
	require.NoError(t, st.UpsertRecord(ctx, testRecord("b", model.StatusActive, model.SourceRule)))
	require.NoError(t, st.UpsertRecord(ctx, testRecord("c", model.StatusNeedsReview, model.SourceLLM)))

	recs, err := st.ListRecords(ctx, RecordFilter{Status: model.StatusActive})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = st.ListRecords(ctx, RecordFilter{Status: model.StatusActive, Source: model.SourceRule})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].URLSignature)

	recs, err = st.ListRecords(ctx, RecordFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRunLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "nightly", "abc123")
	require.NoError(t, err)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	got, err := st.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "nightly", got.RunKey)
	assert.Equal(t, "abc123", got.InputManifestHash)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, st.FinishRun(ctx, run.RunID, model.RunStatusComplete))

	got, err = st.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.NotNil(t, got.FinishedAt)

	missing, err := st.GetRun(ctx, "no-such-run")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Error(t, st.FinishRun(ctx, "no-such-run", model.RunStatusComplete))
}

func TestRunStats_RoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "k", "h")
	require.NoError(t, err)

	stats := model.RunStats{
		RunID:           run.RunID,
		TotalSignatures: 10,
		RuleHit:         4,
		UnknownCount:    6,
		CostUSD:         0.42,
		Retry: model.RetrySummary{
			Attempts:        5,
			BackoffMsTotal:  1200,
			LastErrorCode:   "429",
			RateLimitEvents: 2,
		},
	}
	require.NoError(t, st.SaveRunStats(ctx, stats))

	got, err := st.GetRunStats(ctx, run.RunID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, stats, *got)

	// Saving again replaces.
	stats.CostUSD = 0.84
	require.NoError(t, st.SaveRunStats(ctx, stats))
	got, err = st.GetRunStats(ctx, run.RunID)
	require.NoError(t, err)
	assert.InDelta(t, 0.84, got.CostUSD, 1e-9)

	none, err := st.GetRunStats(ctx, "no-such-run")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestListRuns_NewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := st.CreateRun(ctx, fmt.Sprintf("run-%d", i), "h")
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	runs, err := st.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunKey)
	assert.Equal(t, "run-1", runs[1].RunKey)
}

func TestFlush(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertRecord(ctx, testRecord("a", model.StatusActive, model.SourceLLM)))
	assert.NoError(t, st.Flush(ctx))
}
