package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/shadowscan/internal/budget"
	"github.com/sells-group/shadowscan/internal/config"
	"github.com/sells-group/shadowscan/internal/cost"
	"github.com/sells-group/shadowscan/internal/model"
	"github.com/sells-group/shadowscan/internal/resilience"
	"github.com/sells-group/shadowscan/internal/taxonomy"
	"github.com/sells-group/shadowscan/pkg/llm"
)

// fakeProvider scripts responses per call. The script receives the 1-based
// call number and the prompt.
type fakeProvider struct {
	mu     sync.Mutex
	calls  int
	script func(call int, prompt string) (*llm.Response, error)

	prompts []string
}

func (f *fakeProvider) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()
	return f.script(call, req.Prompt)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var sigLinePattern = regexp.MustCompile(`url_signature=(\S+)`)

// validResponseFor answers every signature mentioned in the prompt with a
// schema-valid classification.
func validResponseFor(prompt string) *llm.Response {
	var items []map[string]any
	for _, m := range sigLinePattern.FindAllStringSubmatch(prompt, -1) {
		items = append(items, map[string]any{
			"url_signature": m[1],
			"service_name":  "Example SaaS",
			"usage_type":    "saas",
			"risk_level":    "moderate",
			"category":      "Collaboration",
			"confidence":    0.9,
			"rationale":     "host and path shape",
			"codes": map[string][]string{
				"FS": {"FS-004"}, "IM": {"IM-002"}, "UC": {"UC-005"},
				"DT": {"DT-002"}, "CH": {"CH-001"}, "RS": {"RS-002"}, "EV": {"EV-001"},
			},
		})
	}
	raw, _ := json.Marshal(map[string]any{"classifications": items})
	return &llm.Response{
		Text:  string(raw),
		Usage: llm.TokenUsage{InputTokens: 1000, OutputTokens: 500},
	}
}

// instantSleeper records requested delays without sleeping.
type instantSleeper struct {
	mu     sync.Mutex
	slept  int
	totalD time.Duration
}

func (s *instantSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slept++
	s.totalD += d
	return nil
}

func newTestClassifier(t *testing.T, provider llm.Provider, maxRetries int) *Classifier {
	t.Helper()
	c, err := New(
		provider,
		config.LLMConfig{
			Provider:     "anthropic",
			Providers:    map[string]config.ProviderConfig{"anthropic": {Model: "claude-test", InputPerMTok: 3, OutputPerMTok: 15}},
			MaxBatchSize: 20,
			MaxRetries:   maxRetries,
			Concurrency:  1,
		},
		budget.New(config.BudgetConfig{}),
		cost.NewCalculator(map[string]config.ProviderConfig{"anthropic": {InputPerMTok: 3, OutputPerMTok: 15}}),
		taxonomy.StaticSource{},
		"2026-01",
	)
	require.NoError(t, err)
	return c.WithBackoff(resilience.BackoffConfig{
		Initial: 10 * time.Millisecond, Max: 10 * time.Millisecond, Multiplier: 1, JitterFraction: 0,
	}, &instantSleeper{})
}

func testSigs(n int) []model.Signature {
	sigs := make([]model.Signature, n)
	for i := range sigs {
		sigs[i] = model.Signature{
			URLSignature: fmt.Sprintf("sig-%02d", i),
			Host:         fmt.Sprintf("app%d.example.com", i),
			PathTemplate: "/api/v1/data",
			MethodGroup:  model.MethodGroupGet,
			BytesBucket:  "T",
		}
	}
	return sigs
}

func TestAnalyzeBatch_Empty(t *testing.T) {
	p := &fakeProvider{script: func(int, string) (*llm.Response, error) {
		t.Fatal("no call expected")
		return nil, nil
	}}
	c := newTestClassifier(t, p, 3)

	result, err := c.AnalyzeBatch(context.Background(), nil, 20)
	require.NoError(t, err)
	assert.Empty(t, result.Classifications)
	assert.Zero(t, result.Retry.Attempts)
}

func TestAnalyzeBatch_Success(t *testing.T) {
	p := &fakeProvider{script: func(_ int, prompt string) (*llm.Response, error) {
		return validResponseFor(prompt), nil
	}}
	c := newTestClassifier(t, p, 3)

	sigs := testSigs(3)
	result, err := c.AnalyzeBatch(context.Background(), sigs, 20)
	require.NoError(t, err)

	require.Len(t, result.Classifications, 3)
	for _, rec := range result.Classifications {
		assert.Equal(t, model.StatusActive, rec.Status)
		assert.Equal(t, model.SourceLLM, rec.Source)
		assert.Equal(t, "Example SaaS", rec.ServiceName)
		assert.Equal(t, "2026-01", rec.StandardVersion)
	}
	assert.Equal(t, 1, result.Retry.Attempts)
	assert.Zero(t, result.Retry.RateLimitEvents)
	assert.InDelta(t, 3.0/1000+15.0/2000, result.CostUSD, 1e-9)
}

func TestAnalyzeBatch_429ThenSuccess(t *testing.T) {
	p := &fakeProvider{script: func(call int, prompt string) (*llm.Response, error) {
		if call == 1 {
			return nil, resilience.NewTransientError(errors.New("rate limited"), 429)
		}
		return validResponseFor(prompt), nil
	}}
	c := newTestClassifier(t, p, 3)

	sigs := testSigs(2)
	result, err := c.AnalyzeBatch(context.Background(), sigs, 20)
	require.NoError(t, err)

	// Every input signature comes back classified.
	require.Len(t, result.Classifications, 2)
	got := make(map[string]model.Status)
	for _, rec := range result.Classifications {
		got[rec.URLSignature] = rec.Status
	}
	for _, sig := range sigs {
		assert.Equal(t, model.StatusActive, got[sig.URLSignature], sig.URLSignature)
	}

	assert.GreaterOrEqual(t, result.Retry.RateLimitEvents, 1)
	assert.Equal(t, "429", result.Retry.LastErrorCode)
	assert.Positive(t, result.Retry.BackoffMsTotal)
	// One failed call on the full batch plus one per half.
	assert.Equal(t, 3, result.Retry.Attempts)
	assert.Equal(t, 3, p.callCount())
}

func TestAnalyzeBatch_HalvingFloorsAtOne(t *testing.T) {
	var failures int
	p := &fakeProvider{}
	p.script = func(_ int, prompt string) (*llm.Response, error) {
		if len(sigLinePattern.FindAllString(prompt, -1)) == 1 && failures < 1 {
			failures++
			return nil, resilience.NewTransientError(errors.New("rate limited"), 429)
		}
		if len(sigLinePattern.FindAllString(prompt, -1)) > 1 {
			return nil, resilience.NewTransientError(errors.New("rate limited"), 429)
		}
		return validResponseFor(prompt), nil
	}
	c := newTestClassifier(t, p, 3)

	result, err := c.AnalyzeBatch(context.Background(), testSigs(1), 20)
	require.NoError(t, err)
	require.Len(t, result.Classifications, 1)
	assert.Equal(t, model.StatusActive, result.Classifications[0].Status)
}

func TestAnalyzeBatch_TransientExhaustionIsNeedsReview(t *testing.T) {
	p := &fakeProvider{script: func(int, string) (*llm.Response, error) {
		return nil, resilience.NewTransientError(errors.New("rate limited"), 429)
	}}
	c := newTestClassifier(t, p, 1)

	result, err := c.AnalyzeBatch(context.Background(), testSigs(1), 20)
	require.NoError(t, err)

	require.Len(t, result.Classifications, 1)
	rec := result.Classifications[0]
	assert.Equal(t, model.StatusNeedsReview, rec.Status, "rate-limit exhaustion is never failed_permanent")
	assert.Equal(t, "unknown", rec.ServiceName)
	assert.Zero(t, rec.Confidence)

	// Placeholder codes use the per-dimension fallbacks.
	assert.Equal(t, []string{"FS-099"}, rec.Codes[model.DimFunctionalScope])
	assert.Equal(t, []string{"RS-099"}, rec.Codes[model.DimRisk])
	assert.Empty(t, rec.Codes[model.DimObservation])
}

func TestAnalyzeBatch_ValidationRetryWithCorrectivePrompt(t *testing.T) {
	p := &fakeProvider{}
	p.script = func(call int, prompt string) (*llm.Response, error) {
		if call == 1 {
			return &llm.Response{Text: "this is not json"}, nil
		}
		return validResponseFor(prompt), nil
	}
	c := newTestClassifier(t, p, 3)

	result, err := c.AnalyzeBatch(context.Background(), testSigs(1), 20)
	require.NoError(t, err)

	require.Len(t, result.Classifications, 1)
	assert.Equal(t, model.StatusActive, result.Classifications[0].Status)
	assert.Equal(t, 2, result.Retry.Attempts)

	require.Len(t, p.prompts, 2)
	assert.NotContains(t, p.prompts[0], "rejected")
	assert.Contains(t, p.prompts[1], "Your previous response was rejected")
}

func TestAnalyzeBatch_ValidationExhaustionIsFailedPermanent(t *testing.T) {
	p := &fakeProvider{script: func(int, string) (*llm.Response, error) {
		return &llm.Response{Text: `{"classifications": "wrong shape"}`}, nil
	}}
	c := newTestClassifier(t, p, 1)

	result, err := c.AnalyzeBatch(context.Background(), testSigs(2), 20)
	require.NoError(t, err)

	require.Len(t, result.Classifications, 2)
	for _, rec := range result.Classifications {
		assert.Equal(t, model.StatusFailedPermanent, rec.Status)
	}
	assert.Equal(t, "validation", result.Retry.LastErrorCode)
}

func TestAnalyzeBatch_FatalProviderErrorIsFailedPermanent(t *testing.T) {
	p := &fakeProvider{script: func(int, string) (*llm.Response, error) {
		return nil, resilience.NewFatalError(errors.New("invalid api key"), resilience.FatalAuth)
	}}
	c := newTestClassifier(t, p, 3)

	result, err := c.AnalyzeBatch(context.Background(), testSigs(1), 20)
	require.NoError(t, err)

	require.Len(t, result.Classifications, 1)
	assert.Equal(t, model.StatusFailedPermanent, result.Classifications[0].Status)
	assert.Equal(t, 1, p.callCount(), "fatal errors are not retried")
}

func TestAnalyzeBatch_BudgetRefusalIsNeedsReview(t *testing.T) {
	p := &fakeProvider{script: func(int, string) (*llm.Response, error) {
		t.Fatal("refused batches must not dispatch")
		return nil, nil
	}}
	c, err := New(
		p,
		config.LLMConfig{Provider: "anthropic", Providers: map[string]config.ProviderConfig{}, MaxRetries: 3, Concurrency: 1},
		budget.New(config.BudgetConfig{DailyLimitUSD: 0.001, EstimatePerSignatureUSD: 1.0}),
		cost.NewCalculator(nil),
		taxonomy.StaticSource{},
		"2026-01",
	)
	require.NoError(t, err)

	result, err := c.AnalyzeBatch(context.Background(), testSigs(2), 20)
	require.NoError(t, err)

	require.Len(t, result.Classifications, 2)
	for _, rec := range result.Classifications {
		assert.Equal(t, model.StatusNeedsReview, rec.Status)
		assert.Contains(t, rec.Rationale, "budget")
	}
	assert.Zero(t, result.Retry.Attempts)
}

func TestAnalyzeBatch_SplitsAtMaxBatchSize(t *testing.T) {
	p := &fakeProvider{script: func(_ int, prompt string) (*llm.Response, error) {
		assert.LessOrEqual(t, len(sigLinePattern.FindAllString(prompt, -1)), 2)
		return validResponseFor(prompt), nil
	}}
	c, err := New(
		p,
		config.LLMConfig{Provider: "anthropic", Providers: map[string]config.ProviderConfig{}, MaxBatchSize: 2, MaxRetries: 3, Concurrency: 1},
		budget.New(config.BudgetConfig{}),
		cost.NewCalculator(nil),
		taxonomy.StaticSource{},
		"2026-01",
	)
	require.NoError(t, err)

	result, err := c.AnalyzeBatch(context.Background(), testSigs(5), 0)
	require.NoError(t, err)
	assert.Len(t, result.Classifications, 5)
	assert.Equal(t, 3, p.callCount())
}

func TestAnalyzeBatch_AbortedBeforeDispatch(t *testing.T) {
	p := &fakeProvider{script: func(int, string) (*llm.Response, error) {
		t.Fatal("no call expected on a cancelled context")
		return nil, nil
	}}
	c := newTestClassifier(t, p, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := c.AnalyzeBatch(ctx, testSigs(3), 20)
	require.NoError(t, err)
	require.Len(t, result.Classifications, 3)
	for _, rec := range result.Classifications {
		assert.Equal(t, model.StatusNeedsReview, rec.Status)
	}
}

func TestParseResponse_RejectsBadPayloads(t *testing.T) {
	sigs := testSigs(2)
	src := taxonomy.StaticSource{}

	valid := validResponseFor(
		"url_signature=sig-00 \nurl_signature=sig-01 ",
	).Text

	_, err := parseResponse(valid, sigs, src, "2026-01")
	require.NoError(t, err)

	cases := map[string]string{
		"not json":        "hello",
		"unknown sig":     strings.ReplaceAll(valid, "sig-01", "sig-99"),
		"duplicate sig":   strings.ReplaceAll(valid, "sig-01", "sig-00"),
		"missing codes":   `{"classifications":[{"url_signature":"sig-00","service_name":"X","confidence":0.5,"codes":{}}]}`,
		"bad confidence":  strings.ReplaceAll(valid, "0.9", "1.9"),
		"foreign code":    strings.ReplaceAll(valid, "FS-004", "FS-777"),
		"partial cover":   `{"classifications":[]}`,
		"unknown field":   strings.Replace(valid, `"codes"`, `"extra":1,"codes"`, 1),
		"bogus dimension": strings.Replace(valid, `"CH"`, `"ZZ":["junk"],"CH"`, 1),
	}
	for name, text := range cases {
		_, err := parseResponse(text, sigs, src, "2026-01")
		assert.Error(t, err, name)
	}
}

func TestParseResponse_StripsMarkdownFences(t *testing.T) {
	sigs := testSigs(1)
	valid := validResponseFor("url_signature=sig-00 ").Text

	fenced := "```json\n" + valid + "\n```"
	recs, err := parseResponse(fenced, sigs, taxonomy.StaticSource{}, "2026-01")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	prosed := "Here is the result:\n" + valid + "\nLet me know if you need more."
	recs, err = parseResponse(prosed, sigs, taxonomy.StaticSource{}, "2026-01")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
