package llm

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/shadowscan/internal/config"
	"github.com/sells-group/shadowscan/internal/resilience"
)

// AnthropicProvider implements Provider using the official anthropic-sdk-go.
type AnthropicProvider struct {
	client  sdk.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
}

// NewAnthropic creates a provider from config. The API key is resolved from
// the configured environment variable; a missing key is fatal at startup.
func NewAnthropic(cfg config.ProviderConfig) (*AnthropicProvider, error) {
	envVar := cfg.AuthEnvVar
	if envVar == "" {
		envVar = "ANTHROPIC_API_KEY"
	}
	apiKey := os.Getenv(envVar)
	if apiKey == "" {
		return nil, eris.Errorf("llm: %s is not set", envVar)
	}

	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1)
	}

	return &AnthropicProvider{
		client:  sdk.NewClient(option.WithAPIKey(apiKey)),
		model:   cfg.Model,
		timeout: timeout,
		limiter: limiter,
	}, nil
}

// Complete sends one message and returns the text response. Rate-limit and
// server errors come back as resilience.TransientError; auth rejections as
// resilience.FatalError. A per-call timeout applies; its expiry is treated
// like a rate limit by the caller.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "llm: rate wait")
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = p.model
	}

	system := req.System
	if len(req.Schema) > 0 {
		// Structured-output hint: the sanitized schema rides along in the
		// system block.
		system += "\n\nRespond with JSON matching this schema:\n" + string(req.Schema)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: req.MaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(callCtx, params)
	if err != nil {
		return nil, classifyCallError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Response{
		Text: text.String(),
		Usage: TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}

// classifyCallError maps SDK errors onto the transient/fatal split the retry
// loop consumes.
func classifyCallError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return resilience.NewFatalError(eris.Wrap(err, "llm: auth rejected"), resilience.FatalAuth)
		case resilience.IsTransientHTTPStatus(apiErr.StatusCode):
			return resilience.NewTransientError(eris.Wrap(err, "llm: transient api error"), apiErr.StatusCode)
		default:
			return eris.Wrap(err, "llm: api error")
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		// Per-call timeout: same handling as a rate limit.
		return resilience.NewTransientError(eris.Wrap(err, "llm: call timed out"), 408)
	}

	return eris.Wrap(err, "llm: create message")
}
