package cost

import "github.com/sells-group/shadowscan/internal/config"

// Calculator computes USD costs for LLM token usage from the configured
// provider pricing table.
type Calculator struct {
	providers map[string]config.ProviderConfig
}

// NewCalculator creates a Calculator over the provider table.
func NewCalculator(providers map[string]config.ProviderConfig) *Calculator {
	return &Calculator{providers: providers}
}

// Call computes the cost of one completed call. Unknown providers cost 0.
func (c *Calculator) Call(provider string, inputTokens, outputTokens int64) float64 {
	p, ok := c.providers[provider]
	if !ok {
		return 0
	}
	inCost := (float64(inputTokens) / 1e6) * p.InputPerMTok
	outCost := (float64(outputTokens) / 1e6) * p.OutputPerMTok
	return inCost + outCost
}
