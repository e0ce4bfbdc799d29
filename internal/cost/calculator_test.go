package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/shadowscan/internal/config"
)

func TestCall(t *testing.T) {
	calc := NewCalculator(map[string]config.ProviderConfig{
		"anthropic": {InputPerMTok: 3.0, OutputPerMTok: 15.0},
	})

	assert.InDelta(t, 0.0, calc.Call("anthropic", 0, 0), 1e-12)
	assert.InDelta(t, 3.0, calc.Call("anthropic", 1_000_000, 0), 1e-9)
	assert.InDelta(t, 15.0, calc.Call("anthropic", 0, 1_000_000), 1e-9)
	assert.InDelta(t, 0.018, calc.Call("anthropic", 1000, 1000), 1e-9)
}

func TestCall_UnknownProvider(t *testing.T) {
	calc := NewCalculator(nil)
	assert.Zero(t, calc.Call("nope", 1_000_000, 1_000_000))
}
