package budget

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/shadowscan/internal/config"
)

// Controller enforces the daily spend limit. It is shared mutable state
// across concurrently dispatched batches: Reserve performs check-then-debit
// in a single critical section so racing batches cannot jointly overspend.
type Controller struct {
	mu          sync.Mutex
	limitUSD    float64
	estimateUSD float64
	spentUSD    float64
	day         time.Time
	now         func() time.Time
}

// New creates a Controller from config.
func New(cfg config.BudgetConfig) *Controller {
	return &Controller{
		limitUSD:    cfg.DailyLimitUSD,
		estimateUSD: cfg.EstimatePerSignatureUSD,
		now:         time.Now,
	}
}

// Reserve debits the estimated cost for a batch of n signatures, refusing
// (and debiting nothing) when the daily limit would be exceeded. A zero or
// negative limit disables enforcement.
func (c *Controller) Reserve(n int) (float64, bool) {
	estimate := float64(n) * c.estimateUSD

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover()

	if c.limitUSD > 0 && c.spentUSD+estimate > c.limitUSD {
		zap.L().Warn("budget: dispatch refused",
			zap.Float64("spent_usd", c.spentUSD),
			zap.Float64("estimate_usd", estimate),
			zap.Float64("limit_usd", c.limitUSD),
		)
		return 0, false
	}
	c.spentUSD += estimate
	return estimate, true
}

// Settle replaces a reservation with the actual cost of the completed call.
func (c *Controller) Settle(reserved, actual float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover()
	c.spentUSD += actual - reserved
	if c.spentUSD < 0 {
		c.spentUSD = 0
	}
}

// Release returns an unused reservation (e.g. the call never dispatched).
func (c *Controller) Release(reserved float64) {
	c.Settle(reserved, 0)
}

// SpentToday reports the current day's debited spend.
func (c *Controller) SpentToday() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover()
	return c.spentUSD
}

// rollover resets the counter at the UTC day boundary. Callers hold c.mu.
func (c *Controller) rollover() {
	today := c.now().UTC().Truncate(24 * time.Hour)
	if !today.Equal(c.day) {
		c.day = today
		c.spentUSD = 0
	}
}
