package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/shadowscan/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker drives the alert loop: collect a metrics window, evaluate it
// against thresholds, deliver whatever fires. One check runs immediately on
// start so a fresh deploy surfaces an already-breached threshold without
// waiting a full interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
}

// NewChecker wires a checker from config. A zero or negative interval falls
// back to five minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
	}
}

// Run blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring"))
	log.Info("health checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	c.check(ctx, log)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("health check failed", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("health check clean",
			zap.Int("runs_total", snap.RunsTotal),
			zap.Int("needs_review", snap.NeedsReviewCount),
			zap.Float64("cost_usd", snap.CostUSD),
		)
		return
	}

	delivered := c.alerter.SendAlerts(ctx, alerts)
	log.Warn("health check triggered alerts",
		zap.Int("triggered", len(alerts)),
		zap.Int("delivered", delivered),
	)
}
