package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/shepherd-cms/shepherd/pkg/configs"
)

const defaultCollectInterval = 30 * time.Second

// StatsProvider supplies store aggregates for gauge refreshes.
type StatsProvider interface {
	Stats(ctx context.Context) (*configs.UsageStats, error)
}

// Collector periodically refreshes configuration gauges from store
// aggregates. It runs independently of the write path and is stoppable
// without affecting in-flight operations.
type Collector struct {
	store    StatsProvider
	sink     Sink
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCollector creates a Collector. interval <= 0 selects the default.
func NewCollector(store StatsProvider, sink Sink, interval time.Duration, logger *slog.Logger) *Collector {
	if interval <= 0 {
		interval = defaultCollectInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		store:    store,
		sink:     sink,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the refresh goroutine. It refreshes once immediately
// and then on every tick until Close is called.
func (c *Collector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)

		c.refresh(ctx)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.refresh(ctx)
			}
		}
	}()
}

// Close stops the refresh goroutine and waits for it to exit. It is
// safe to call Close even if Start was never called.
func (c *Collector) Close() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

func (c *Collector) refresh(ctx context.Context) {
	stats, err := c.store.Stats(ctx)
	if err != nil {
		c.logger.Warn("refreshing config metrics failed", "error", err)
		return
	}

	for _, row := range stats.AppEnvCounts {
		c.sink.SetGauge(GaugeConfigTotal, map[string]string{
			"app_name":    row.AppName,
			"environment": row.Environment,
		}, float64(row.Count))
	}
	for _, usage := range stats.Configs {
		labels := map[string]string{"config_id": usage.ConfigID}
		c.sink.SetGauge(GaugeConfigVersions, labels, float64(usage.Versions))
		c.sink.SetGauge(GaugeLatestVersion, labels, float64(usage.LatestVersion))
	}
	c.logger.Debug("refreshed config metrics", "configs", len(stats.Configs))
}
