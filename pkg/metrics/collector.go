package metrics

import (
	"context"
	"time"

	"github.com/migadu/pop3d/logger"
)

// MetricsStats holds aggregate statistics returned by the database
type MetricsStats struct {
	TotalAccounts int64
	TotalMessages int64
	TotalBytes    int64
	ActiveLocks   int64
}

// StatsProvider is an interface for retrieving metrics statistics
type StatsProvider interface {
	GetMetricsStats(ctx context.Context) (*MetricsStats, error)
}

// Collector periodically collects and updates database-backed metrics
type Collector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 60 * time.Second // Default to 60 seconds
	}

	return &Collector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start(ctx context.Context) {
	c.collect(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	logger.Info("MetricsCollector started", "interval", c.interval)

	for {
		select {
		case <-ctx.Done():
			logger.Info("MetricsCollector stopping due to context cancellation")
			return
		case <-c.stopCh:
			logger.Info("MetricsCollector stopping due to stop signal")
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

// Stop signals the collector to stop
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect(ctx context.Context) {
	stats, err := c.provider.GetMetricsStats(ctx)
	if err != nil {
		logger.Error("MetricsCollector: error collecting metrics", "error", err)
		return
	}

	AccountsTotal.Set(float64(stats.TotalAccounts))
	StoredMessagesTotal.Set(float64(stats.TotalMessages))
	StoredBytesTotal.Set(float64(stats.TotalBytes))
	ActiveLocks.Set(float64(stats.ActiveLocks))

	logger.Debug("MetricsCollector: updated DB metrics", "accounts", stats.TotalAccounts,
		"messages", stats.TotalMessages, "bytes", stats.TotalBytes, "locks", stats.ActiveLocks)
}
