package db

import (
	"context"
	"fmt"

	"github.com/migadu/pop3d/pkg/metrics"
)

// GetMetricsStats returns the aggregate counts exported by metrics.Collector.
func (d *Database) GetMetricsStats(ctx context.Context) (*metrics.MetricsStats, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	stats := &metrics.MetricsStats{}
	if err := d.TimedQueryRow(ctx, "metrics_accounts", `SELECT COUNT(*) FROM accounts`).Scan(&stats.TotalAccounts); err != nil {
		return nil, fmt.Errorf("failed to count accounts: %w", err)
	}
	if err := d.TimedQueryRow(ctx, "metrics_messages",
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM messages`).Scan(&stats.TotalMessages, &stats.TotalBytes); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	if err := d.TimedQueryRow(ctx, "metrics_locks", `SELECT COUNT(*) FROM maildrop_locks`).Scan(&stats.ActiveLocks); err != nil {
		return nil, fmt.Errorf("failed to count locks: %w", err)
	}
	return stats, nil
}
