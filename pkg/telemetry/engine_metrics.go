package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics bundles the counters the storage engine reports.
type EngineMetrics struct {
	PoolHits      metric.Int64Counter
	PoolMisses    metric.Int64Counter
	PoolEvictions metric.Int64Counter
	DiskReads     metric.Int64Counter
	DiskWrites    metric.Int64Counter
	TreeSplits    metric.Int64Counter
	TreeCoalesces metric.Int64Counter
}

// NewEngineMetrics registers the engine counters on the given meter.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	m := &EngineMetrics{}
	var err error
	if m.PoolHits, err = meter.Int64Counter("soradb_buffer_pool_hits",
		metric.WithDescription("Pages served from a resident frame")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.PoolMisses, err = meter.Int64Counter("soradb_buffer_pool_misses",
		metric.WithDescription("Pages that required a disk read")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.PoolEvictions, err = meter.Int64Counter("soradb_buffer_pool_evictions",
		metric.WithDescription("Frames reclaimed through the replacer")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.DiskReads, err = meter.Int64Counter("soradb_disk_reads",
		metric.WithDescription("Page reads issued to the disk manager")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.DiskWrites, err = meter.Int64Counter("soradb_disk_writes",
		metric.WithDescription("Page writes issued to the disk manager")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.TreeSplits, err = meter.Int64Counter("soradb_bptree_splits",
		metric.WithDescription("Node splits performed by the index")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.TreeCoalesces, err = meter.Int64Counter("soradb_bptree_coalesces",
		metric.WithDescription("Node merges performed by the index")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	return m, nil
}
