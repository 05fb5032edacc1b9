package cache

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"
)

// Stats counts cache outcomes. One Stats may be shared by several caches.
type Stats struct {
	hits            atomic.Uint64
	nullHits        atomic.Uint64
	staleHits       atomic.Uint64
	misses          atomic.Uint64
	rebuilds        atomic.Uint64
	rebuildFailures atomic.Uint64
}

func (s *Stats) Hits() uint64            { return s.hits.Load() }
func (s *Stats) NullHits() uint64        { return s.nullHits.Load() }
func (s *Stats) StaleHits() uint64       { return s.staleHits.Load() }
func (s *Stats) Misses() uint64          { return s.misses.Load() }
func (s *Stats) Rebuilds() uint64        { return s.rebuilds.Load() }
func (s *Stats) RebuildFailures() uint64 { return s.rebuildFailures.Load() }

// RegisterMetrics exposes the counters of stats and pool as observable gauges.
func RegisterMetrics(meter metric.Meter, stats *Stats, pool *RebuildPool, log *logrus.Logger) {
	gauges := []struct {
		name string
		load func() uint64
	}{
		{"cache_hit_total", stats.Hits},
		{"cache_null_hit_total", stats.NullHits},
		{"cache_stale_hit_total", stats.StaleHits},
		{"cache_miss_total", stats.Misses},
		{"cache_rebuild_success_total", stats.Rebuilds},
		{"cache_rebuild_fail_total", stats.RebuildFailures},
		{"cache_rebuild_rejected_total", pool.rejected.Load},
		{"cache_rebuild_panic_total", pool.panicked.Load},
	}

	for _, g := range gauges {
		load := g.load
		_, err := meter.Int64ObservableGauge(
			g.name,
			metric.WithUnit("{ops}"),
			metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
				obs.Observe(int64(load()))
				return nil
			}),
		)
		if err != nil {
			log.Warnf("[Cache] failed to register metric %s: %v", g.name, err)
		}
	}
}
