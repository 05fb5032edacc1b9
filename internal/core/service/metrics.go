package service

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"
)

type gauge struct {
	name    string
	counter *atomic.Uint64
}

func registerGauges(meter metric.Meter, log *logrus.Logger, gauges []gauge) {
	for _, g := range gauges {
		counter := g.counter
		_, err := meter.Int64ObservableGauge(
			g.name,
			metric.WithUnit("{ops}"),
			metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
				obs.Observe(int64(counter.Load()))
				return nil
			}),
		)
		if err != nil {
			log.Warnf("failed to register metric %s: %v", g.name, err)
		}
	}
}

func (s *SeckillService) RegisterMetrics(meter metric.Meter) {
	registerGauges(meter, s.log, []gauge{
		{"seckill_admit_success_total", &s.accepted},
		{"seckill_admit_sold_out_total", &s.soldOut},
		{"seckill_admit_duplicate_total", &s.duplicate},
		{"seckill_admit_outside_window_total", &s.outside},
	})
}

func (c *OrderConsumer) RegisterMetrics(meter metric.Meter) {
	registerGauges(meter, c.log, []gauge{
		{"order_consumer_processed_total", &c.processed},
		{"order_consumer_fail_total", &c.failed},
		{"order_consumer_recover_success_total", &c.recovered},
		{"order_consumer_dead_letter_total", &c.deadLettered},
		{"order_consumer_stuck_total", &c.stuck},
	})
}
