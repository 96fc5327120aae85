package waitlist

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

type directorMetrics struct {
	queues   metric.Int64ObservableGauge
	queued   metric.Int64ObservableGauge
	active   metric.Int64ObservableGauge
	expired  metric.Int64ObservableGauge
	promoted metric.Int64ObservableGauge
}

// RegisterMetrics installs OTel observable gauges sampling the director's
// last-sweep counters. Safe to call at most once per Director; callers
// typically do this right after NewDirector, before Start.
func (d *Director) RegisterMetrics(logger pslog.Logger) {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	meter := otel.Meter("pkt.systems/waitlist")
	m := &directorMetrics{}
	var err error

	m.queues, err = meter.Int64ObservableGauge(
		"waitlist.director.queues",
		metric.WithDescription("Distinct (server, scope, id) queues observed in the last sweep"),
	)
	logDirectorMetricInitError(logger, "waitlist.director.queues", err)

	m.queued, err = meter.Int64ObservableGauge(
		"waitlist.director.queued",
		metric.WithDescription("Tickets in status queued after the last sweep"),
	)
	logDirectorMetricInitError(logger, "waitlist.director.queued", err)

	m.active, err = meter.Int64ObservableGauge(
		"waitlist.director.active",
		metric.WithDescription("Tickets in status active after the last sweep"),
	)
	logDirectorMetricInitError(logger, "waitlist.director.active", err)

	m.expired, err = meter.Int64ObservableGauge(
		"waitlist.director.expired_last_sweep",
		metric.WithDescription("Tickets transitioned to expired during the last sweep"),
	)
	logDirectorMetricInitError(logger, "waitlist.director.expired_last_sweep", err)

	m.promoted, err = meter.Int64ObservableGauge(
		"waitlist.director.promoted_last_sweep",
		metric.WithDescription("Tickets transitioned to active during the last sweep"),
	)
	logDirectorMetricInitError(logger, "waitlist.director.promoted_last_sweep", err)

	if _, err := meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		d.observeMetrics(ctx, o, m)
		return nil
	}, m.queues, m.queued, m.active, m.expired, m.promoted); err != nil {
		logger.Warn("telemetry.metric.callback_failed", "name", "waitlist.director", "error", err)
	}
}

func (d *Director) observeMetrics(_ context.Context, o metric.Observer, m *directorMetrics) {
	stats := d.Stats()
	o.ObserveInt64(m.queues, int64(stats.queues))
	o.ObserveInt64(m.queued, int64(stats.queued))
	o.ObserveInt64(m.active, int64(stats.active))
	o.ObserveInt64(m.expired, int64(stats.expired))
	o.ObserveInt64(m.promoted, int64(stats.promoted))
}

func logDirectorMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
