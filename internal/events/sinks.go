package events

import (
	goevents "github.com/docker/go-events"
	metrics "github.com/docker/go-metrics"

	"github.com/aleybovich/carrot-broker/logger"
)

var (
	eventsTotal     metrics.LabeledCounter
	connectionsOpen metrics.Gauge
	channelsOpen    metrics.Gauge
	queuesDeclared  metrics.Gauge
)

func init() {
	ns := metrics.NewNamespace("carrot", "broker", nil)
	eventsTotal = ns.NewLabeledCounter("events", "The number of broker events by id", "event")
	connectionsOpen = ns.NewGauge("connections", "The number of open client connections", metrics.Total)
	channelsOpen = ns.NewGauge("channels", "The number of open channels", metrics.Total)
	queuesDeclared = ns.NewGauge("queues", "The number of declared queues", metrics.Total)
	metrics.Register(ns)
}

// MetricsSink turns events into prometheus counters and gauges.
type MetricsSink struct{}

func (MetricsSink) Write(event goevents.Event) error {
	ev, ok := event.(Event)
	if !ok {
		return nil
	}
	eventsTotal.WithValues(ev.ID).Inc()
	switch ev.ID {
	case ConnectionOpened:
		connectionsOpen.Inc()
	case ConnectionClosed:
		connectionsOpen.Dec()
	case ChannelOpened:
		channelsOpen.Inc()
	case ChannelClosed:
		channelsOpen.Dec()
	case QueueCreated:
		queuesDeclared.Inc()
	case QueueDeleted:
		queuesDeclared.Dec()
	}
	return nil
}

func (MetricsSink) Close() error { return nil }

// LogSink writes every event at debug level.
type LogSink struct {
	Logger logger.Logger
}

func (s LogSink) Write(event goevents.Event) error {
	if ev, ok := event.(Event); ok {
		s.Logger.Debug("Event %s %v", ev.ID, ev.Props)
	}
	return nil
}

func (LogSink) Close() error { return nil }

// FuncSink adapts a function, handy for tests and embedders.
type FuncSink func(Event)

func (f FuncSink) Write(event goevents.Event) error {
	if ev, ok := event.(Event); ok {
		f(ev)
	}
	return nil
}

func (FuncSink) Close() error { return nil }
