// Package telemetry exposes Prometheus metrics and OpenTelemetry tracing for
// widgets and their transports.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odvcencio/vegabridge/pkg/widget"
)

const namespace = "vegabridge"

// Metrics holds the collectors for one registry.
type Metrics struct {
	UpdatesQueued    prometheus.Counter
	UpdatesSent      *prometheus.CounterVec
	Flushes          prometheus.Counter
	FlushSize        prometheus.Histogram
	Resets           *prometheus.CounterVec
	UpdatesDiscarded prometheus.Counter
	Widgets          prometheus.Gauge
	ViewClients      prometheus.Gauge
	ClientsDropped   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpdatesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_queued_total",
			Help:      "Updates held because the view had not announced itself yet.",
		}),
		UpdatesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_sent_total",
			Help:      "Updates handed to a channel, by how they were sent.",
		}, []string{"mode"}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Held update batches flushed on a display message.",
		}),
		FlushSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_size",
			Help:      "Number of updates per flushed batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		Resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spec_resets_total",
			Help:      "Specification or option replacements, by prior channel state.",
		}, []string{"state"}),
		UpdatesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_discarded_total",
			Help:      "Held updates dropped by a specification replacement.",
		}),
		Widgets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "widgets",
			Help:      "Widgets currently registered.",
		}),
		ViewClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "view_clients",
			Help:      "Connected websocket views.",
		}),
		ClientsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_clients_dropped_total",
			Help:      "Views disconnected for falling behind.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.UpdatesQueued, m.UpdatesSent, m.Flushes, m.FlushSize,
			m.Resets, m.UpdatesDiscarded, m.Widgets, m.ViewClients, m.ClientsDropped,
		)
	}
	return m
}

var _ widget.Observer = (*Metrics)(nil)

func (m *Metrics) UpdateQueued(widget.UpdateRecord, int) {
	m.UpdatesQueued.Inc()
}

func (m *Metrics) BatchSent(batch []widget.UpdateRecord, flush bool) {
	if flush {
		m.Flushes.Inc()
		m.FlushSize.Observe(float64(len(batch)))
		m.UpdatesSent.WithLabelValues("flush").Add(float64(len(batch)))
		return
	}
	m.UpdatesSent.WithLabelValues("direct").Add(float64(len(batch)))
}

func (m *Metrics) SpecificationReset(discarded int, wasLive bool) {
	m.Resets.WithLabelValues(boolToState(wasLive).String()).Inc()
	m.UpdatesDiscarded.Add(float64(discarded))
}

func boolToState(live bool) widget.ChannelState {
	if live {
		return widget.Live
	}
	return widget.NotLive
}
