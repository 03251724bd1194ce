package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/vegabridge/pkg/widget"
)

type recordingSender struct {
	msgs []widget.Message
}

func (r *recordingSender) Send(msg widget.Message) { r.msgs = append(r.msgs, msg) }

func TestMetricsTrackChannelLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	ch := widget.NewUpdateChannel(&recordingSender{}, widget.Specification{}, widget.WithObserver(m))
	ch.RequestUpdate(widget.NewUpdate("a"))
	ch.RequestUpdate(widget.NewUpdate("b"))
	ch.OnRemoteReady()
	ch.RequestUpdate(widget.NewUpdate("c"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.UpdatesQueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Flushes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UpdatesSent.WithLabelValues("flush")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpdatesSent.WithLabelValues("direct")))

	ch.ResetSpecification(widget.Specification{})
	ch.RequestUpdate(widget.NewUpdate("d"))
	ch.ResetSpecification(widget.Specification{})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Resets.WithLabelValues("live")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Resets.WithLabelValues("not_live")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpdatesDiscarded))

	count, err := testutil.GatherAndCount(reg, "vegabridge_flush_size")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewMetricsWithoutRegistry(t *testing.T) {
	m := NewMetrics(nil)
	m.Widgets.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Widgets))
}

type countingObserver struct {
	queued, sent, resets int
}

func (c *countingObserver) UpdateQueued(widget.UpdateRecord, int) { c.queued++ }
func (c *countingObserver) BatchSent([]widget.UpdateRecord, bool) { c.sent++ }
func (c *countingObserver) SpecificationReset(int, bool)          { c.resets++ }

func TestObserversFanOut(t *testing.T) {
	a, b := &countingObserver{}, &countingObserver{}
	obs := Observers{a, nil, b}

	obs.UpdateQueued(widget.NewUpdate("k"), 1)
	obs.BatchSent(nil, true)
	obs.SpecificationReset(0, false)

	for _, c := range []*countingObserver{a, b} {
		assert.Equal(t, 1, c.queued)
		assert.Equal(t, 1, c.sent)
		assert.Equal(t, 1, c.resets)
	}
}
